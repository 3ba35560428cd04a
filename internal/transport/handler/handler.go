package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
	"github.com/framecast/compilation-service/internal/usecase"
)

// Handler is the thin request-facing surface over the core operations.
// Validation here is limited to shaping; the ledger and coordinator enforce
// the real invariants.
type Handler struct {
	dispatch  *usecase.DispatchUseCase
	status    *usecase.StatusUseCase
	frames    port.FrameStore
	logger    *zap.Logger
	validator *validator.Validate

	maxUploadBytes int64
	defaultFPS     int
	defaultFormat  string
	defaultQuality entity.Quality
}

type Config struct {
	MaxUploadBytes int64
	DefaultFPS     int
	DefaultFormat  string
	DefaultQuality entity.Quality
}

func New(dispatch *usecase.DispatchUseCase, status *usecase.StatusUseCase, frames port.FrameStore, logger *zap.Logger, cfg Config) *Handler {
	return &Handler{
		dispatch:       dispatch,
		status:         status,
		frames:         frames,
		logger:         logger,
		validator:      validator.New(),
		maxUploadBytes: cfg.MaxUploadBytes,
		defaultFPS:     cfg.DefaultFPS,
		defaultFormat:  cfg.DefaultFormat,
		defaultQuality: cfg.DefaultQuality,
	}
}

type createRequestBody struct {
	RequestID    string `json:"request_id,omitempty"`
	TotalFrames  int    `json:"total_frames"   validate:"required,min=1"`
	OutputFormat string `json:"output_format,omitempty" validate:"omitempty,oneof=mp4 webm mov"`
	FPS          int    `json:"fps,omitempty"  validate:"omitempty,min=1,max=120"`
	Quality      string `json:"quality,omitempty" validate:"omitempty,oneof=low medium high ultra"`
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	quality := h.defaultQuality
	if body.Quality != "" {
		quality = entity.Quality(body.Quality)
	}
	format := body.OutputFormat
	if format == "" {
		format = h.defaultFormat
	}
	fps := body.FPS
	if fps <= 0 {
		fps = h.defaultFPS
	}

	req, err := h.dispatch.CreateRequest(r.Context(), usecase.CreateRequestParams{
		RequestID:    body.RequestID,
		TotalFrames:  body.TotalFrames,
		OutputFormat: format,
		FPS:          fps,
		Quality:      quality,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id":   req.RequestID,
		"total_frames": req.TotalFrames,
		"status":       req.Status,
	})
}

func (h *Handler) UploadFrame(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	frameNumber, err := strconv.Atoi(chi.URLParam(r, "frameNumber"))
	if err != nil || frameNumber < 1 {
		writeJSONError(w, http.StatusBadRequest, "invalid frame number")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "frame exceeds upload limit")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read frame body")
		return
	}
	if mime := mimetype.Detect(data); !strings.HasPrefix(mime.String(), "image/") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "frame must be an image, got "+mime.String())
		return
	}

	key, err := h.frames.PutFrame(r.Context(), requestID, frameNumber, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		h.logger.Error("frame upload failed",
			zap.String("request_id", requestID),
			zap.Int("frame_number", frameNumber),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusBadGateway, "frame storage unavailable")
		return
	}

	received, dispatched, err := h.dispatch.RecordFrame(r.Context(), requestID, frameNumber, key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":      requestID,
		"frame_number":    frameNumber,
		"frames_received": received,
		"dispatched":      dispatched,
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.status.GetStatus(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := port.RequestFilter{
		Status: entity.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	requests, err := h.status.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	if err := h.dispatch.Retry(r.Context(), requestID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": requestID,
		"status":     entity.StatusQueued,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.status.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entity.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrOutOfRange), errors.Is(err, entity.ErrInvalidTransition):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entity.ErrTransientIO):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func validationErrorsToMap(err error) map[string]string {
	errs := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			errs[strings.ToLower(fe.Field())] = "failed " + fe.Tag() + " validation"
		}
	} else {
		errs["error"] = err.Error()
	}
	return errs
}
