package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Ledger is the durable request/frame store. Per-request atomicity is
// carried by single-statement updates: the frame counter bump and every
// status change are one conditional UPDATE each, so concurrent callers
// serialize on the row without any application-level locking.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) CreateRequest(ctx context.Context, req *entity.VideoRequest) error {
	const q = `
		INSERT INTO video_requests (
			request_id, total_frames, frames_received, status,
			output_format, fps, quality, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := l.pool.Exec(ctx, q,
		req.RequestID, req.TotalFrames, req.FramesReceived, string(req.Status),
		req.OutputFormat, req.FPS, string(req.Quality), req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("request %s already exists: %w", req.RequestID, entity.ErrConflict)
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (l *Ledger) RecordFrame(ctx context.Context, requestID string, frameNumber int, storageKey string) (int, int, error) {
	var total int
	err := l.pool.QueryRow(ctx,
		`SELECT total_frames FROM video_requests WHERE request_id = $1`, requestID,
	).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, fmt.Errorf("request %s: %w", requestID, entity.ErrNotFound)
		}
		return 0, 0, fmt.Errorf("load request: %w", err)
	}
	if frameNumber < 1 || frameNumber > total {
		return 0, total, fmt.Errorf("frame %d of %d: %w", frameNumber, total, entity.ErrOutOfRange)
	}

	// Insert and counter bump in one statement: the duplicate slot inserts
	// nothing, so the counter moves only on the first recording.
	const q = `
		WITH ins AS (
			INSERT INTO frames (request_id, frame_number, storage_key, uploaded_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (request_id, frame_number) DO NOTHING
			RETURNING 1
		)
		UPDATE video_requests
		SET frames_received = frames_received + (SELECT count(*) FROM ins),
		    updated_at = now()
		WHERE request_id = $1
		RETURNING frames_received`

	var received int
	if err := l.pool.QueryRow(ctx, q, requestID, frameNumber, storageKey).Scan(&received); err != nil {
		return 0, total, fmt.Errorf("record frame: %w", err)
	}
	return received, total, nil
}

func (l *Ledger) Transition(ctx context.Context, requestID string, from, to entity.Status, fields port.StatusFields) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, entity.ErrInvalidTransition)
	}

	// The WHERE status=$2 clause is the compare-and-set: at most one of N
	// concurrent callers updates the row.
	const q = `
		UPDATE video_requests SET
			status = $3,
			video_url = CASE WHEN $3 = 'completed' THEN $4 ELSE NULL END,
			error_message = CASE WHEN $3 = 'failed' THEN $5 ELSE NULL END,
			compilation_time = COALESCE($6, compilation_time),
			completed_at = CASE WHEN $3 = 'completed' THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE request_id = $1 AND status = $2`

	tag, err := l.pool.Exec(ctx, q,
		requestID, string(from), string(to),
		nullIfEmpty(fields.VideoURL), nullIfEmpty(fields.ErrorMessage),
		nullIfZero(fields.CompilationTime),
	)
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := l.pool.QueryRow(ctx,
			`SELECT status FROM video_requests WHERE request_id = $1`, requestID,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("request %s: %w", requestID, entity.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load request status: %w", err)
		}
		return fmt.Errorf("expected %s, found %s: %w", from, current, entity.ErrConflict)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, requestID string) (*entity.VideoRequest, error) {
	const q = `
		SELECT request_id, total_frames, frames_received, status,
			output_format, fps, quality, video_url, error_message,
			compilation_time, created_at, updated_at, completed_at
		FROM video_requests WHERE request_id = $1`

	req, err := scanRequest(l.pool.QueryRow(ctx, q, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("request %s: %w", requestID, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

func (l *Ledger) List(ctx context.Context, filter port.RequestFilter) ([]*entity.VideoRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT request_id, total_frames, frames_received, status,
			output_format, fps, quality, video_url, error_message,
			compilation_time, created_at, updated_at, completed_at
		FROM video_requests`
	args := []any{}
	if filter.Status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.VideoRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*entity.VideoRequest, error) {
	req := &entity.VideoRequest{}
	var status, quality string
	var videoURL, errorMessage *string
	var compilationTime *float64

	err := row.Scan(
		&req.RequestID, &req.TotalFrames, &req.FramesReceived, &status,
		&req.OutputFormat, &req.FPS, &quality, &videoURL, &errorMessage,
		&compilationTime, &req.CreatedAt, &req.UpdatedAt, &req.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = entity.Status(status)
	req.Quality = entity.Quality(quality)
	if videoURL != nil {
		req.VideoURL = *videoURL
	}
	if errorMessage != nil {
		req.ErrorMessage = *errorMessage
	}
	if compilationTime != nil {
		req.CompilationTime = *compilationTime
	}
	return req, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

var _ port.Ledger = (*Ledger)(nil)
