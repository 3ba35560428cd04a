// Package memory holds in-memory implementations of the ledger and job
// queue with the same semantics as their durable counterparts. They back the
// unit tests and single-node development runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
)

type Ledger struct {
	mu       sync.Mutex
	requests map[string]*entity.VideoRequest
	frames   map[string]map[int]string // requestID -> frameNumber -> storage key
}

func NewLedger() *Ledger {
	return &Ledger{
		requests: make(map[string]*entity.VideoRequest),
		frames:   make(map[string]map[int]string),
	}
}

func (l *Ledger) CreateRequest(_ context.Context, req *entity.VideoRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.requests[req.RequestID]; ok {
		return fmt.Errorf("request %s already exists: %w", req.RequestID, entity.ErrConflict)
	}
	cp := *req
	l.requests[req.RequestID] = &cp
	l.frames[req.RequestID] = make(map[int]string)
	return nil
}

func (l *Ledger) RecordFrame(_ context.Context, requestID string, frameNumber int, storageKey string) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return 0, 0, fmt.Errorf("request %s: %w", requestID, entity.ErrNotFound)
	}
	if frameNumber < 1 || frameNumber > req.TotalFrames {
		return 0, req.TotalFrames, fmt.Errorf("frame %d of %d: %w", frameNumber, req.TotalFrames, entity.ErrOutOfRange)
	}
	if _, dup := l.frames[requestID][frameNumber]; dup {
		return req.FramesReceived, req.TotalFrames, nil
	}
	l.frames[requestID][frameNumber] = storageKey
	req.FramesReceived++
	req.UpdatedAt = time.Now().UTC()
	return req.FramesReceived, req.TotalFrames, nil
}

func (l *Ledger) Transition(_ context.Context, requestID string, from, to entity.Status, fields port.StatusFields) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, entity.ErrInvalidTransition)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, entity.ErrNotFound)
	}
	if req.Status != from {
		return fmt.Errorf("expected %s, found %s: %w", from, req.Status, entity.ErrConflict)
	}

	now := time.Now().UTC()
	req.Status = to
	req.UpdatedAt = now
	req.VideoURL = ""
	req.ErrorMessage = ""
	switch to {
	case entity.StatusCompleted:
		req.VideoURL = fields.VideoURL
		req.CompletedAt = &now
	case entity.StatusFailed:
		req.ErrorMessage = fields.ErrorMessage
	}
	if fields.CompilationTime != 0 {
		req.CompilationTime = fields.CompilationTime
	}
	return nil
}

func (l *Ledger) Get(_ context.Context, requestID string) (*entity.VideoRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, entity.ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (l *Ledger) List(_ context.Context, filter port.RequestFilter) ([]*entity.VideoRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*entity.VideoRequest
	for _, req := range l.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

var _ port.Ledger = (*Ledger)(nil)
