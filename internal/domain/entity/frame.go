package entity

import "time"

// Frame records one uploaded frame. (RequestID, FrameNumber) is unique; a
// repeated upload for an already-recorded slot must not increment the
// counter or alter prior state.
type Frame struct {
	RequestID   string
	FrameNumber int
	StorageKey  string
	UploadedAt  time.Time
}
