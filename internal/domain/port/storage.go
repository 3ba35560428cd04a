package port

import (
	"context"
	"io"
	"time"
)

// FrameStore is the object-store contract for frame and artifact bytes.
// Keys follow {requestId}/frame_{frameNumber:06d}.{ext} for frames and
// {requestId}/compiled_video.{ext} for artifacts.
type FrameStore interface {
	// PutFrame stores frame bytes and returns the storage key.
	PutFrame(ctx context.Context, requestID string, frameNumber int, r io.Reader, size int64) (string, error)

	// FrameExists reports whether the frame object is present. An error is
	// returned only for storage failures, not for missing objects.
	FrameExists(ctx context.Context, requestID string, frameNumber int) (bool, error)

	// DownloadFrame fetches frame bytes to a local path.
	DownloadFrame(ctx context.Context, requestID string, frameNumber int, destPath string) error

	// UploadVideo stores the compiled artifact and returns its storage key.
	UploadVideo(ctx context.Context, requestID, format, srcPath string) (string, error)

	// PresignedVideoURL generates a time-limited access URL for a compiled
	// artifact.
	PresignedVideoURL(ctx context.Context, requestID, format string, ttl time.Duration) (string, error)
}
