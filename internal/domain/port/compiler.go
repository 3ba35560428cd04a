package port

import (
	"context"

	"github.com/framecast/compilation-service/internal/domain/entity"
)

type CompilationInput struct {
	RequestID    string
	FramePaths   []string // ascending frame order
	FPS          int
	Quality      entity.Quality
	OutputFormat string
}

type CompilationOutput struct {
	OutputPath      string
	CompilationTime float64 // seconds
}

// Compiler assembles an ordered frame set into one video stream. The caller
// bounds the run with a context deadline; a deadline hit surfaces as
// entity.ErrTimeout.
type Compiler interface {
	Compile(ctx context.Context, in CompilationInput, workDir string) (*CompilationOutput, error)
}
