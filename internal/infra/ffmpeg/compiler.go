package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
)

// minOutputSize guards against ffmpeg exiting zero with a truncated file.
const minOutputSize = 1024

type qualityPreset struct {
	crf    int
	preset string
	scale  string
}

var qualityPresets = map[entity.Quality]qualityPreset{
	entity.QualityLow:    {crf: 28, preset: "fast", scale: "720:480"},
	entity.QualityMedium: {crf: 23, preset: "medium", scale: "1280:720"},
	entity.QualityHigh:   {crf: 18, preset: "slow", scale: "1920:1080"},
	entity.QualityUltra:  {crf: 15, preset: "veryslow", scale: "1920:1080"},
}

// Compiler assembles frames into one video stream with the ffmpeg concat
// demuxer.
type Compiler struct {
	binary string
	logger *zap.Logger
}

func NewCompiler(binary string, logger *zap.Logger) *Compiler {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Compiler{binary: binary, logger: logger}
}

func (c *Compiler) Compile(ctx context.Context, in port.CompilationInput, workDir string) (*port.CompilationOutput, error) {
	if len(in.FramePaths) == 0 {
		return nil, fmt.Errorf("no frames provided for compilation")
	}

	start := time.Now()

	listPath := filepath.Join(workDir, "frame_list.txt")
	if err := writeConcatFile(listPath, in.FramePaths, in.FPS); err != nil {
		return nil, fmt.Errorf("write frame list: %w", err)
	}

	outputPath := filepath.Join(workDir, "output."+in.OutputFormat)
	args := buildArgs(listPath, outputPath, in.FPS, presetFor(in.Quality))

	c.logger.Info("starting compilation",
		zap.String("request_id", in.RequestID),
		zap.Int("frames", len(in.FramePaths)),
		zap.Int("fps", in.FPS),
		zap.String("quality", string(in.Quality)),
	)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("ffmpeg killed after deadline: %w", entity.ErrTimeout)
		}
		return nil, fmt.Errorf("ffmpeg error: %w, output: %s", err, string(output))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}
	if info.Size() < minOutputSize {
		return nil, fmt.Errorf("ffmpeg completed but output is invalid or too small (%d bytes)", info.Size())
	}

	elapsed := time.Since(start).Seconds()
	c.logger.Info("compilation finished",
		zap.String("request_id", in.RequestID),
		zap.Float64("compilation_time", elapsed),
	)

	return &port.CompilationOutput{
		OutputPath:      outputPath,
		CompilationTime: elapsed,
	}, nil
}

// writeConcatFile emits an ffconcat listing with a fixed per-frame duration.
// The final frame is repeated so its duration is honored.
func writeConcatFile(listPath string, framePaths []string, fps int) error {
	f, err := os.Create(listPath)
	if err != nil {
		return err
	}
	defer f.Close()

	frameDuration := 1.0 / float64(fps)
	if _, err := fmt.Fprintln(f, "ffconcat version 1.0"); err != nil {
		return err
	}
	for _, fp := range framePaths {
		fmt.Fprintf(f, "file '%s'\n", fp)
		fmt.Fprintf(f, "duration %f\n", frameDuration)
	}
	_, err = fmt.Fprintf(f, "file '%s'\n", framePaths[len(framePaths)-1])
	return err
}

func buildArgs(listPath, outputPath string, fps int, p qualityPreset) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:v", "libx264",
		"-preset", p.preset,
		"-crf", strconv.Itoa(p.crf),
		"-vf", "scale=" + p.scale,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
}

func presetFor(q entity.Quality) qualityPreset {
	if p, ok := qualityPresets[q]; ok {
		return p
	}
	return qualityPresets[entity.QualityMedium]
}

var _ port.Compiler = (*Compiler)(nil)
