// Package postprocess overlays captions and mixes background music into a
// generated video with ffmpeg.
package postprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// Caption defaults
const (
	DefaultCaptionPosition = "bottom"
	DefaultCaptionSize     = 48
	DefaultCaptionColor    = "white"
	DefaultMusicVolume     = 0.3
	captionPadding         = 80
)

// ErrMusicUnavailable is returned when a job's music file is outside the
// configured library or no library is configured
var ErrMusicUnavailable = errors.New("background music unavailable")

// Runner executes a command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// FFmpeg post-processes videos with a single ffmpeg invocation
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	fontPath    string
	outputDir   string
	musicDir    string
	run         Runner
	logger      *logging.Logger
}

// Option configures FFmpeg
type Option func(*FFmpeg)

// WithRunner replaces the command runner
func WithRunner(r Runner) Option {
	return func(f *FFmpeg) {
		f.run = r
	}
}

// NewFFmpeg creates a post-processor
func NewFFmpeg(cfg config.PostProcessConfig, logger *logging.Logger, opts ...Option) (*FFmpeg, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	f := &FFmpeg{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: probePath(cfg.FFmpegPath),
		fontPath:    cfg.FontPath,
		outputDir:   cfg.OutputDir,
		musicDir:    cfg.MusicDir,
		run:         execRunner,
		logger:      logger.WithComponent("postprocess"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// PostProcess writes <name>_final.mp4 next to the input (or into the output
// directory) and removes the input once the output exists.
func (f *FFmpeg) PostProcess(ctx context.Context, inputPath string, opts models.PostProcessOptions) (string, error) {
	if !opts.HasWork() {
		return inputPath, nil
	}
	if _, err := os.Stat(inputPath); err != nil {
		return "", fmt.Errorf("input not found: %w", err)
	}
	if opts.MusicPath != "" {
		music, err := f.resolveMusic(opts.MusicPath)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(music); err != nil {
			return "", fmt.Errorf("music file not found: %w", err)
		}
		opts.MusicPath = music
	}

	hasAudio := false
	if opts.MusicPath != "" {
		hasAudio = f.hasAudio(ctx, inputPath)
	}

	outputPath := f.outputPath(inputPath)
	args := BuildArgs(inputPath, outputPath, f.fontPath, hasAudio, opts)

	output, err := f.run(ctx, f.ffmpegPath, args...)
	if err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg failed: %w, output: %s", err, tail(output, 512))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("ffmpeg produced no output: %w", err)
	}

	if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
		f.logger.WithField("path", inputPath).ErrorWithErr("Failed to remove post-processing input", err)
	}
	return outputPath, nil
}

// hasAudio reports whether the input carries an audio stream. A failed
// probe is treated as silent video.
func (f *FFmpeg) hasAudio(ctx context.Context, inputPath string) bool {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		inputPath,
	)
	if err != nil {
		f.logger.WithField("path", inputPath).Debug("Audio probe failed, assuming no audio")
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// resolveMusic maps a library-relative music path to a file under musicDir
func (f *FFmpeg) resolveMusic(name string) (string, error) {
	if f.musicDir == "" {
		return "", fmt.Errorf("%w: no music directory configured", ErrMusicUnavailable)
	}
	if !models.ValidMusicPath(name) {
		return "", fmt.Errorf("%w: %q is not inside the music directory", ErrMusicUnavailable, name)
	}
	full := filepath.Join(f.musicDir, name)
	rel, err := filepath.Rel(f.musicDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is not inside the music directory", ErrMusicUnavailable, name)
	}
	return full, nil
}

func probePath(ffmpegPath string) string {
	dir, base := filepath.Split(ffmpegPath)
	return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
}

func (f *FFmpeg) outputPath(inputPath string) string {
	dir := filepath.Dir(inputPath)
	if f.outputDir != "" {
		dir = f.outputDir
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, base+"_final.mp4")
}

// BuildArgs builds the ffmpeg arguments for a caption and/or music pass
func BuildArgs(inputPath, outputPath, fontPath string, hasAudio bool, opts models.PostProcessOptions) []string {
	args := []string{"-i", inputPath}
	if opts.MusicPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", opts.MusicPath)
	}

	var filters []string
	videoOut := "0:v"
	if opts.CaptionText != "" {
		filters = append(filters, "[0:v]"+buildCaptionFilter(opts, fontPath)+"[v]")
		videoOut = "[v]"
	}
	audioOut := ""
	if opts.MusicPath != "" {
		filters = append(filters, buildMusicFilter(opts, hasAudio))
		audioOut = "[a]"
	}

	args = append(args, "-filter_complex", strings.Join(filters, ";"), "-map", videoOut)
	if audioOut != "" {
		args = append(args, "-map", audioOut, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-map", "0:a?", "-c:a", "copy")
	}
	if opts.CaptionText != "" {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "20")
	} else {
		args = append(args, "-c:v", "copy")
	}

	return append(args, "-shortest", "-movflags", "+faststart", "-y", outputPath)
}

func buildCaptionFilter(opts models.PostProcessOptions, fontPath string) string {
	size := opts.CaptionSize
	if size <= 0 || size > 200 {
		size = DefaultCaptionSize
	}
	color := opts.CaptionColor
	if !models.ValidCaptionColor(color) {
		color = DefaultCaptionColor
	}

	var y string
	switch opts.CaptionPosition {
	case models.CaptionTop:
		y = fmt.Sprintf("%d", captionPadding)
	case models.CaptionCenter:
		y = "(h-th)/2"
	default:
		y = fmt.Sprintf("h-th-%d", captionPadding)
	}

	filter := fmt.Sprintf(
		"drawtext=text='%s':fontsize=%d:fontcolor=%s:x=(w-tw)/2:y=%s:box=1:boxcolor=black@0.5:boxborderw=12",
		escapeDrawtext(opts.CaptionText), size, color, y,
	)
	if fontPath != "" {
		filter += ":fontfile='" + escapeDrawtext(fontPath) + "'"
	}
	return filter
}

// buildMusicFilter lowers the music and mixes it under the original audio.
// Inputs without an audio track get the music alone.
func buildMusicFilter(opts models.PostProcessOptions, hasAudio bool) string {
	vol := opts.MusicVolume
	if vol <= 0 || vol > 1 {
		vol = DefaultMusicVolume
	}
	if !hasAudio {
		return fmt.Sprintf("[1:a]volume=%.2f[a]", vol)
	}
	return fmt.Sprintf("[1:a]volume=%.2f[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=2[a]", vol)
}

// escapeDrawtext escapes characters that end or reinterpret a drawtext value
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `'\''`,
		`:`, `\:`,
		`%`, `\%`,
		"\n", " ",
	)
	return r.Replace(s)
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
