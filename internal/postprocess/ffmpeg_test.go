package postprocess

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// fakeRunner records ffmpeg calls and writes the output file like ffmpeg would
type fakeRunner struct {
	calls    [][]string
	audio    bool
	failWith error
}

func (r *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if strings.HasSuffix(name, "ffprobe") {
		if r.audio {
			return []byte("1\n"), nil
		}
		return nil, nil
	}
	if r.failWith != nil {
		return []byte("Invalid data found when processing input"), r.failWith
	}
	out := args[len(args)-1]
	return nil, os.WriteFile(out, []byte("processed"), 0o644)
}

func newTestFFmpeg(t *testing.T, r *fakeRunner) *FFmpeg {
	return newMusicFFmpeg(t, r, "")
}

func newMusicFFmpeg(t *testing.T, r *fakeRunner, musicDir string) *FFmpeg {
	t.Helper()
	f, err := NewFFmpeg(config.PostProcessConfig{FFmpegPath: "/usr/bin/ffmpeg", MusicDir: musicDir}, nil, WithRunner(r.run))
	require.NoError(t, err)
	return f
}

func writeFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgsCaptionOnly(t *testing.T) {
	args := BuildArgs("in.mp4", "out.mp4", "", false, models.PostProcessOptions{
		CaptionText:     "Hello",
		CaptionPosition: "top",
	})

	filter := argAfter(args, "-filter_complex")
	assert.Contains(t, filter, "drawtext=text='Hello'")
	assert.Contains(t, filter, "fontsize=48")
	assert.Contains(t, filter, "fontcolor=white")
	assert.Contains(t, filter, "y=80")
	assert.NotContains(t, filter, "amix")
	assert.Equal(t, "[v]", argAfter(args, "-map"))
	assert.Contains(t, args, "libx264")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestBuildArgsMusicOnly(t *testing.T) {
	args := BuildArgs("in.mp4", "out.mp4", "", true, models.PostProcessOptions{
		MusicPath:   "bg.mp3",
		MusicVolume: 0.5,
	})

	filter := argAfter(args, "-filter_complex")
	assert.Equal(t, "[1:a]volume=0.50[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=2[a]", filter)
	assert.Equal(t, "-1", argAfter(args, "-stream_loop"))
	assert.Equal(t, "copy", argAfter(args, "-c:v"))
	assert.Contains(t, args, "-shortest")
}

func TestBuildArgsMusicWithoutSourceAudio(t *testing.T) {
	args := BuildArgs("in.mp4", "out.mp4", "", false, models.PostProcessOptions{MusicPath: "bg.mp3"})

	filter := argAfter(args, "-filter_complex")
	assert.Equal(t, "[1:a]volume=0.30[a]", filter)
}

func TestBuildArgsCaptionAndMusic(t *testing.T) {
	args := BuildArgs("in.mp4", "out.mp4", "/fonts/Inter.ttf", true, models.PostProcessOptions{
		CaptionText:  "Follow for more",
		CaptionSize:  64,
		CaptionColor: "yellow",
		MusicPath:    "bg.mp3",
		MusicVolume:  2, // out of range
	})

	filter := argAfter(args, "-filter_complex")
	parts := strings.Split(filter, ";")
	require.Len(t, parts, 3)
	assert.True(t, strings.HasPrefix(parts[0], "[0:v]drawtext="))
	assert.Contains(t, parts[0], "fontsize=64")
	assert.Contains(t, parts[0], "fontcolor=yellow")
	assert.Contains(t, parts[0], "fontfile='/fonts/Inter.ttf'")
	assert.Contains(t, parts[0], "y=h-th-80")
	assert.Contains(t, filter, "volume=0.30")
}

func TestEscapeDrawtext(t *testing.T) {
	assert.Equal(t, `it'\''s 50\% off\: now`, escapeDrawtext("it's 50% off: now"))
	assert.Equal(t, `a b`, escapeDrawtext("a\nb"))
}

func TestPostProcessReplacesInput(t *testing.T) {
	dir := t.TempDir()
	musicDir := t.TempDir()
	input := writeFile(t, filepath.Join(dir, "job-1.mp4"))
	music := writeFile(t, filepath.Join(musicDir, "bg.mp3"))

	r := &fakeRunner{audio: true}
	f := newMusicFFmpeg(t, r, musicDir)

	out, err := f.PostProcess(context.Background(), input, models.PostProcessOptions{
		CaptionText: "hi",
		MusicPath:   "bg.mp3",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1_final.mp4"), out)

	_, err = os.Stat(input)
	assert.True(t, os.IsNotExist(err), "input should be removed")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "processed", string(data))

	require.Len(t, r.calls, 2)
	assert.Equal(t, "/usr/bin/ffprobe", r.calls[0][0])
	assert.Equal(t, "/usr/bin/ffmpeg", r.calls[1][0])
	assert.Contains(t, argAfter(r.calls[1], "-filter_complex"), "amix")
	// -stream_loop -1 -i <music>
	assert.Equal(t, music, r.calls[1][argIndex(r.calls[1], "-stream_loop")+3])
}

func argIndex(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}

func TestPostProcessFailureKeepsInput(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, filepath.Join(dir, "job-2.mp4"))

	r := &fakeRunner{failWith: errors.New("exit status 1")}
	f := newTestFFmpeg(t, r)

	_, err := f.PostProcess(context.Background(), input, models.PostProcessOptions{CaptionText: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data")

	_, statErr := os.Stat(input)
	assert.NoError(t, statErr)
}

func TestPostProcessMissingMusic(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, filepath.Join(dir, "job-3.mp4"))

	f := newMusicFFmpeg(t, &fakeRunner{}, t.TempDir())
	_, err := f.PostProcess(context.Background(), input, models.PostProcessOptions{MusicPath: "nope.mp3"})
	assert.Error(t, err)
}

func TestPostProcessMusicMustStayInLibrary(t *testing.T) {
	dir := t.TempDir()
	musicDir := filepath.Join(dir, "music")
	require.NoError(t, os.MkdirAll(musicDir, 0o755))
	writeFile(t, filepath.Join(dir, "secret.mp3"))

	tests := []struct {
		name     string
		musicDir string
		path     string
	}{
		{"parent directory", musicDir, "../secret.mp3"},
		{"nested escape", musicDir, "a/../../secret.mp3"},
		{"absolute path", musicDir, filepath.Join(dir, "secret.mp3")},
		{"system file", musicDir, "/etc/passwd"},
		{"no library configured", "", "bg.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := writeFile(t, filepath.Join(t.TempDir(), "job.mp4"))
			r := &fakeRunner{}
			f := newMusicFFmpeg(t, r, tt.musicDir)

			_, err := f.PostProcess(context.Background(), input, models.PostProcessOptions{MusicPath: tt.path})
			assert.ErrorIs(t, err, ErrMusicUnavailable)
			assert.Empty(t, r.calls, "ffmpeg must not run")
		})
	}
}

func TestBuildArgsRejectsInjectedCaptionColor(t *testing.T) {
	tests := []struct {
		name  string
		color string
		want  string
	}{
		{"named", "yellow", "fontcolor=yellow:"},
		{"hex", "#FFCC00", "fontcolor=#FFCC00:"},
		{"hex with alpha", "0xFFCC00@0.8", "fontcolor=0xFFCC00@0.8:"},
		{"option injection", "white:textfile=/etc/passwd", "fontcolor=white:x="},
		{"filterchain injection", "white[v];movie=/etc/hostname[x", "fontcolor=white:x="},
		{"quote", "red'", "fontcolor=white:x="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := BuildArgs("in.mp4", "out.mp4", "", false, models.PostProcessOptions{
				CaptionText:  "hi",
				CaptionColor: tt.color,
			})
			filter := argAfter(args, "-filter_complex")
			assert.Contains(t, filter, tt.want)
			assert.NotContains(t, filter, "textfile")
			assert.NotContains(t, filter, "movie=")
			assert.Equal(t, 1, strings.Count(filter, "[v]"))
		})
	}
}

func TestPostProcessNoWork(t *testing.T) {
	r := &fakeRunner{}
	f := newTestFFmpeg(t, r)

	out, err := f.PostProcess(context.Background(), "whatever.mp4", models.PostProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "whatever.mp4", out)
	assert.Empty(t, r.calls)
}

func TestPostProcessOutputDir(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "final")
	input := writeFile(t, filepath.Join(dir, "clip.mp4"))

	r := &fakeRunner{}
	f, err := NewFFmpeg(config.PostProcessConfig{OutputDir: outDir}, nil, WithRunner(r.run))
	require.NoError(t, err)

	out, err := f.PostProcess(context.Background(), input, models.PostProcessOptions{CaptionText: "x"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "clip_final.mp4"), out)
}

func TestProbePath(t *testing.T) {
	assert.Equal(t, "ffprobe", probePath("ffmpeg"))
	assert.Equal(t, "/opt/bin/ffprobe", probePath("/opt/bin/ffmpeg"))
}

func TestPostProcessWithRealFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
	input := "testdata/sample.mp4"
	if _, err := os.Stat(input); os.IsNotExist(err) {
		t.Skip("Test video not available")
	}

	dir := t.TempDir()
	data, err := os.ReadFile(input)
	require.NoError(t, err)
	copyPath := filepath.Join(dir, "sample.mp4")
	require.NoError(t, os.WriteFile(copyPath, data, 0o644))

	f, err := NewFFmpeg(config.PostProcessConfig{}, nil)
	require.NoError(t, err)

	out, err := f.PostProcess(context.Background(), copyPath, models.PostProcessOptions{CaptionText: "Test caption"})
	if err == nil {
		info, statErr := os.Stat(out)
		assert.NoError(t, statErr)
		assert.Greater(t, info.Size(), int64(0))
	}
}
