// Package audio conditions uploaded meeting recordings for the recognition
// engine: canonical 16kHz mono WAV conversion, sample decoding, windowing and
// test-signal synthesis.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the referenced audio file does not exist.
var ErrNotFound = errors.New("audio file not found")

const (
	convertedSuffix = ".converted.wav"
	segmentMarker   = ".segment-"
)

// supportedFormats is the upload allow-list of container extensions.
var supportedFormats = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".opus": true,
	".m4a":  true,
	".aac":  true,
}

// inputFormats pins the ffmpeg demuxer for extensions whose container we know.
// Everything else falls through to ffmpeg's probing.
var inputFormats = map[string]string{
	".opus": "ogg",
	".mp3":  "mp3",
	".m4a":  "mp4",
}

// Supported reports whether the file extension is on the upload allow-list.
func Supported(path string) bool {
	return supportedFormats[strings.ToLower(filepath.Ext(path))]
}

// IsTemporary reports whether the path names a scratch file created by this
// package or by segmented transcription.
func IsTemporary(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, convertedSuffix) || strings.Contains(base, segmentMarker)
}

// TempName builds a unique sibling scratch path for source, e.g.
// "meeting.3f2a….segment-2.wav".
func TempName(source, label string) string {
	dir := filepath.Dir(source)
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(dir, stem+"."+uuid.NewString()+label)
}

// SegmentName builds a unique scratch path for window n of source.
func SegmentName(source string, n int) string {
	return TempName(source, segmentMarker+strconv.Itoa(n)+".wav")
}

// RemoveTemp deletes a scratch file. Failures are logged, never returned.
func RemoveTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to remove temporary audio file", "path", path, "error", err)
	}
}

// Artifact is an audio file ready for decoding. When Converted is set, Path
// is a scratch file owned by the caller, who must call Cleanup.
type Artifact struct {
	Path      string
	Source    string
	Format    string
	SizeMB    float64
	Converted bool
}

// Cleanup removes the converted scratch file, if any.
func (a *Artifact) Cleanup() {
	if a == nil || !a.Converted {
		return
	}
	RemoveTemp(a.Path)
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

// Run executes one command and returns its combined output.
func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Normalizer converts arbitrary recordings into canonical WAV via ffmpeg.
type Normalizer struct {
	ffmpegPath string
	runner     CommandRunner
}

// NewNormalizer creates a Normalizer that shells out to the given ffmpeg binary.
func NewNormalizer(ffmpegPath string) *Normalizer {
	return &Normalizer{ffmpegPath: ffmpegPath, runner: execRunner{}}
}

// NewNormalizerWithRunner creates a Normalizer that runs ffmpeg through runner.
func NewNormalizerWithRunner(ffmpegPath string, runner CommandRunner) *Normalizer {
	return &Normalizer{ffmpegPath: ffmpegPath, runner: runner}
}

// Prepare returns a decoding-ready artifact for sourcePath. 16-bit PCM WAV
// sources are returned as-is; anything else is converted into a unique
// sibling scratch file.
func (n *Normalizer) Prepare(ctx context.Context, sourcePath string) (*Artifact, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("audio: %s: %w", sourcePath, ErrNotFound)
		}
		return nil, fmt.Errorf("audio: stat %q: %w", sourcePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("audio: %s is a directory: %w", sourcePath, ErrNotFound)
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	artifact := &Artifact{
		Path:   sourcePath,
		Source: sourcePath,
		Format: strings.TrimPrefix(ext, "."),
		SizeMB: float64(info.Size()) / (1024 * 1024),
	}

	if ext == ".wav" {
		format, err := ReadFormat(sourcePath)
		if err == nil && format.Canonical() {
			return artifact, nil
		}
		slog.Debug("WAV source needs conversion", "source", filepath.Base(sourcePath),
			"format", format.AudioFormat, "bit_depth", format.BitDepth, "error", err)
	}

	outPath := TempName(sourcePath, convertedSuffix)
	slog.Info("Converting audio to canonical WAV",
		"source", filepath.Base(sourcePath),
		"format", artifact.Format,
		"output", filepath.Base(outPath))

	args := buildFFmpegArgs(sourcePath, outPath, inputFormats[ext])
	if out, err := n.runner.Run(ctx, n.ffmpegPath, args...); err != nil {
		RemoveTemp(outPath)
		return nil, fmt.Errorf("audio: ffmpeg conversion of %q failed: %w: %s",
			sourcePath, err, strings.TrimSpace(string(out)))
	}

	if _, err := os.Stat(outPath); err != nil {
		return nil, fmt.Errorf("audio: ffmpeg completed but %q is missing: %w", outPath, err)
	}

	artifact.Path = outPath
	artifact.Converted = true
	return artifact, nil
}

// buildFFmpegArgs builds the conversion CLI args for 16kHz mono PCM WAV output.
func buildFFmpegArgs(inputPath, outPath, format string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if format != "" {
		args = append(args, "-f", format)
	}
	return append(args,
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	)
}
