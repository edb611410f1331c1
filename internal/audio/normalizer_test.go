package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

// fakeRunner simulates ffmpeg by writing a canonical WAV to the output path.
type fakeRunner struct {
	calls [][]string
	fail  error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail != nil {
		return []byte("Invalid data found when processing input"), f.fail
	}
	out := args[len(args)-1]
	if err := WriteFile(out, SineWave(440, 100*time.Millisecond)); err != nil {
		return nil, err
	}
	return nil, nil
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestPrepareMissingFile(t *testing.T) {
	n := NewNormalizerWithRunner("ffmpeg", &fakeRunner{})
	_, err := n.Prepare(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Prepare() error = %v, want ErrNotFound", err)
	}
}

func TestPrepareCanonicalPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "meeting.wav")
	if err := WriteFile(src, make([]float32, SampleRate)); err != nil {
		t.Fatal(err)
	}
	before := listDir(t, dir)

	runner := &fakeRunner{}
	n := NewNormalizerWithRunner("ffmpeg", runner)
	artifact, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if artifact.Path != src {
		t.Errorf("Path = %q, want %q", artifact.Path, src)
	}
	if artifact.Converted {
		t.Error("Converted = true for a WAV source")
	}
	if len(runner.calls) != 0 {
		t.Errorf("ffmpeg invoked %d times, want 0", len(runner.calls))
	}
	if after := listDir(t, dir); strings.Join(after, ",") != strings.Join(before, ",") {
		t.Errorf("directory changed: before %v, after %v", before, after)
	}

	artifact.Cleanup()
	if _, err := os.Stat(src); err != nil {
		t.Errorf("Cleanup() removed the source: %v", err)
	}
}

func TestPrepareConvertsNonPCMWAV(t *testing.T) {
	tests := []struct {
		name   string
		format int
		depth  int
	}{
		{"float32", 3, 32},
		{"unsigned 8-bit", 1, 8},
		{"24-bit", 1, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "recorder.wav")
			writeWAVBytes(t, src, tt.format, tt.depth, make([]byte, 1600*tt.depth/8))

			runner := &fakeRunner{}
			n := NewNormalizerWithRunner("ffmpeg", runner)
			artifact, err := n.Prepare(context.Background(), src)
			if err != nil {
				t.Fatalf("Prepare() error = %v", err)
			}
			defer artifact.Cleanup()

			if len(runner.calls) != 1 {
				t.Fatalf("ffmpeg invoked %d times, want 1", len(runner.calls))
			}
			if got := argValue(runner.calls[0][1:], "-c:a"); got != "pcm_s16le" {
				t.Errorf("-c:a = %q, want pcm_s16le", got)
			}
			if !artifact.Converted || artifact.Path == src {
				t.Errorf("artifact = %+v, want a converted scratch file", artifact)
			}
		})
	}
}

func TestPrepareConvertsByExtension(t *testing.T) {
	tests := []struct {
		file       string
		wantFormat string
	}{
		{"call.opus", "ogg"},
		{"call.mp3", "mp3"},
		{"call.m4a", "mp4"},
		{"call.aac", ""},
		{"call.flac", ""},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, tt.file)
			mustWriteFile(t, src, "compressed-bytes")

			runner := &fakeRunner{}
			n := NewNormalizerWithRunner("ffmpeg-custom", runner)
			artifact, err := n.Prepare(context.Background(), src)
			if err != nil {
				t.Fatalf("Prepare() error = %v", err)
			}
			defer artifact.Cleanup()

			if len(runner.calls) != 1 {
				t.Fatalf("ffmpeg invoked %d times, want 1", len(runner.calls))
			}
			call := runner.calls[0]
			if call[0] != "ffmpeg-custom" {
				t.Errorf("command = %q, want ffmpeg-custom", call[0])
			}
			args := call[1:]
			if got := argValue(args, "-f"); got != tt.wantFormat {
				t.Errorf("-f = %q, want %q", got, tt.wantFormat)
			}
			if got := argValue(args, "-ar"); got != "16000" {
				t.Errorf("-ar = %q, want 16000", got)
			}
			if got := argValue(args, "-ac"); got != "1" {
				t.Errorf("-ac = %q, want 1", got)
			}
			if got := argValue(args, "-i"); got != src {
				t.Errorf("-i = %q, want %q", got, src)
			}

			if !artifact.Converted {
				t.Error("Converted = false for a non-WAV source")
			}
			if filepath.Dir(artifact.Path) != dir {
				t.Errorf("converted file %q is not a sibling of the source", artifact.Path)
			}
			if !strings.HasPrefix(filepath.Base(artifact.Path), "call.") || !IsTemporary(artifact.Path) {
				t.Errorf("unexpected converted name %q", artifact.Path)
			}

			data, err := os.ReadFile(src)
			if err != nil || string(data) != "compressed-bytes" {
				t.Errorf("source modified: %q, %v", data, err)
			}

			artifact.Cleanup()
			if _, err := os.Stat(artifact.Path); !os.IsNotExist(err) {
				t.Errorf("converted file still exists after Cleanup(): %v", err)
			}
		})
	}
}

func TestPrepareUniqueNames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "same.mp3")
	mustWriteFile(t, src, "x")

	n := NewNormalizerWithRunner("ffmpeg", &fakeRunner{})
	a, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Cleanup()
	b, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Cleanup()

	if a.Path == b.Path {
		t.Errorf("two conversions of the same source share %q", a.Path)
	}
}

func TestPrepareSizeFromSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.mp3")
	if err := os.WriteFile(src, bytes.Repeat([]byte{1}, 2*1024*1024), 0644); err != nil {
		t.Fatal(err)
	}

	n := NewNormalizerWithRunner("ffmpeg", &fakeRunner{})
	artifact, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	defer artifact.Cleanup()

	if artifact.SizeMB != 2 {
		t.Errorf("SizeMB = %v, want 2", artifact.SizeMB)
	}
	if artifact.Format != "mp3" {
		t.Errorf("Format = %q, want mp3", artifact.Format)
	}
}

func TestPrepareConversionFailureLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.m4a")
	mustWriteFile(t, src, "garbage")

	n := NewNormalizerWithRunner("ffmpeg", &fakeRunner{fail: errors.New("exit status 1")})
	if _, err := n.Prepare(context.Background(), src); err == nil {
		t.Fatal("Prepare() should fail when ffmpeg fails")
	}

	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("directory = %v, want only the source", names)
	}
}

func TestPrepareWithFFmpeg(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skipf("ffmpeg not found in PATH: %v", err)
	}

	dir := t.TempDir()
	stereo := filepath.Join(dir, "source.wav")
	data := make([]int, 0, 2*44100)
	for i := 0; i < 44100; i++ {
		data = append(data, 1000, -1000)
	}
	writeRawWAV(t, stereo, 44100, 2, data)

	src := filepath.Join(dir, "meeting.m4a")
	cmd := exec.Command(ffmpeg, "-hide_banner", "-nostdin", "-y", "-i", stereo, "-c:a", "aac", src)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("ffmpeg cannot encode aac here: %v: %s", err, out)
	}
	original, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}

	n := NewNormalizer(ffmpeg)
	artifact, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer artifact.Cleanup()

	f, err := os.Open(artifact.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if dec.SampleRate != SampleRate {
		t.Errorf("SampleRate = %d, want %d", dec.SampleRate, SampleRate)
	}
	if dec.NumChans != Channels {
		t.Errorf("NumChans = %d, want %d", dec.NumChans, Channels)
	}

	after, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(original, after) {
		t.Error("source file was modified by Prepare()")
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.wav", true},
		{"a.MP3", true},
		{"a.opus", true},
		{"a.m4a", true},
		{"a.aac", true},
		{"a.txt", false},
		{"a", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.path); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIsTemporary(t *testing.T) {
	if !IsTemporary(TempName("/x/meeting.mp3", ".converted.wav")) {
		t.Error("converted scratch file not recognized")
	}
	if !IsTemporary(SegmentName("/x/meeting.mp3", 3)) {
		t.Error("segment scratch file not recognized")
	}
	if IsTemporary("/x/meeting.wav") {
		t.Error("plain recording reported as temporary")
	}
}
