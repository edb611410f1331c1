package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/meetscribe/internal/audio"
	"github.com/chaz8081/meetscribe/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "device: tpu\n")

	err := run([]string{"-config", cfg, "-models"})
	if err == nil || !strings.Contains(err.Error(), "config validation") {
		t.Fatalf("run() error = %v, want a validation error", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	if err := run([]string{"-no-such-flag"}); err == nil {
		t.Fatal("run() accepted an unknown flag")
	}
	if err := run([]string{"-h"}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("run(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestRunTranscribeWithoutWeightsReturnsError(t *testing.T) {
	t.Setenv(models.EnvModel, "")
	dir := t.TempDir()
	cfg := writeConfig(t, "models_dir: "+filepath.Join(dir, "models")+"\n"+
		"uploads_dir: "+filepath.Join(dir, "uploads")+"\n"+
		"device: cpu\n"+
		"log_level: error\n")
	recording := filepath.Join(dir, "standup.wav")
	if err := audio.WriteFile(recording, audio.SineWave(440, time.Second)); err != nil {
		t.Fatal(err)
	}

	err := run([]string{"-config", cfg, "-transcribe", recording})
	if !errors.Is(err, models.ErrNotDownloaded) {
		t.Fatalf("run() error = %v, want ErrNotDownloaded", err)
	}
	if !strings.Contains(err.Error(), "meetscribe -download") {
		t.Errorf("error %q does not say how to fetch the model", err)
	}
}
