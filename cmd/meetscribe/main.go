package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/chaz8081/meetscribe/internal/api"
	"github.com/chaz8081/meetscribe/internal/audio"
	"github.com/chaz8081/meetscribe/internal/config"
	"github.com/chaz8081/meetscribe/internal/device"
	"github.com/chaz8081/meetscribe/internal/diagnostics"
	"github.com/chaz8081/meetscribe/internal/inbox"
	"github.com/chaz8081/meetscribe/internal/jobs"
	"github.com/chaz8081/meetscribe/internal/models"
	"github.com/chaz8081/meetscribe/internal/transcribe"
	"github.com/chaz8081/meetscribe/internal/whisper"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes one invocation. Deferred cleanup, including unloading the
// resident model, runs before main exits.
func run(args []string) error {
	// CLI flags
	fs := flag.NewFlagSet("meetscribe", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (default: ~/.config/meetscribe/config.yaml)")
	initConfig := fs.Bool("init-config", false, "write the default config file and exit")
	listModels := fs.Bool("models", false, "list available models and exit")
	useModel := fs.String("use", "", "make `model` the active model and exit")
	downloadModel := fs.String("download", "", "download `model` weights and exit")
	benchmark := fs.Int("benchmark", 0, "run a synthetic benchmark of `seconds` and exit")
	transcribeFile := fs.String("transcribe", "", "transcribe `file`, print the result as JSON and exit")
	reference := fs.String("reference", "", "with -transcribe, score the result against this reference transcript `file`")
	language := fs.String("language", "", "language for -transcribe (default: config language)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote default config to", path)
		}
		return nil
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := models.NewRegistry(cfg.ModelsDir, cfg.ModelBaseURL)
	pref := models.NewPreference(cfg.ModelsDir)

	switch {
	case *listModels:
		printModels(registry.Availability(pref.Active(), ""))
		return nil
	case *useModel != "":
		if err := pref.SetActive(*useModel); err != nil {
			return fmt.Errorf("use model: %w", err)
		}
		fmt.Println("Active model:", *useModel)
		return nil
	case *downloadModel != "":
		if err := registry.Download(ctx, *downloadModel); err != nil {
			return fmt.Errorf("download: %w", err)
		}
		if err := registry.Verify(*downloadModel); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		return nil
	}

	prober := device.NewProber()
	dev := prober.Resolve(ctx, cfg.Device)

	mgr := transcribe.NewManager(registry, pref, whisper.NewLoader(), dev)
	defer mgr.Close()

	engine := transcribe.NewEngine(mgr, audio.NewNormalizer(cfg.FFmpegPath))
	bench := diagnostics.NewBench(engine, prober, cfg.ModelsDir)

	printBanner(cfg, mgr.Active(), dev)

	switch {
	case *benchmark > 0:
		printJSON(bench.Run(ctx, diagnostics.ClampDuration(*benchmark)))
		return nil
	case *transcribeFile != "":
		lang := *language
		if lang == "" {
			lang = cfg.Language
		}
		if err := runOnce(ctx, engine, bench, *transcribeFile, *reference, lang); err != nil {
			return fmt.Errorf("transcribe: %w", err)
		}
		return nil
	}

	if err := serve(ctx, cfg, engine, bench, prober); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("Goodbye!")
	return nil
}

// serve runs the job worker, the API server and the optional inbox watcher
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, engine *transcribe.Engine, bench *diagnostics.Bench, prober *device.Prober) error {
	bus := jobs.NewEventBus(0)
	queue := jobs.NewQueue(engine, bus, cfg.QueueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx)
	}()

	if cfg.Inbox.Dir != "" {
		watcher := inbox.New(cfg.Inbox.Dir, cfg.InboxLanguage(), queue)
		queue.OnComplete(watcher.Complete)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil {
				slog.Error("Inbox watcher stopped", "error", err)
			}
		}()
	}

	server := api.New(api.Deps{
		Queue:      queue,
		Events:     bus,
		Manager:    engine.Manager(),
		Bench:      bench,
		Stats:      prober,
		UploadsDir: cfg.UploadsDir,
		Language:   cfg.Language,
	})

	slog.Info("Ready! Ctrl+C to quit.")
	err := server.ListenAndServe(ctx, cfg.HTTP.Addr)
	slog.Info("Shutting down...")
	wg.Wait()
	return err
}

// runOnce transcribes a single file and prints the outcome, or a WER report
// when a reference transcript is given.
func runOnce(ctx context.Context, engine *transcribe.Engine, bench *diagnostics.Bench, path, referencePath, language string) error {
	if referencePath != "" {
		ref, err := diagnostics.ReadReference(referencePath)
		if err != nil {
			return err
		}
		report, err := bench.Accuracy(ctx, path, ref, language)
		if err != nil {
			return err
		}
		printJSON(report)
		return nil
	}

	out, err := engine.TranscribeFile(ctx, path, language)
	if err != nil {
		var loadErr *transcribe.ModelLoadError
		if errors.As(err, &loadErr) && errors.Is(err, models.ErrNotDownloaded) {
			return fmt.Errorf("%w\n\nRun 'meetscribe -download %s' to fetch it.", err, loadErr.Model)
		}
		return err
	}
	printJSON(out)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	slog.Info("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, active string, dev device.Device) {
	fmt.Println("=== meetscribe ===")
	fmt.Printf("  Model:   %s (%s)\n", active, cfg.ModelsDir)
	fmt.Printf("  Device:  %s (%s)\n", dev.Kind, dev.Name)
	fmt.Printf("  HTTP:    %s\n", cfg.HTTP.Addr)
	if cfg.Inbox.Dir != "" {
		fmt.Printf("  Inbox:   %s (%s)\n", cfg.Inbox.Dir, cfg.InboxLanguage())
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("==================")
}

func printModels(list []models.Availability) {
	for _, a := range list {
		var flags []string
		if a.Active {
			flags = append(flags, "active")
		}
		if a.Downloaded {
			flags = append(flags, "downloaded")
		}
		fmt.Printf("  %-9s %5d MB  %-8s %-9s %s\n", a.ID, a.SizeMB, a.Speed, a.Quality, strings.Join(flags, ","))
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to encode output", "error", err)
	}
}
