// main package for the readaloud-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/readaloud/internal/config"
	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/dom"
	"github.com/book-expert/readaloud/internal/engine"
	"github.com/book-expert/readaloud/internal/extract"
	"github.com/book-expert/readaloud/internal/lifecycle"
	"github.com/book-expert/readaloud/internal/metrics"
	"github.com/book-expert/readaloud/internal/objectstore"
	"github.com/book-expert/readaloud/internal/player"
	"github.com/book-expert/readaloud/internal/synth"
	"github.com/book-expert/readaloud/internal/ui"
	"github.com/book-expert/readaloud/internal/worker"
)

const blankPage = "<html><head></head><body></body></html>"

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "readaloud-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run(ctx context.Context) error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Connect to NATS and bind the object stores
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	pages, err := objectstore.New(jetstreamContext, cfg.NATS.PageObjectStoreBucket)
	if err != nil {
		return err
	}

	audio, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return err
	}

	// 5. Build the speech engine and the document it reads
	synthesizer, err := newSynthesizer(cfg, log)
	if err != nil {
		return err
	}

	stats := metrics.New(cfg.Site.Name)
	recorder := worker.NewRecorder(natsConnection, cfg.NATS.AudioChunkCreatedSubject, log)

	onAudio := func(rendered engine.Audio) {
		stats.AudioRendered(rendered.Size)
		recorder.AudioRendered(rendered)
	}

	eng, err := engine.New(synthesizer, audio, log, engine.WithAudioHandler(onAudio))
	if err != nil {
		return fmt.Errorf("failed to create speech engine: %w", err)
	}

	defer func() {
		_ = eng.Close()
	}()

	root, err := dom.ParseString(blankPage)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	doc := dom.New(root)
	binder := ui.NewBinder(doc, log, ui.WithAnnounceClear(cfg.Player.AnnounceClear()))
	ruler := ui.NewRuler(doc, cfg.Accessibility.Preferences(),
		cfg.Accessibility.ViewportHeight, cfg.Accessibility.FontSize)
	loader := lifecycle.EngineLoader(eng, extract.FromDocument(doc), binder, log,
		player.WithMaxChunkLength(cfg.Player.MaxChunkLength),
		player.WithVoiceWait(cfg.Player.VoiceWait()),
		player.WithObserver(stats),
		player.WithObserver(recorder),
	)
	manager := lifecycle.NewManager(doc, binder, ruler, loader, log, cfg.Player.Warmup())

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{Read: cfg.NATS.ReadSubject, Control: cfg.NATS.ControlSubject},
		pages, manager, binder, ruler, recorder, cfg.Player.ReadTimeout(), log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// 6. Serve metrics and requests until interrupted
	if cfg.Metrics.Enabled {
		go func() {
			serveErr := stats.Serve(ctx, cfg.Metrics.Address)
			if serveErr != nil {
				log.Error("Metrics endpoint stopped: %v", serveErr)
			}
		}()
	}

	log.System("Readaloud service for site %s initialized.", cfg.Site.Name)

	return natsWorker.Run(ctx)
}

func newSynthesizer(cfg *config.Config, log *logger.Logger) (core.Synthesizer, error) {
	settings := cfg.Synthesizer

	if settings.Backend == config.BackendCommand {
		synthesizer, err := synth.NewCommandSynthesizer(settings.Command, settings.Args, settings.CoreVoices(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create command synthesizer: %w", err)
		}

		return synthesizer, nil
	}

	return synth.NewHTTPClient(settings.ServiceURL, settings.Timeout(), settings.Language, settings.Temperature), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
