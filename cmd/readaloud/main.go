// Command readaloud reads an HTML page aloud through the configured speech
// backend and writes one audio file per chunk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/net/html"

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
	"github.com/book-expert/readaloud/internal/voice"
)

// Flag names.
const (
	flagPage    = "page"
	flagConfig  = "config"
	flagOutput  = "output"
	flagWatch   = "watch"
	flagVoices  = "voices"
	flagHealth  = "health"
	flagVerbose = "verbose"
)

// Flag descriptions.
const (
	flagPageDesc    = "HTML page to read aloud"
	flagConfigDesc  = "Path to a TOML configuration file (defaults apply when omitted)"
	flagOutputDesc  = "Directory for the audio files (defaults to paths.output_dir, then the working directory)"
	flagWatchDesc   = "Re-read the page every time the file changes"
	flagVoicesDesc  = "List the backend voices and the one that would be used, then exit"
	flagHealthDesc  = "Check the speech service health and exit"
	flagVerboseDesc = "Write the verbose log file"
)

const (
	logFileNameDefault = "readaloud.log"
	logFileNameVerbose = "readaloud-verbose.log"
	healthCheckTimeout = 10 * time.Second
)

var (
	// ErrPageRequired indicates a read without --page.
	ErrPageRequired = errors.New("--page must be provided")
	// ErrHealthNeedsHTTP indicates --health with a command backend.
	ErrHealthNeedsHTTP = errors.New("--health requires the http synthesizer backend")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	page    string
	config  string
	output  string
	watch   bool
	voices  bool
	health  bool
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application entry point, returning an error on failure.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}

	defer func() {
		_ = log.Close()
	}()

	synthesizer, err := newSynthesizer(cfg, log)
	if err != nil {
		return err
	}

	switch {
	case flags.health:
		return handleHealthCheck(ctx, synthesizer, log, stdout)
	case flags.voices:
		return handleVoices(ctx, synthesizer, stdout)
	default:
		return handleRead(ctx, cfg, synthesizer, log, flags, stdout)
	}
}

// parseFlags parses args into an appFlags.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("readaloud", flag.ContinueOnError)
	flagSet.StringVar(&flags.page, flagPage, "", flagPageDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.BoolVar(&flags.watch, flagWatch, false, flagWatchDesc)
	flagSet.BoolVar(&flags.voices, flagVoices, false, flagVoicesDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags checks the flag combination before anything is built.
func validateFlags(flags appFlags) error {
	if flags.health || flags.voices {
		return nil
	}

	if flags.page == "" {
		return ErrPageRequired
	}

	return nil
}

// setup loads the configuration and opens the log file.
func setup(flags appFlags) (*config.Config, *logger.Logger, error) {
	cfg := config.Default()

	if flags.config != "" {
		loaded, err := config.LoadFile(flags.config)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
		}

		cfg = loaded
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log, nil
}

// newSynthesizer builds the configured speech backend.
func newSynthesizer(cfg *config.Config, log *logger.Logger) (core.Synthesizer, error) {
	settings := cfg.Synthesizer

	switch settings.Backend {
	case config.BackendCommand:
		synthesizer, err := synth.NewCommandSynthesizer(settings.Command, settings.Args, settings.CoreVoices(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create command synthesizer: %w", err)
		}

		return synthesizer, nil
	case config.BackendHTTP:
		return synth.NewHTTPClient(settings.ServiceURL, settings.Timeout(), settings.Language, settings.Temperature), nil
	default:
		return nil, fmt.Errorf("%w: '%s'", config.ErrUnknownBackend, settings.Backend)
	}
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(ctx context.Context, synthesizer core.Synthesizer, log *logger.Logger, stdout io.Writer) error {
	client, ok := synthesizer.(*synth.HTTPClient)
	if !ok {
		return ErrHealthNeedsHTTP
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := client.HealthCheck(ctx)
	if err != nil {
		log.Error("Health check failed: %v", err)
		fmt.Fprintf(stdout, "Speech service is not healthy: %v\n", err)

		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Fprintln(stdout, "Speech service is healthy")

	return nil
}

// handleVoices prints every backend voice and marks the preferred one.
func handleVoices(ctx context.Context, synthesizer core.Synthesizer, stdout io.Writer) error {
	voices, err := synthesizer.Voices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}

	preferred, found := voice.Select(voices)

	for _, v := range voices {
		marker := " "
		if found && v == preferred {
			marker = "*"
		}

		fmt.Fprintf(stdout, "%s %s\t%s\n", marker, v.Name, v.Lang)
	}

	if !found {
		fmt.Fprintln(stdout, "No English voice available; the backend default voice will be used")
	}

	return nil
}

// reader wires one document to a playback module.
type reader struct {
	pagePath string
	manager  *lifecycle.Manager
	timeout  time.Duration
	log      *logger.Logger
}

// handleRead reads the page, then keeps re-reading it on change when watching.
func handleRead(
	ctx context.Context,
	cfg *config.Config,
	synthesizer core.Synthesizer,
	log *logger.Logger,
	flags appFlags,
	stdout io.Writer,
) error {
	outputDir := flags.output
	if outputDir == "" {
		outputDir = cfg.Paths.OutputDir
	}

	if outputDir == "" {
		outputDir = "."
	}

	store, err := objectstore.NewDirStore(outputDir)
	if err != nil {
		return err
	}

	stats := metrics.New(cfg.Site.Name)

	onAudio := func(audio engine.Audio) {
		stats.AudioRendered(audio.Size)
		fmt.Fprintf(stdout, "Generated: %s\n", store.Path(audio.Key))
	}

	eng, err := engine.New(synthesizer, store, log, engine.WithAudioHandler(onAudio))
	if err != nil {
		return fmt.Errorf("failed to create speech engine: %w", err)
	}

	defer func() {
		_ = eng.Close()
	}()

	root, err := loadPage(flags.page)
	if err != nil {
		return err
	}

	doc := dom.New(root)
	binder := ui.NewBinder(doc, log, ui.WithAnnounceClear(cfg.Player.AnnounceClear()))
	ruler := ui.NewRuler(doc, cfg.Accessibility.Preferences(),
		cfg.Accessibility.ViewportHeight, cfg.Accessibility.FontSize)
	loader := lifecycle.EngineLoader(eng, extract.FromDocument(doc), binder, log,
		player.WithMaxChunkLength(cfg.Player.MaxChunkLength),
		player.WithVoiceWait(cfg.Player.VoiceWait()),
		player.WithObserver(stats),
	)

	r := &reader{
		pagePath: flags.page,
		manager:  lifecycle.NewManager(doc, binder, ruler, loader, log, cfg.Player.Warmup()),
		timeout:  cfg.Player.ReadTimeout(),
		log:      log,
	}

	if cfg.Metrics.Enabled {
		go func() {
			serveErr := stats.Serve(ctx, cfg.Metrics.Address)
			if serveErr != nil {
				log.Error("Metrics endpoint stopped: %v", serveErr)
			}
		}()
	}

	r.manager.PageLoad()

	err = r.read(ctx)
	if err != nil {
		return err
	}

	if !flags.watch {
		return nil
	}

	return r.watch(ctx)
}

// read plays the current page to the end.
func (r *reader) read(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.manager.PanelOpened(ctx)

	err := r.manager.Preload(ctx)
	if err != nil {
		return err
	}

	controller := r.manager.Controller()

	err = controller.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	err = controller.Wait(ctx)
	if err != nil {
		controller.Stop()

		return fmt.Errorf("playback did not finish: %w", err)
	}

	return nil
}

// watch navigates to the new page content and reads it every time the page
// file is written, until ctx is done.
func (r *reader) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	defer func() {
		_ = watcher.Close()
	}()

	// Editors replace files on save, so the directory is watched.
	err = watcher.Add(filepath.Dir(r.pagePath))
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.pagePath, err)
	}

	target := filepath.Clean(r.pagePath)
	r.log.Info("Watching %s for changes", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}

			r.reload(ctx)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			return fmt.Errorf("watcher failed: %w", watchErr)
		}
	}
}

// reload swaps in the changed page and reads it. Failures are logged so that
// watching continues.
func (r *reader) reload(ctx context.Context) {
	root, err := loadPage(r.pagePath)
	if err != nil {
		r.log.Warn("Skipping change to %s: %v", r.pagePath, err)

		return
	}

	r.manager.Navigate(root)

	err = r.read(ctx)
	if err != nil {
		r.log.Warn("Failed to read %s: %v", r.pagePath, err)
	}
}

func loadPage(path string) (*html.Node, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	root, err := dom.ParseTree(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", path, err)
	}

	return root, nil
}
