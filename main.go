// Command live-herald watches a Twitch channel and announces the
// offline-to-live edge on Bluesky. It:
//   - Loads configuration and initializes structured logging.
//   - Tests both remote connections before entering the loop.
//   - Runs the poll loop: one status check per interval, a post on the
//     rising edge, duplicate posts suppressed within a two-hour window.
//   - Exposes a minimal HTTP server with /healthz, /status, /metrics, and
//     POST /announce for out-of-band manual posts.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-herald/announce"
	"github.com/onnwee/live-herald/bluesky"
	"github.com/onnwee/live-herald/config"
	"github.com/onnwee/live-herald/linkpreview"
	"github.com/onnwee/live-herald/server"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateAnnounceReady(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	shutdown, err := telemetry.InitTracing("live-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// All remote calls share a 10s ceiling so a hung upstream bounds
	// shutdown latency to one call's timeout.
	httpClient := &http.Client{Timeout: 10 * time.Second}

	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		HTTPClient:   httpClient,
	}
	helix := twitchapi.NewHelixClient(tokens, cfg.TwitchClientID, cfg.TwitchChannel)
	helix.HTTPClient = httpClient

	bsky := &bluesky.Client{
		Handle:      cfg.BlueskyHandle,
		AppPassword: cfg.BlueskyAppPassword,
		HTTPClient:  httpClient,
	}
	var previews bluesky.PreviewFetcher = &linkpreview.Fetcher{HTTPClient: httpClient, Blobs: bsky}
	if os.Getenv("DISABLE_LINK_PREVIEWS") == "1" {
		previews = linkpreview.NopFetcher{}
	}
	poster := &bluesky.Poster{
		Client:       bsky,
		Previews:     previews,
		Announcement: cfg.RenderTemplate(),
		DryRun:       cfg.DryRun,
	}
	if cfg.DryRun {
		slog.Info("dry run mode: no posts will be sent")
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connection checks before entering the loop. Twitch failure is fatal
	// only when the token exchange itself is broken (bad credentials stay
	// broken); Bluesky failure is fatal unless dry-running.
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if _, err := tokens.Get(probeCtx); err != nil {
		cancel()
		slog.Error("twitch connection test failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("twitch connection ok", slog.String("channel", cfg.TwitchChannel))
	if !poster.TestConnection(probeCtx) {
		cancel()
		os.Exit(1)
	}
	cancel()

	announcer := announce.New(helix, poster, cfg.PollInterval)
	go announcer.Run(ctx)

	go func() {
		if err := server.Start(ctx, announcer, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
