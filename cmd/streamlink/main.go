package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/streamlink/internal/config"
	"github.com/you/streamlink/internal/httpapi"
	"github.com/you/streamlink/internal/kvstore"
	"github.com/you/streamlink/internal/quota"
	"github.com/you/streamlink/internal/state"
	"github.com/you/streamlink/internal/supervisor"
	"github.com/you/streamlink/internal/syncbus"
)

// Overridden at link time via -ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildTime    = "unknown"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("streamlink: .env: %v", err)
	}

	var (
		versionFlag     bool
		verbose         bool
		kvPath          string
		twChannel       string
		twClientID      string
		twToken         string
		ytVideo         string
		ytAPIKey        string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.StringVar(&kvPath, "kv", "", "Path to the shared key/value database file")
	flag.StringVar(&twChannel, "twitch-channel", "", "Twitch channel to join (without #)")
	flag.StringVar(&twClientID, "twitch-client-id", "", "Twitch application client ID (enables viewer and hype train polling)")
	flag.StringVar(&twToken, "twitch-token", "", "Twitch user access token (oauth: prefix optional)")
	flag.StringVar(&ytVideo, "youtube-video", "", "YouTube video ID or URL of the live stream")
	flag.StringVar(&ytAPIKey, "youtube-api-key", "", "YouTube Data API key")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (e.g., :8791)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 0, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 0, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.Parse()

	if versionFlag {
		fmt.Printf("streamlink version: %s (commit %s, built %s)\n", buildVersion, buildCommit, buildTime)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["kv"] {
		cfg.Server.KVPath = strings.TrimSpace(kvPath)
	}
	if overrides["twitch-channel"] {
		cfg.Settings.TwitchChannel = strings.TrimSpace(twChannel)
	}
	if overrides["twitch-client-id"] {
		cfg.Settings.TwitchClientID = strings.TrimSpace(twClientID)
	}
	if overrides["twitch-token"] {
		cfg.Settings.TwitchAccessToken = strings.TrimSpace(twToken)
	}
	if overrides["youtube-video"] {
		cfg.Settings.YouTubeVideoID = strings.TrimSpace(ytVideo)
	}
	if overrides["youtube-api-key"] {
		cfg.Settings.YouTubeAPIKey = strings.TrimSpace(ytAPIKey)
	}
	if overrides["http-addr"] {
		cfg.Server.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.Server.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] && httpRateRPS > 0 {
		cfg.Server.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] && httpRateBurst > 0 {
		cfg.Server.RateBurst = httpRateBurst
	}
	if overrides["http-metrics"] {
		cfg.Server.Metrics = httpMetrics
	}
	if overrides["http-access-log"] {
		cfg.Server.AccessLog = httpAccessLog
	}

	log.Printf("streamlink: settings %s", cfg.Settings.RedactedJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("streamlink: received %s, shutting down", sig)
		cancel()
	}()

	store, err := kvstore.Open(cfg.Server.KVPath)
	if err != nil {
		log.Fatalf("streamlink: open kv store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("streamlink: closing kv store: %v", err)
		}
	}()

	tracker := quota.New(store)
	live := config.NewLive(cfg.Settings)
	bus := syncbus.New(store, live.Dismiss)

	hub, err := state.New(bus)
	if err != nil {
		log.Fatalf("streamlink: state store: %v", err)
	}

	listener := syncbus.NewListener(store, hub, bus.Origin())
	if err := listener.Run(ctx); err != nil {
		log.Fatalf("streamlink: sync listener: %v", err)
	}

	if units, err := tracker.Usage(ctx); err != nil {
		log.Printf("streamlink: read quota usage: %v", err)
	} else {
		hub.SetQuota(units)
	}

	sup := supervisor.New(ctx, hub, tracker, bus, live)
	sup.Apply(cfg.Settings)

	build := httpapi.BuildInfo{Version: buildVersion, Revision: buildCommit}
	if buildTime != "" && buildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, buildTime); err == nil {
			build.BuiltAt = t
		}
	}

	api := httpapi.New(hub, bus, sup, tracker, live, httpapi.Options{
		Addr:        cfg.Server.Addr,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateRPS:     cfg.Server.RateRPS,
		RateBurst:   cfg.Server.RateBurst,
		AccessLog:   cfg.Server.AccessLog,
		Metrics:     cfg.Server.Metrics,
		Build:       build,
	})
	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("streamlink: http api: %v", err)
		}
	}()
	log.Printf("streamlink: http api ready on %s", cfg.Server.Addr)

	<-ctx.Done()

	sup.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("streamlink: http api shutdown: %v", err)
	}
	cancelShutdown()

	log.Printf("streamlink: shutdown complete")
}
