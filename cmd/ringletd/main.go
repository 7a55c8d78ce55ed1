// Command ringletd runs the AI phone agent: it answers inbound calls,
// bridges telephony media to speech recognition and synthesis, and serves
// the operator-facing HTTP and realtime endpoints.
//
// Usage:
//
//	export OPENAI_API_KEY=sk-...
//	export DEEPGRAM_API_KEY=...
//	go run ./cmd/ringletd
//
// All providers are optional; missing credentials degrade the owning
// component instead of failing startup. See the config package for the
// full variable list.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ringlet-ai/ringlet/api"
	"github.com/ringlet-ai/ringlet/config"
	"github.com/ringlet-ai/ringlet/escalation"
	"github.com/ringlet-ai/ringlet/generation"
	"github.com/ringlet-ai/ringlet/logger"
	"github.com/ringlet-ai/ringlet/media"
	prom "github.com/ringlet-ai/ringlet/metrics/prometheus"
	"github.com/ringlet-ai/ringlet/notify"
	"github.com/ringlet-ai/ringlet/orchestrator"
	"github.com/ringlet-ai/ringlet/recording"
	"github.com/ringlet-ai/ringlet/retrieval"
	"github.com/ringlet-ai/ringlet/routing"
	"github.com/ringlet-ai/ringlet/statestore"
	"github.com/ringlet-ai/ringlet/store"
	"github.com/ringlet-ai/ringlet/stt"
	"github.com/ringlet-ai/ringlet/telephony"
	"github.com/ringlet-ai/ringlet/tts"
	"github.com/ringlet-ai/ringlet/version"
)

const (
	shutdownTimeout   = 15 * time.Second
	staleSweepPeriod  = 10 * time.Minute
	staleSessionAge   = 2 * time.Hour
	readHeaderTimeout = 10 * time.Second
)

func main() {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Info("ringlet starting", version.BuildInfo()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := buildSessionStore(ctx, cfg)
	calls, pool := buildCallStore(ctx, cfg)
	if pool != nil {
		defer pool.Close()
	}

	var gen *generation.Client
	if cfg.OpenAIAPIKey != "" {
		gen = generation.NewClient(cfg.OpenAIAPIKey)
	} else {
		logger.Warn("OPENAI_API_KEY unset: generation, routing, and retrieval are degraded")
	}

	var retriever retrieval.Searcher
	if pool != nil && gen != nil {
		retriever = retrieval.NewPgSearcher(pool, gen)
	}

	var classifier routing.ComplexityClassifier
	var sensitiveClassifier escalation.Classifier
	var generator orchestrator.Generator
	if gen != nil {
		classifier = gen
		sensitiveClassifier = gen
		generator = &generatorAdapter{client: gen}
	}

	registry := media.NewRegistry()
	hub := notify.NewHub()
	channels := notify.NewChannels(notify.ChannelConfig{
		TwilioSID:         cfg.TwilioSID,
		TwilioToken:       cfg.TwilioToken,
		TwilioFromNumber:  cfg.TwilioFromNumber,
		SendGridAPIKey:    cfg.SendGridAPIKey,
		SendGridFromEmail: cfg.SendGridFromEmail,
		FCMServerKey:      cfg.FCMServerKey,
	})
	control := telephony.NewController(cfg.TelnyxAPIKey)

	var synthService tts.Service
	if cfg.SynthesisEnabled() {
		synthService = tts.NewElevenLabs(cfg.ElevenLabsAPIKey)
	} else {
		logger.Warn("speech synthesis unconfigured: calls run without audio replies")
	}
	synthConfig := tts.DefaultSynthesisConfig()
	synthConfig.Voice = cfg.ElevenLabsVoiceID

	handler := orchestrator.New(
		orchestrator.Config{
			EventTimeout:   cfg.EventTimeout,
			MaxTurns:       cfg.MaxTurns,
			PrefetchMinLen: cfg.PrefetchMinLen,
			PublicBaseURL:  cfg.PublicBaseURL,
		},
		registry,
		sessions,
		calls,
		func(_ string, source stt.AudioSource) orchestrator.RecognitionStream {
			return stt.NewDeepgram(cfg.DeepgramAPIKey, source)
		},
		func(_ string, sink tts.Sink) orchestrator.SpeechController {
			return tts.NewController(synthService, synthConfig, sink)
		},
		retriever,
		routing.NewRouter(cfg.OpenAIPrimaryModel, cfg.OpenAIComplexModel, classifier),
		generator,
		escalation.NewEvaluator(sensitiveClassifier),
		control,
		hub,
		channels,
	)

	var apiOpts []api.Option
	var recorder *recording.Recorder
	if cfg.RecordingsDir != "" {
		var err error
		recorder, err = recording.NewRecorder(cfg.RecordingsDir, cfg.RecordingTTL)
		if err != nil {
			logger.Error("recorder setup failed", "error", err)
			os.Exit(1)
		}
		apiOpts = append(apiOpts, api.WithRecorder(recorder))
	}

	apiServer := api.NewServer(handler, registry, sessions, hub, apiOpts...)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	exporter := prom.NewExporter(cfg.MetricsAddr)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("metrics exporter listening", "addr", cfg.MetricsAddr)
		if err := exporter.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		runStaleSweeper(ctx, sessions)
		return nil
	})

	if recorder != nil {
		g.Go(func() error {
			runRecordingSweeper(ctx, recorder)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", "error", err)
		}
		if err := exporter.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics exporter shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("service stopped")
}

// buildSessionStore connects to Redis, falling back to the in-memory store
// when Redis is unreachable at startup.
func buildSessionStore(ctx context.Context, cfg *config.Config) statestore.Store {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory session store",
			"addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return statestore.NewMemoryStore(statestore.WithMemoryTTL(cfg.SessionTTL))
	}

	logger.Info("session store connected", "addr", cfg.RedisAddr)
	return statestore.NewRedisStore(client, statestore.WithTTL(cfg.SessionTTL))
}

// buildCallStore connects to Postgres when a DSN is configured; otherwise it
// serves from memory, optionally bootstrapped from a YAML seed file.
func buildCallStore(ctx context.Context, cfg *config.Config) (store.CallStore, *pgxpool.Pool) {
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		logger.Info("call store connected")
		return store.NewPgCallStore(pool), pool
	}

	logger.Warn("POSTGRES_DSN unset: calls are stored in memory only")
	mem := store.NewMemoryCallStore()
	if path := os.Getenv("SEED_FILE"); path != "" {
		seed, err := store.LoadSeedFile(path)
		if err != nil {
			logger.Error("seed file load failed", "path", path, "error", err)
			os.Exit(1)
		}
		mem.ApplySeed(seed)
		logger.Info("seed data loaded", "path", path, "businesses", len(seed.Businesses))
	}
	return mem, nil
}

// runRecordingSweeper periodically deletes call recordings past retention.
func runRecordingSweeper(ctx context.Context, recorder *recording.Recorder) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := recorder.CleanupExpired()
			if err != nil {
				logger.Warn("recording sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expired recordings removed", "count", removed)
			}
		}
	}
}

// runStaleSweeper periodically removes session entries that stopped being
// refreshed, backstopping TTL expiry.
func runStaleSweeper(ctx context.Context, sessions statestore.Store) {
	cleaner, ok := sessions.(statestore.StaleCleaner)
	if !ok {
		return
	}

	ticker := time.NewTicker(staleSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cleaner.CleanupStale(ctx, staleSessionAge)
			if err != nil {
				logger.Warn("stale session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("stale sessions removed", "count", removed)
			}
		}
	}
}

// generatorAdapter bridges the generation client's action-point type to the
// orchestrator's.
type generatorAdapter struct {
	client *generation.Client
}

func (a *generatorAdapter) Generate(ctx context.Context, model, userText string, snippets []string) (string, error) {
	return a.client.Generate(ctx, model, userText, snippets)
}

func (a *generatorAdapter) Summarize(ctx context.Context, transcript string) (string, error) {
	return a.client.Summarize(ctx, transcript)
}

func (a *generatorAdapter) ExtractActionPoints(ctx context.Context, summary string) ([]orchestrator.ActionPoint, error) {
	extracted, err := a.client.ExtractActionPoints(ctx, summary)
	if err != nil {
		return nil, err
	}
	points := make([]orchestrator.ActionPoint, len(extracted))
	for i, p := range extracted {
		points[i] = orchestrator.ActionPoint{Type: p.Type, Details: p.Details}
	}
	return points, nil
}
