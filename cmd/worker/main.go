// Command worker runs the struggle-detection aggregator's backend: it
// serves trigger submission and workflow query over HTTP, executing the
// struggle and audit graphs against a checkpointed Postgres-backed
// runtime.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/aura-labs/struggle/internal/aggregator"
	"github.com/aura-labs/struggle/internal/config"
	"github.com/aura-labs/struggle/internal/knowledge"
	"github.com/aura-labs/struggle/internal/llm"
	"github.com/aura-labs/struggle/internal/store"
	"github.com/aura-labs/struggle/internal/worker"
	"github.com/aura-labs/struggle/internal/workflow"
	"github.com/aura-labs/struggle/internal/workflow/graphs"
	"github.com/aura-labs/struggle/pkg/models"
)

var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to load config")
	}
	stopWatch, err := config.Watch()
	if err != nil {
		log.Warn().Err(err).Msg("worker: config hot-reload disabled")
	} else {
		defer stopWatch()
	}

	log.Info().Str("version", Version).Msg("worker: starting struggle-detection aggregator")

	st, err := store.New(store.Config{DSN: cfg.PostgresDSN, LogLevel: logger.Warn})
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to open store")
	}
	defer st.Close()

	if err := knowledge.RunMigrations(st.DB); err != nil {
		log.Fatal().Err(err).Msg("worker: failed to run knowledge migrations")
	}

	retriever := buildRetriever(cfg, st)
	defer retriever.Close()
	cache := buildCache(cfg)
	llmClient := llm.New(
		llm.NewProvider(cfg.LLMProviderURL, cfg.LLMAPIKey, secondsToDuration(cfg.LLMTimeoutS)),
		cache,
		llm.Config{
			BatchSize:    cfg.BatchSize,
			BatchDelay:   secondsToDuration(cfg.BatchDelayS),
			CacheEnabled: cfg.CacheEnabled,
		},
	)

	deps := graphs.Deps{
		Retriever:        retriever,
		LLM:              llmClient,
		Model:            cfg.LLMModel,
		CallTimeout:      secondsToDuration(cfg.LLMTimeoutS),
		CacheTTL:         time.Duration(cfg.CacheTTLSeconds) * time.Second,
		TopK:             cfg.TopK,
		TriggerThreshold: cfg.TriggerThreshold,
		EditFreqThresh:   cfg.EditFrequencyThresholdPerMin,
	}

	rt := workflow.New(st, workflow.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: 200 * time.Millisecond,
		NodeTimeout:    secondsToDuration(cfg.NodeTimeoutS),
		Namespace:      "struggle",
	})

	aggCfg := aggregator.Config{
		Weights: aggregator.Weights{
			models.SignalUndoRedo:    cfg.WeightUndoRedo,
			models.SignalTimePattern: cfg.WeightTimePattern,
			models.SignalTerminal:    cfg.WeightTerminal,
			models.SignalDebug:       cfg.WeightDebug,
			models.SignalSemantic:    cfg.WeightSemantic,
			models.SignalEditPattern: cfg.WeightEditPattern,
		},
		TriggerThreshold: cfg.TriggerThreshold,
		CooldownMs:       cfg.CooldownMs,
	}
	svc := worker.NewService(Version, st, rt, cache, graphs.NewStruggleGraph(deps), graphs.NewAuditGraph(deps), cfg.WindowMs, aggCfg)

	addr := ":" + strconv.Itoa(cfg.WorkerPort)
	errCh := make(chan error, 1)
	go func() {
		if err := svc.Start(addr, cfg); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("worker: server failed")
	case <-quit:
		log.Info().Msg("worker: received shutdown signal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("worker: shutdown error")
	}
	log.Info().Msg("worker: shutdown complete")
}

// buildRetriever wires the knowledge retriever (C6) to a real pgvector
// index and HTTP embedder. A nil embedder/index still yields a usable
// Retriever that always degrades to an empty Result, matching its
// advisory-only failure contract.
func buildRetriever(cfg *config.Config, st *store.Store) *knowledge.Retriever {
	var index knowledge.Index
	if idx, err := knowledge.NewPGVectorIndex(st.DB); err != nil {
		log.Warn().Err(err).Msg("worker: pgvector index unavailable, retrieval will degrade to empty context")
	} else {
		index = idx
	}

	var embedder knowledge.Embedder
	if cfg.EmbeddingAPIKey != "" {
		embedder = knowledge.NewHTTPEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim, secondsToDuration(cfg.EmbeddingTimeoutS))
	} else {
		log.Warn().Msg("worker: no embedding API key configured, retrieval will degrade to empty context")
	}

	return knowledge.New(embedder, index, knowledge.Config{TopK: cfg.TopK})
}

// buildCache wires the tiered LLM cache (C7): local LRU always, plus a
// distributed Redis tier when configured and reachable. A failed
// distributed dial falls back to local-only rather than failing startup,
// matching the cache's own runtime fallback contract.
func buildCache(cfg *config.Config) *llm.TieredCache {
	local, err := llm.NewLocalCache(cfg.CacheMaxSize)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to build local cache")
	}

	tiered := &llm.TieredCache{Local: local}
	if cfg.DistributedEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dist, err := llm.NewDistributedCache(ctx, llm.DistributedConfig{
			URL:                  cfg.DistributedURL,
			KeyPrefix:            cfg.KeyPrefix,
			PoolSize:             cfg.PoolSize,
			SocketTimeout:        secondsToDuration(cfg.SocketTimeoutS),
			SocketConnectTimeout: secondsToDuration(cfg.SocketConnectTimeoutS),
		})
		if err != nil {
			log.Warn().Err(err).Msg("worker: distributed cache unavailable, using local cache only")
		} else {
			tiered.Distributed = dist
		}
	}
	return tiered
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
