package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aura-labs/struggle/internal/aggregator"
	"github.com/aura-labs/struggle/internal/config"
	"github.com/aura-labs/struggle/internal/llm"
	"github.com/aura-labs/struggle/internal/store"
	"github.com/aura-labs/struggle/internal/trigger"
	"github.com/aura-labs/struggle/internal/workflow"
	"github.com/aura-labs/struggle/pkg/models"
)

// submissionRequest binds the trigger submission's external interface
// contract fields.
type submissionRequest struct {
	FileKey                string            `json:"file_key"`
	EditFrequency          float64           `json:"edit_frequency"`
	ErrorLogs              []string          `json:"error_logs"`
	History                []string          `json:"history"`
	Source                 string            `json:"source"`
	FilePath               string            `json:"file_path,omitempty"`
	LanguageID             string            `json:"language_id,omitempty"`
	CodeSnippet            string            `json:"code_snippet,omitempty"`
	ClientTimestamp        int64             `json:"client_timestamp"`
	StruggleReason         string            `json:"struggle_reason,omitempty"`
	RetryCount             int               `json:"retry_count,omitempty"`
	CombinedScore          float64           `json:"combined_score,omitempty"`
	PrimarySignal          models.SignalType `json:"primary_signal,omitempty"`
	Signals                []models.Signal   `json:"signals,omitempty"`
	UndoRedoPattern        string            `json:"undo_redo_pattern,omitempty"`
	HesitationMs           int64             `json:"hesitation_ms,omitempty"`
	TerminalErrors         []string          `json:"terminal_errors,omitempty"`
	DebugBreakpointChanges int               `json:"debug_breakpoint_changes,omitempty"`
	SendCodeSnippet        bool              `json:"send_code_snippet"`
	SendFilePath           bool              `json:"send_file_path"`
	SnoozedUntilMs         int64             `json:"snoozed_until_ms,omitempty"`
}

// triggerBridge adapts a submissionRequest onto the trigger bridge's
// Submit(ctx, fileKey, nowMs, decision, struggleContext, req) signature.
// agg is nil for the audit bridge, which has no C1/C2 signal fusion to
// gate on; the struggle bridge's agg enforces the server-side cooldown
// (testable invariant #3) before a submission ever reaches the runtime.
type triggerBridge struct {
	bridge *trigger.Bridge
	agg    *aggregator.Aggregator
}

func (tb *triggerBridge) submit(ctx context.Context, req submissionRequest) (models.WorkflowState, error) {
	nowMs := req.ClientTimestamp
	if nowMs == 0 {
		nowMs = time.Now().UnixMilli()
	}

	decision := models.AggregatedDecision{
		PrimarySignal: req.PrimarySignal,
		Signals:       req.Signals,
		CombinedScore: req.CombinedScore,
		ShouldTrigger: true,
	}
	if tb.agg != nil {
		for _, sig := range req.Signals {
			tb.agg.Update(req.FileKey, sig)
		}
		if req.SnoozedUntilMs > 0 {
			tb.agg.SetClientSnooze(req.FileKey, req.SnoozedUntilMs)
		}
		decision = tb.agg.Evaluate(req.FileKey, nowMs)
		if !decision.ShouldTrigger {
			return models.WorkflowState{
				Status:       models.ThreadPending,
				IsStruggling: false,
				UpdatedAt:    time.UnixMilli(nowMs),
			}, nil
		}
		tb.agg.Accept(req.FileKey, nowMs)
	}
	sctx := models.StruggleContext{
		FileKey:         req.FileKey,
		FilePath:        req.FilePath,
		LanguageID:      req.LanguageID,
		Snippet:         req.CodeSnippet,
		DiagnosticsErrs: req.ErrorLogs,
	}
	treq := trigger.Request{
		Source:                 req.Source,
		StruggleReason:         req.StruggleReason,
		FilePath:               req.FilePath,
		LanguageID:             req.LanguageID,
		CodeSnippet:            req.CodeSnippet,
		UndoRedoPattern:        req.UndoRedoPattern,
		PrimarySignal:          req.PrimarySignal,
		ErrorLogs:              req.ErrorLogs,
		History:                req.History,
		TerminalErrors:         req.TerminalErrors,
		Signals:                req.Signals,
		EditFrequency:          req.EditFrequency,
		ClientTimestampMs:      nowMs,
		RetryCount:             req.RetryCount,
		CombinedScore:          req.CombinedScore,
		HesitationMs:           req.HesitationMs,
		DebugBreakpointChanges: req.DebugBreakpointChanges,
		SendCodeSnippet:        req.SendCodeSnippet,
		SendFilePath:           req.SendFilePath,
	}

	return tb.bridge.Submit(ctx, req.FileKey, nowMs, decision, sctx, treq)
}

// Service hosts the HTTP surface: trigger submission for the struggle and
// audit graphs, workflow query/list, and health/readiness.
type Service struct {
	version        string
	store          *store.Store
	runtime        *workflow.Runtime
	cache          *llm.TieredCache
	struggleBridge *triggerBridge
	auditBridge    *triggerBridge
	dedup          *RequestDeduplicator

	httpServer *http.Server
}

// NewService wires one Service around the shared runtime/store/cache and
// the two graph-bound trigger bridges. epochWindowMs is the coalescing
// window trigger.NewBridge uses for both bridges. aggCfg parameterises the
// signal aggregator (C2) that gates the struggle bridge on combined score
// and cooldown; the audit bridge has no analogous signal fusion and never
// receives one.
func NewService(version string, st *store.Store, rt *workflow.Runtime, cache *llm.TieredCache, struggleGraph, auditGraph workflow.Graph, epochWindowMs int64, aggCfg aggregator.Config) *Service {
	return &Service{
		version:        version,
		store:          st,
		runtime:        rt,
		cache:          cache,
		struggleBridge: &triggerBridge{bridge: trigger.NewBridge(rt.Bind(struggleGraph), epochWindowMs), agg: aggregator.New(aggCfg)},
		auditBridge:    &triggerBridge{bridge: trigger.NewBridge(rt.Bind(auditGraph), epochWindowMs)},
		dedup:          NewRequestDeduplicator(5*time.Minute, 1000),
	}
}

// Router assembles the chi route tree: baseline middleware on every route,
// per-endpoint rate-limit overrides on the two trigger endpoints.
func (s *Service) Router(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(MaxBodySize(1 << 20))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(api chi.Router) {
		api.Use(RequireJSONContentType)

		struggleLimit, auditLimit := rateLimitOverridesFor(cfg)

		api.Group(func(sr chi.Router) {
			if cfg.RateLimitEnabled {
				sr.Use(PerClientRateLimitMiddleware(NewPerClientRateLimiter(struggleLimit.Requests, struggleLimit.WindowS)))
			}
			sr.Post("/struggle", s.handleStruggleTrigger)
		})

		api.Group(func(ar chi.Router) {
			if cfg.RateLimitEnabled {
				ar.Use(PerClientRateLimitMiddleware(NewPerClientRateLimiter(auditLimit.Requests, auditLimit.WindowS)))
			}
			ar.Post("/audit", s.handleAuditTrigger)
		})

		api.Get("/workflows", s.handleWorkflowList)
		api.Get("/workflows/{thread_id}", s.handleWorkflowGet)
	})

	return r
}

// rateLimitOverridesFor resolves the /api/struggle and /api/audit rate
// limit rules from config, falling back to the global rate limit for
// whichever endpoint has no override configured.
func rateLimitOverridesFor(cfg *config.Config) (struggle, audit config.RateLimitRule) {
	struggle = config.RateLimitRule{Endpoint: "/api/struggle", Requests: cfg.RateLimitRequests, WindowS: cfg.RateLimitWindowS}
	audit = config.RateLimitRule{Endpoint: "/api/audit", Requests: cfg.RateLimitRequests, WindowS: cfg.RateLimitWindowS}
	for _, rule := range cfg.RateLimitOverrides {
		switch rule.Endpoint {
		case "/api/struggle":
			struggle = rule
		case "/api/audit":
			audit = rule
		}
	}
	return struggle, audit
}

// Start binds the HTTP listener and serves until Shutdown is called or the
// server fails. It blocks, matching net/http.Server.ListenAndServe's
// contract.
func (s *Service) Start(addr string, cfg *config.Config) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("worker: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
