package signal

import (
	"regexp"

	"github.com/aura-labs/struggle/pkg/models"
)

// terminalErrorPatterns matches common error tokens in terminal output:
// non-zero exit markers, exception traces, and compiler error prefixes.
var terminalErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)exit code [1-9]\d*`),
	regexp.MustCompile(`(?i)\b(traceback|exception|panic|fatal error)\b`),
	regexp.MustCompile(`(?i)\berror(\[[A-Za-z0-9]+\])?:`),
	regexp.MustCompile(`\b[A-Z]{1,4}\d{3,5}:`), // e.g. TS1005:, E0502
}

// TerminalConfig parameterises the terminal detector.
type TerminalConfig struct {
	WindowMs         int64
	ErrorThreshold   int
	MaxErrorsPerFile int
}

// TerminalDetector consumes terminal lines and pattern-matches common
// error tokens, emitting a count and exemplar messages.
type TerminalDetector struct {
	cfg     TerminalConfig
	buffers *perFileBuffers
}

func NewTerminalDetector(cfg TerminalConfig) *TerminalDetector {
	return &TerminalDetector{cfg: cfg, buffers: newPerFileBuffers(cfg.MaxErrorsPerFile)}
}

func (d *TerminalDetector) Type() models.SignalType { return models.SignalTerminal }

func isTerminalError(line string) bool {
	for _, p := range terminalErrorPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func (d *TerminalDetector) Observe(event models.SignalEvent) {
	if event.Kind != models.KindTerminalError && event.Kind != models.KindDiagnosticError {
		return
	}
	line, _ := snippetOf(event)
	if event.Kind == models.KindTerminalError && !isTerminalError(line) {
		return
	}
	d.buffers.get(event.FileKey).push(event)
}

func (d *TerminalDetector) Evaluate(fileKey string, nowMs int64) (models.Signal, bool) {
	events := d.buffers.get(fileKey).windowed(nowMs, d.cfg.WindowMs)
	if len(events) == 0 {
		return models.Signal{}, false
	}

	exemplars := make([]string, 0, min(3, len(events)))
	for i := len(events) - 1; i >= 0 && len(exemplars) < 3; i-- {
		if s, ok := snippetOf(events[i]); ok && s != "" {
			exemplars = append(exemplars, s)
		}
	}

	ratio := float64(len(events)) / float64(max(d.cfg.ErrorThreshold, 1))
	score := smoothstep(ratio)

	sig := models.Signal{
		Type:     models.SignalTerminal,
		Score:    clamp01(score),
		WindowMs: d.cfg.WindowMs,
		Metadata: map[string]any{
			"terminalErrors": exemplars,
			"count":          len(events),
		},
	}
	return sig, true
}
