package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Result-cache tuning, grounded on the teacher's search.Manager cache/
// warming constants.
const (
	defaultResultCacheTTL     = 30 * time.Second
	defaultResultCacheMaxSize = 200
	resultCacheEvictionPct    = 10

	warmingInitDelay    = 30 * time.Second
	warmingInterval     = 20 * time.Second
	frequencyGCInterval = 5 * time.Minute
	staleFrequencyAfter = 24 * time.Hour
	recentQueryWindow   = time.Hour
	warmingBatchSize    = 5
	warmingQueryTimeout = 5 * time.Second
	minRecencyFactor    = 0.1
)

// cachedResult is one entry of the retrieval result cache: a completed
// Query answer plus its expiry.
type cachedResult struct {
	result    Result
	expiresAt time.Time
}

// queryFrequencyInfo tracks how often a (combined query, topK) pair is
// requested, so the warming loop can re-run the hottest ones before they
// expire.
type queryFrequencyInfo struct {
	lastUsed   time.Time
	lastCached time.Time
	combined   string
	topK       int
	count      int64
}

// resultCache is the TTL-bounded, frequency-warmed cache sitting in front
// of Retriever.query. It is adapted from the teacher's search.Manager
// result cache and cache-warming loop, applied here to knowledge queries
// keyed on (combined query text, topK) instead of search parameters.
type resultCache struct {
	mu       sync.RWMutex
	entries  map[string]*cachedResult
	freqMu   sync.RWMutex
	freq     map[string]*queryFrequencyInfo
	ttl      time.Duration
	maxSize  int
	cancel   context.CancelFunc
	warmFn   func(ctx context.Context, combined string, topK int) (Result, error)
}

func newResultCache(ttl time.Duration, maxSize int, warmFn func(ctx context.Context, combined string, topK int) (Result, error)) *resultCache {
	if ttl <= 0 {
		ttl = defaultResultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = defaultResultCacheMaxSize
	}
	rc := &resultCache{
		entries: make(map[string]*cachedResult),
		freq:    make(map[string]*queryFrequencyInfo),
		ttl:     ttl,
		maxSize: maxSize,
		warmFn:  warmFn,
	}
	ctx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	go rc.cleanupLoop(ctx)
	go rc.warmingLoop(ctx)
	return rc
}

func (rc *resultCache) Close() {
	if rc.cancel != nil {
		rc.cancel()
	}
}

func (rc *resultCache) get(key string) (Result, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	cached, ok := rc.entries[key]
	if !ok || time.Now().After(cached.expiresAt) {
		return Result{}, false
	}
	return cached.result, true
}

func (rc *resultCache) put(key string, result Result) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if len(rc.entries) >= rc.maxSize {
		evictCount := rc.maxSize * resultCacheEvictionPct / 100
		if evictCount < 1 {
			evictCount = 1
		}
		evicted := 0
		for k := range rc.entries {
			delete(rc.entries, k)
			evicted++
			if evicted >= evictCount {
				break
			}
		}
	}
	rc.entries[key] = &cachedResult{result: result, expiresAt: time.Now().Add(rc.ttl)}
}

// recordQuery notes that key (combined, topK) was requested, for the
// warming loop's frequency scoring.
func (rc *resultCache) recordQuery(key, combined string, topK int) {
	rc.freqMu.Lock()
	defer rc.freqMu.Unlock()
	info, ok := rc.freq[key]
	if !ok {
		info = &queryFrequencyInfo{combined: combined, topK: topK}
		rc.freq[key] = info
	}
	info.lastUsed = time.Now()
	info.count++
}

func (rc *resultCache) recordCached(key string) {
	rc.freqMu.Lock()
	defer rc.freqMu.Unlock()
	if info, ok := rc.freq[key]; ok {
		info.lastCached = time.Now()
	}
}

func (rc *resultCache) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.cleanupExpired()
		}
	}
}

func (rc *resultCache) cleanupExpired() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	now := time.Now()
	for k, cached := range rc.entries {
		if now.After(cached.expiresAt) {
			delete(rc.entries, k)
		}
	}
}

func (rc *resultCache) warmingLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(warmingInitDelay):
	}

	warmTicker := time.NewTicker(warmingInterval)
	gcTicker := time.NewTicker(frequencyGCInterval)
	defer warmTicker.Stop()
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-warmTicker.C:
			rc.warmFrequentQueries(ctx)
		case <-gcTicker.C:
			rc.gcStaleFrequencyEntries()
		}
	}
}

func (rc *resultCache) gcStaleFrequencyEntries() {
	rc.freqMu.Lock()
	defer rc.freqMu.Unlock()
	now := time.Now()
	for k, info := range rc.freq {
		if now.Sub(info.lastUsed) > staleFrequencyAfter {
			delete(rc.freq, k)
		}
	}
}

// warmFrequentQueries scores candidates by count * recency and re-runs the
// hottest ones that are about to fall out of cache, so a subsequent Query
// call finds a warm entry instead of paying the embed+index round trip.
func (rc *resultCache) warmFrequentQueries(ctx context.Context) {
	type scored struct {
		key   string
		info  *queryFrequencyInfo
		score float64
	}

	rc.freqMu.RLock()
	now := time.Now()
	candidates := make([]scored, 0, len(rc.freq))
	for key, info := range rc.freq {
		if now.Sub(info.lastUsed) > recentQueryWindow {
			continue
		}
		if now.Sub(info.lastCached) < rc.ttl/2 {
			continue
		}
		recency := 1.0 - now.Sub(info.lastUsed).Seconds()/recentQueryWindow.Seconds()
		if recency < minRecencyFactor {
			recency = minRecencyFactor
		}
		candidates = append(candidates, scored{key: key, info: info, score: float64(info.count) * recency})
	}
	rc.freqMu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	warmCount := warmingBatchSize
	if len(candidates) < warmCount {
		warmCount = len(candidates)
	}
	for i := 0; i < warmCount; i++ {
		c := candidates[i]
		wctx, cancel := context.WithTimeout(ctx, warmingQueryTimeout)
		result, err := rc.warmFn(wctx, c.info.combined, c.info.topK)
		cancel()
		if err != nil {
			continue
		}
		rc.put(c.key, result)
		rc.recordCached(c.key)
		log.Debug().Str("query", truncateForLog(c.info.combined, 30)).Float64("score", c.score).Msg("knowledge: cache warmed for frequent query")
	}
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
