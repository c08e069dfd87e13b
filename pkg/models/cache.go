package models

import "time"

// CacheEntry is the value stored in the LLM response cache, keyed by
// SHA256(prompt ∥ model ∥ temperature_bucket).
type CacheEntry struct {
	CreatedAt time.Time     `json:"created_at"`
	Response  string        `json:"response"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (c CacheEntry) Expired(now time.Time) bool {
	return now.After(c.CreatedAt.Add(c.TTL))
}
