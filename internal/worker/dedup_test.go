package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestDeduplicator_FlagsExactRepeatWithinTTL(t *testing.T) {
	d := NewRequestDeduplicator(time.Minute, 10)
	hash := hashSubmission("file1", []byte(`{"a":1}`))

	assert.False(t, d.IsDuplicate(hash))
	d.Record(hash)
	assert.True(t, d.IsDuplicate(hash))
}

func TestRequestDeduplicator_ExpiresAfterTTL(t *testing.T) {
	d := NewRequestDeduplicator(10*time.Millisecond, 10)
	hash := hashSubmission("file1", []byte(`{"a":1}`))

	d.Record(hash)
	assert.True(t, d.IsDuplicate(hash))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, d.IsDuplicate(hash))
}

func TestHashSubmission_DiffersOnFileKeyOrBody(t *testing.T) {
	base := hashSubmission("file1", []byte(`{"a":1}`))
	assert.NotEqual(t, base, hashSubmission("file2", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, hashSubmission("file1", []byte(`{"a":2}`)))
}

func TestRequestDeduplicator_EvictsStaleEntriesAtCapacity(t *testing.T) {
	d := NewRequestDeduplicator(10*time.Millisecond, 2)

	d.Record("h1")
	time.Sleep(20 * time.Millisecond)
	d.Record("h2")
	d.Record("h3")

	assert.False(t, d.IsDuplicate("h1"))
}
