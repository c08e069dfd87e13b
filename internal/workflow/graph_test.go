package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_ApplyPatch(t *testing.T) {
	s := State{"a": 1, "b": "keep"}
	out := s.ApplyPatch(State{"a": 2, "c": true})

	assert.Equal(t, 2, out["a"])
	assert.Equal(t, "keep", out["b"])
	assert.Equal(t, true, out["c"])
}

func TestState_ApplyPatch_NilReceiver(t *testing.T) {
	var s State
	out := s.ApplyPatch(State{"x": 1})
	assert.Equal(t, State{"x": 1}, out)
}

func TestState_Clone_Independent(t *testing.T) {
	s := State{"a": 1}
	clone := s.Clone()
	clone["a"] = 2

	assert.Equal(t, 1, s["a"])
	assert.Equal(t, 2, clone["a"])
}
