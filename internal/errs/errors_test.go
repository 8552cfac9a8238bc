package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	plain := New(ErrKindNotFound, "users u1 not found")
	assert.Equal(t, "[not_found] users u1 not found", plain.Error())

	wrapped := Wrap(ErrKindQueryFailed, "select failed", errors.New("bad column"))
	assert.Equal(t, "[query_failed] select failed: bad column", wrapped.Error())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		kind ErrKind
		pred func(error) bool
	}{
		{ErrKindNotFound, IsNotFound},
		{ErrKindTimeout, IsTimeout},
		{ErrKindConnectionFailed, IsConnectionFailed},
		{ErrKindQueryFailed, IsQueryFailed},
		{ErrKindInvalidInput, IsInvalidInput},
		{ErrKindConfig, IsConfig},
		{ErrKindUnavailable, IsUnavailable},
		{ErrKindBranchFetch, IsBranchFetch},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := New(tt.kind, "boom")
			assert.True(t, tt.pred(err))

			for _, other := range tests {
				if other.kind != tt.kind {
					assert.False(t, other.pred(err))
				}
			}
		})
	}
}

func TestPredicates_TraverseWrapping(t *testing.T) {
	inner := New(ErrKindNotFound, "row missing")
	outer := fmt.Errorf("building graph: %w", inner)
	assert.True(t, IsNotFound(outer))

	rewrapped := Wrap(ErrKindBranchFetch, "branch failed", inner)
	assert.True(t, IsBranchFetch(rewrapped))
	assert.False(t, IsNotFound(rewrapped), "outermost kind wins")
}

func TestPredicates_NonErrsErrors(t *testing.T) {
	err := errors.New("plain")
	assert.False(t, IsNotFound(err))
	assert.False(t, IsConfig(err))
	assert.False(t, IsNotFound(nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(ErrKindConnectionFailed, "connect failed", cause)
	require.ErrorIs(t, err, cause)
}
