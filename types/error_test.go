package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithAgent("tutorial_generator")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
}

func TestError_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := NewMissingInputError("validate", "roadmap_framework")
	wrapped := fmt.Errorf("stage validate: %w", inner)

	assert.Equal(t, ErrMissingInput, GetErrorCode(wrapped))
	assert.True(t, IsErrorCode(wrapped, ErrMissingInput))
	assert.False(t, IsRetryable(wrapped))

	outer := WrapError(NewRateLimitError("slow down"), ErrAgentFailed, "agent call failed")
	assert.True(t, IsErrorCode(outer, ErrRateLimited))
	assert.True(t, IsErrorCode(outer, ErrAgentFailed))
	assert.Nil(t, WrapError(nil, ErrAgentFailed, "noop"))
}

func TestAsError_PlainError(t *testing.T) {
	t.Parallel()

	_, ok := AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestEmitStageEvent(t *testing.T) {
	t.Parallel()

	var got []StageEvent
	ctx := WithStageEmitter(context.Background(), func(e StageEvent) { got = append(got, e) })

	EmitStageEvent(ctx, StageEvent{Stage: "content_generation", Partial: true})
	EmitStageEvent(ctx, StageEvent{Stage: "content_generation"})
	EmitStageEvent(context.Background(), StageEvent{Stage: "ignored"})

	assert.Len(t, got, 2)
	assert.True(t, got[0].Partial)
	assert.False(t, got[1].Partial)
	assert.Equal(t, context.Background(), WithStageEmitter(context.Background(), nil))
}
