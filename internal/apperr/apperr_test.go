package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedError(t *testing.T) {
	base := New(KindNotFound, "memory not found")
	wrapped := fmt.Errorf("dispatch: %w", base)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindCancelled, KindOf(fmt.Errorf("fanout: %w", context.DeadlineExceeded)))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestCodeMapping(t *testing.T) {
	assert.Equal(t, CodeAuthRequired, Code(New(KindAuthenticationRequired, "login first")))
	assert.Equal(t, CodeInvalidParams, Code(New(KindInvalidArgument, "bad limit")))
	assert.Equal(t, CodeSessionError, Code(context.Canceled))
	assert.Equal(t, CodeInternalError, Code(New(KindStorageFailure, "insert failed")))
}

func TestPayloadShape(t *testing.T) {
	err := New(KindInvalidArgument, "limit must be positive").
		WithDetails(map[string]any{"field": "limit"})
	p := Payload(err)

	require.Equal(t, CodeInvalidParams, p["code"])
	require.Equal(t, "limit must be positive", p["message"])
	data := p["data"].(map[string]any)
	assert.Equal(t, "InvalidArgument", data["kind"])
	assert.Equal(t, map[string]any{"field": "limit"}, data["details"])
}

func TestPayloadNeverLeaksInternals(t *testing.T) {
	p := Payload(errors.New("pq: duplicate key value violates unique constraint"))
	assert.Equal(t, "internal error", p["message"])
}
