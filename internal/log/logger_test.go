package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestRequestIDMissing(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "", RequestIDFromContext(nil)) //nolint:staticcheck
}

func TestContextWithNilParent(t *testing.T) {
	ctx := ContextWithRequestID(nil, "x") //nolint:staticcheck
	assert.Equal(t, "x", RequestIDFromContext(ctx))
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("vast")
	// Logging must not panic on an uninitialised-looking logger.
	l.Debug().Msg("noop")
}
