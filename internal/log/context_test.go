// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextWithCorrelationID(t *testing.T) {
	cases := []struct {
		name string
		ctx  context.Context
		id   string
		want string
	}{
		{"nil context", nil, "corr-1", "corr-1"},
		{"background context", context.Background(), "corr-2", "corr-2"},
		{"empty id", context.Background(), "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := ContextWithCorrelationID(tc.ctx, tc.id)
			assert.Equal(t, tc.want, CorrelationIDFromContext(ctx))
		})
	}
}

func TestCorrelationIDFromContext_missing(t *testing.T) {
	assert.Equal(t, "", CorrelationIDFromContext(nil))
	assert.Equal(t, "", CorrelationIDFromContext(context.Background()))
}

func TestContextWithSessionID(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "sess-1")
	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
}

func TestContextWithBlockID(t *testing.T) {
	ctx := ContextWithBlockID(context.Background(), "block-1")
	assert.Equal(t, "block-1", BlockIDFromContext(ctx))
}

func TestContextStacksAllThreeIDs(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithCorrelationID(ctx, "corr-1")
	ctx = ContextWithSessionID(ctx, "sess-1")
	ctx = ContextWithBlockID(ctx, "block-1")

	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
	assert.Equal(t, "block-1", BlockIDFromContext(ctx))
}

func TestWithContext_addsFieldsOnlyWhenPresent(t *testing.T) {
	Configure(Config{})
	base := Base()

	bare := WithContext(context.Background(), base)
	assert.Equal(t, base, bare, "no IDs in context should leave the logger unchanged")

	enriched := WithContext(ContextWithSessionID(context.Background(), "sess-9"), base)
	assert.NotEqual(t, base, enriched)
}
