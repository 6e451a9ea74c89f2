package reqctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMeta(t *testing.T) {
	t.Run("empty context", func(t *testing.T) {
		ctx := context.Background()
		_, ok := RequestMetaFromContext(ctx)
		assert.False(t, ok)
		assert.Empty(t, RequestIDFromContext(ctx))
		assert.Empty(t, OriginFromContext(ctx))
	})

	t.Run("nil meta is treated as missing", func(t *testing.T) {
		ctx := WithRequestMeta(context.Background(), nil)
		_, ok := RequestMetaFromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("origin keeps a given id", func(t *testing.T) {
		ctx := WithOrigin(context.Background(), OriginEvent, "req-1")
		meta, ok := RequestMetaFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "req-1", meta.RequestID)
		assert.Equal(t, OriginEvent, OriginFromContext(ctx))
		assert.False(t, meta.RequestedAt.IsZero())
	})

	t.Run("origin generates an id", func(t *testing.T) {
		a := RequestIDFromContext(WithOrigin(context.Background(), OriginJob, ""))
		b := RequestIDFromContext(WithOrigin(context.Background(), OriginJob, ""))
		assert.NotEmpty(t, a)
		assert.NotEqual(t, a, b)
	})
}

type testClaims struct{ uid, role string }

func (c testClaims) GetUserID() string { return c.uid }
func (c testClaims) GetRole() string   { return c.role }

func TestClaims(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, ClaimsFromContext(context.Background()))

	ctx := WithClaims(context.Background(), testClaims{"u1", "patient"})
	id, ok := UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
	assert.Equal(t, "patient", ClaimsFromContext(ctx).GetRole())

	_, ok = UserIDFromContext(WithClaims(context.Background(), testClaims{role: "system"}))
	assert.False(t, ok)
}
