package logs

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestMultiHandlerFansOutByLevel(t *testing.T) {
	var info, errs bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&errs, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h).With("service", "carebook")

	logger.Info("ledger: credited", "user_id", "u1")
	logger.Error("payout: settle failed")

	assert.Contains(t, info.String(), `"user_id":"u1"`)
	assert.Contains(t, info.String(), "payout: settle failed")
	assert.NotContains(t, errs.String(), "ledger: credited")
	assert.Contains(t, errs.String(), `"service":"carebook"`)

	require.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestContextHandlerAddsRequestMeta(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&contextHandler{next: slog.NewJSONHandler(&buf, nil)})

	ctx := reqctx.WithOrigin(context.Background(), reqctx.OriginJob, "req-7")
	logger.InfoContext(ctx, "jobs: run finished", "job", "expire")
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"origin":"job"`)

	buf.Reset()
	logger.Info("no context")
	assert.NotContains(t, buf.String(), "request_id")
}
