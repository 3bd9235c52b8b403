package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/pay-ledger-sub002/common/middleware"
)

func TestNewWithWriter(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		expectJS bool
	}{
		{name: "json", format: "json", expectJS: true},
		{name: "text", format: "text", expectJS: false},
		{name: "default is json", format: "", expectJS: true},
		{name: "case insensitive", format: "TEXT", expectJS: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, slog.LevelInfo, tt.format)
			require.NotNil(t, logger.Logger)

			logger.Info("projection stored")
			var decoded map[string]any
			err := json.Unmarshal(buf.Bytes(), &decoded)
			if tt.expectJS {
				require.NoError(t, err)
				assert.Equal(t, "projection stored", decoded["msg"])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "msg=\"projection stored\"")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn, "json")

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	ctx := middleware.WithRequestID(context.Background(), "delivery-123")
	logger.InfoContext(ctx, "event stored", DeliveryID("delivery-123"))
	assert.Contains(t, buf.String(), `"request_id":"delivery-123"`)
	assert.Contains(t, buf.String(), `"delivery_id":"delivery-123"`)

	buf.Reset()
	logger.InfoContext(context.Background(), "no request")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestContextLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelDebug, "json")
	ctx := context.Background()

	logger.DebugContext(ctx, "d")
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
	buf.Reset()
	logger.WarnContext(ctx, "w")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	buf.Reset()
	logger.ErrorContext(ctx, "e")
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestWithAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json").With(Service("ledger"))

	logger.Component("consumer").Info("polling")
	assert.Contains(t, buf.String(), `"service":"ledger"`)
	assert.Contains(t, buf.String(), `"component":"consumer"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(NewWithWriter(&buf, slog.LevelInfo, "json"))
	slog.Info("via default")
	assert.Contains(t, buf.String(), "via default")
	assert.Equal(t, slog.Default(), Default().Logger)
}
