package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("accept", "password", "hunter22", "client_secret", "s", "google_id_token", "x", "token_prefix", "abcd1234...")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[REDACTED]", rec["password"])
	assert.Equal(t, "[REDACTED]", rec["client_secret"])
	assert.Equal(t, "[REDACTED]", rec["google_id_token"])
	assert.Equal(t, "abcd1234...", rec["token_prefix"])
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), ContextKeyRequestID, "req-1")
	ctx = context.WithValue(ctx, ContextKeyTenantID, "tenant-1")
	log.WithContext(ctx).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "tenant-1", rec["tenant_id"])
	assert.NotContains(t, rec, "user_id")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in).String(), in)
	}
}

func TestSamplingHandler(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
		Sampling: SamplingConfig{
			Enabled:     true,
			Tick:        time.Hour,
			Threshold:   3,
			Every:       5,
			NeverSample: []string{"security:"},
		},
	})
	before := testutil.ToFloat64(LogsDropped.WithLabelValues("warn"))

	for range 13 {
		log.Warn("invalid token format")
	}
	for range 5 {
		log.Warn("security: token hash mismatch")
	}
	for range 5 {
		log.Error("storage down")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// 3 under threshold, then the 5th and 10th over it, plus 5 security and 5 errors.
	assert.Len(t, lines, 3+2+5+5)
	assert.InDelta(t, 8, testutil.ToFloat64(LogsDropped.WithLabelValues("warn"))-before, 0.001)
}

func TestSamplingHandler_Disabled(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})
	for range 200 {
		log.Info("same")
	}
	assert.Equal(t, 200, strings.Count(buf.String(), "msg=same"))
}
