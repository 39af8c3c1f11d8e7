package stream

import (
	"flag"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestNormalizeError(t *testing.T) {
	assert.Equal(t, NormalizeError(nil), nil)

	apiErr := NewApiError(404, "not found")
	assert.Equal(t, NormalizeError(apiErr), apiErr)

	// wrapped api errors unwrap to the original
	wrapped := fmt.Errorf("request failed: %w", apiErr)
	assert.Equal(t, NormalizeError(wrapped), apiErr)

	// anything else gets a synthetic 500
	normalized := NormalizeError(fmt.Errorf("connection refused"))
	assert.Equal(t, normalized.Status, 500)
	assert.Equal(t, normalized.Message, "connection refused")
	assert.NotEqual(t, normalized.Timestamp, "")
}

func TestApiErrorMessage(t *testing.T) {
	apiErr := NewApiError(400, "invalid email")
	assert.Equal(t, apiErr.Error(), "api error (400): invalid email")
}

func TestId(t *testing.T) {
	a := NewId()
	b := NewId()
	assert.NotEqual(t, a, b)
	assert.Equal(t, len(a.String()), 26)
}
