package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"quota exhausted is retryable", &GatewayError{Kind: KindQuotaExhausted}, true},
		{"circuit open is retryable", &GatewayError{Kind: KindCircuitOpen}, true},
		{"transient provider is retryable", &GatewayError{Kind: KindTransientProvider}, true},
		{"validation is not retryable", &GatewayError{Kind: KindValidation}, false},
		{"permanent provider is not retryable", &GatewayError{Kind: KindPermanentProvider}, false},
		{"plain error is not retryable", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(&GatewayError{Kind: KindValidation}))
	assert.True(t, IsTerminal(&GatewayError{Kind: KindTimeout}))
	assert.False(t, IsTerminal(&GatewayError{Kind: KindQuotaExhausted}))
	assert.True(t, IsTerminal(errors.New("unwrapped")))
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("upstream 503")
	err := WrapGatewayError("provider.Infer", KindTransientProvider, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider.Infer")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindCircuitOpen, KindOf(&GatewayError{Kind: KindCircuitOpen}))
	assert.Equal(t, KindInternal, KindOf(errors.New("unknown")))
}
