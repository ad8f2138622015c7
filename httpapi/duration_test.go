package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISODurationEmpty(t *testing.T) {
	d, err := parseISODuration("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}

func TestParseISODurationSeconds(t *testing.T) {
	d, err := parseISODuration("PT30S")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestParseISODurationMinutesAndSeconds(t *testing.T) {
	d, err := parseISODuration("PT1M30S")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestParseISODurationHours(t *testing.T) {
	d, err := parseISODuration("PT2H")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)
}

func TestParseISODurationDaysAndTime(t *testing.T) {
	d, err := parseISODuration("P1DT1H")
	require.NoError(t, err)
	assert.Equal(t, 25*time.Hour, d)
}

func TestParseISODurationRejectsMissingP(t *testing.T) {
	_, err := parseISODuration("T30S")
	assert.Error(t, err)
}

func TestParseISODurationFractionalSeconds(t *testing.T) {
	d, err := parseISODuration("PT0.5S")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)
}
