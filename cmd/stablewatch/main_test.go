package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"":    0,
		"30":  30 * time.Second,
		"45s": 45 * time.Second,
		"10m": 10 * time.Minute,
		"2h":  2 * time.Hour,
	} {
		got, err := parseRunDuration(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, err := parseRunDuration("soon")
	assert.Error(t, err)
}
