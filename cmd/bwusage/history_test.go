package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2025, 5, 21, 14, 30, 0, 0, time.UTC)

	got, err := parseDate("2025-05-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("7d", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 14, 14, 30, 0, 0, time.UTC), got)

	_, err = parseDate("last week", now)
	assert.Error(t, err)
}
