package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/declaro/internal/common"
)

func TestNewTrackingCode_Shape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := NewTrackingCode(func(string) bool { return false })
		require.NoError(t, err)
		require.True(t, ValidTrackingCode(code), code)
		for _, r := range "0OIL1" {
			assert.False(t, strings.ContainsRune(code, r), code)
		}
	}
}

func TestValidTrackingCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABCD-EFGH-JKMN", true},
		{"2345-6789-PQRS", true},
		{"ABCD-EFGH-JKM", false},
		{"abcd-efgh-jkmn", false},
		{"ABCD-EFGH-JKM0", false},
		{"ABCDEFGHJKMN", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidTrackingCode(tt.code), tt.code)
	}
}

func TestNewTrackingCode_RetriesCollisions(t *testing.T) {
	codes := []string{"AAAA-AAAA-AAAA", "AAAA-AAAA-AAAA", "BBBB-BBBB-BBBB"}
	calls := 0
	gen := func() (string, error) {
		c := codes[calls]
		calls++
		return c, nil
	}
	code, err := newTrackingCode(gen, func(c string) bool { return c == "AAAA-AAAA-AAAA" })
	require.NoError(t, err)
	assert.Equal(t, "BBBB-BBBB-BBBB", code)
	assert.Equal(t, 3, calls)
}

func TestNewTrackingCode_Exhausted(t *testing.T) {
	calls := 0
	gen := func() (string, error) {
		calls++
		return "AAAA-AAAA-AAAA", nil
	}
	_, err := newTrackingCode(gen, func(string) bool { return true })
	require.ErrorIs(t, err, common.ErrTrackingCodeExhausted)
	assert.Equal(t, MaxTrackingAttempts, calls)
}

func TestNewTrackingCode_GeneratorError(t *testing.T) {
	boom := errors.New("entropy")
	_, err := newTrackingCode(func() (string, error) { return "", boom }, func(string) bool { return false })
	require.ErrorIs(t, err, boom)
}
