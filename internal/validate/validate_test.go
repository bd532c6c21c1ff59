// SPDX-License-Identifier: MIT
package validate

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Range(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"lower bound", 0, false},
		{"upper bound", 15, false},
		{"below", -1, true},
		{"above", 16, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Range("db", tt.value, 0, 15)
			assert.Equal(t, tt.wantErr, !v.IsValid())
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{":8080", false},
		{"127.0.0.1:0", false},
		{"[::1]:9000", false},
		{"8080", true},
		{"localhost:http", true},
		{"localhost:70000", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v := New()
			v.ListenAddr("api.listen", tt.addr)
			assert.Equal(t, tt.wantErr, !v.IsValid(), "%v", v.Err())
		})
	}
}

func TestValidator_Accumulates(t *testing.T) {
	v := New()
	v.NotEmpty("group", "  ")
	v.OneOf("store.backend", "mongo", []string{"sqlite", "memory"})
	v.Positive("api.rateLimit", 0)
	v.NonNegative("redis.db", 2)
	v.PositiveDuration("api.rateWindow", -time.Second)
	v.Custom("schedule", nil, func(any) error { return fmt.Errorf("empty schedule") })

	err := v.Err()
	require.Error(t, err)

	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Errors()))
	for _, e := range verr.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"group", "store.backend", "api.rateLimit", "api.rateWindow", "schedule"}, fields)
	assert.Contains(t, err.Error(), "validation failed for store.backend")
	assert.Contains(t, err.Error(), "; ")
}

func TestValidator_ErrIsSnapshot(t *testing.T) {
	v := New()
	assert.NoError(t, v.Err())

	v.Positive("n", -1)
	err := v.Err()
	v.Positive("m", -1)

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors(), 1)
}

func TestLogLevel(t *testing.T) {
	for _, l := range LogLevels {
		assert.True(t, LogLevel(l).IsValid(), l)
	}
	assert.False(t, LogLevel("verbose").IsValid())
}
