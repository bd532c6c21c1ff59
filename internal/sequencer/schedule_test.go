// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Schedule
		wantErr bool
	}{
		{"two phases", Schedule{{"train", 2}, {"test", 1}}, false},
		{"zero sentinel kept", Schedule{{"train", 1}, {"done", 0}}, false},
		{"empty", nil, true},
		{"all zero", Schedule{{"a", 0}, {"b", 0}}, true},
		{"negative", Schedule{{"a", 1}, {"b", -1}}, true},
		{"duplicate", Schedule{{"a", 1}, {"a", 2}}, true},
		{"unordered tag", Schedule{{"a_unordered", 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestScheduleRotationSkipsZeroQuota(t *testing.T) {
	s := Schedule{{"z", 0}, {"a", 1}, {"y", 0}, {"b", 3}}
	require.NoError(t, s.Validate())

	assert.Equal(t, 1, s.first())
	assert.Equal(t, 3, s.after(1))
	assert.Equal(t, 1, s.after(3))
}

func TestScheduleSingleSlotWrapsToItself(t *testing.T) {
	s := Schedule{{"a", 4}}
	assert.Equal(t, 0, s.first())
	assert.Equal(t, 0, s.after(0))
}

func TestScheduleString(t *testing.T) {
	assert.Equal(t, "[train:2 test:1]", Schedule{{"train", 2}, {"test", 1}}.String())
}
