// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sequencer

import (
	"errors"
	"fmt"

	"github.com/ManuGH/phaselog/internal/event"
)

// ErrInvalidSchedule is returned for schedules that can never rotate.
var ErrInvalidSchedule = errors.New("invalid phase schedule")

// Slot is one phase's turn in the rotation. A zero quota marks a phase that
// is known but never drained.
type Slot struct {
	Phase event.Phase `yaml:"phase" json:"phase"`
	Quota int         `yaml:"quota" json:"quota"`
}

// Schedule is the ordered rotation. It wraps after the last slot.
type Schedule []Slot

// Validate rejects negative quotas, duplicate phases and schedules without a
// drainable slot.
func (s Schedule) Validate() error {
	seen := make(map[event.Phase]struct{}, len(s))
	drainable := false
	for i, slot := range s {
		if slot.Quota < 0 {
			return fmt.Errorf("%w: slot %d (%q) has negative quota %d", ErrInvalidSchedule, i, slot.Phase, slot.Quota)
		}
		if slot.Phase.IsUnordered() {
			return fmt.Errorf("%w: slot %d phase %q carries the %q suffix", ErrInvalidSchedule, i, slot.Phase, event.UnorderedSuffix)
		}
		if _, dup := seen[slot.Phase]; dup {
			return fmt.Errorf("%w: phase %q listed twice", ErrInvalidSchedule, slot.Phase)
		}
		seen[slot.Phase] = struct{}{}
		if slot.Quota > 0 {
			drainable = true
		}
	}
	if !drainable {
		return fmt.Errorf("%w: no slot with a positive quota", ErrInvalidSchedule)
	}
	return nil
}

// first returns the index of the first drainable slot.
func (s Schedule) first() int {
	return s.after(len(s) - 1)
}

// after returns the index of the next drainable slot following i, wrapping.
// Validate guarantees one exists.
func (s Schedule) after(i int) int {
	for n := 1; n <= len(s); n++ {
		j := (i + n) % len(s)
		if s[j].Quota > 0 {
			return j
		}
	}
	return -1
}

func (s Schedule) String() string {
	out := "["
	for i, slot := range s {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", slot.Phase, slot.Quota)
	}
	return out + "]"
}
