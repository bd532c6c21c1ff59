// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/sequencer"
)

// ErrInvalidEventType is returned for accept entries outside the known set.
var ErrInvalidEventType = errors.New("invalid event type")

var knownTypes = []event.Type{
	event.TypeData,
	event.TypeBeforeIteration,
	event.TypeAfterIteration,
	event.TypeStoreObject,
}

// ParseSchedule parses a comma-separated rotation such as "train:2,test:1".
// The quota defaults to 1 when omitted.
func ParseSchedule(s string) (sequencer.Schedule, error) {
	var out sequencer.Schedule
	for _, part := range splitCSV(s) {
		name, quota, hasQuota := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty phase in %q", sequencer.ErrInvalidSchedule, part)
		}
		n := 1
		if hasQuota {
			var err error
			n, err = strconv.Atoi(strings.TrimSpace(quota))
			if err != nil {
				return nil, fmt.Errorf("%w: quota for %q: %v", sequencer.ErrInvalidSchedule, name, err)
			}
		}
		out = append(out, sequencer.Slot{Phase: event.Phase(name), Quota: n})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseAccept parses a comma-separated list of event types.
func ParseAccept(s string) ([]event.Type, error) {
	return parseTypes(splitCSV(s))
}

func parseTypes(names []string) ([]event.Type, error) {
	out := make([]event.Type, 0, len(names))
	for _, name := range names {
		t := event.Type(strings.TrimSpace(name))
		if !isKnownType(t) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, name)
		}
		out = append(out, t)
	}
	return out, nil
}

func isKnownType(t event.Type) bool {
	for _, k := range knownTypes {
		if t == k {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
