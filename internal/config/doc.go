// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads phaselog configuration.
//
// Precedence is ENV > file > defaults. The YAML file is parsed strictly:
// unknown keys fail the load with ErrUnknownConfigField. Environment keys
// carry the PHASELOG_ prefix.
package config
