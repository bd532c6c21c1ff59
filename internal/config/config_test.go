// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/sequencer"
	"github.com/ManuGH/phaselog/internal/validate"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	want := Defaults()
	want.Version = "v1.2.3"
	abs, err := filepath.Abs("data")
	require.NoError(t, err)
	want.Store.Path = abs

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "phaselog.yaml", `
logLevel: debug
store:
  backend: redis
  redis:
    addr: redis:6379
    db: 3
group: run-42
schedule:
  - phase: warmup
    quota: 0
  - phase: train
    quota: 1000
  - phase: test
    quota: 1
accept: [data, after_iteration]
api:
  listen: 127.0.0.1:9090
  rateLimit: 5
  rateWindow: 10s
`)
	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
	assert.Equal(t, "phaselog", cfg.Store.Redis.Prefix)
	assert.Equal(t, "run-42", cfg.Group)
	assert.Equal(t, sequencer.Schedule{
		{Phase: "warmup", Quota: 0},
		{Phase: "train", Quota: 1000},
		{Phase: "test", Quota: 1},
	}, cfg.Schedule)
	assert.Equal(t, []event.Type{event.TypeData, event.TypeAfterIteration}, cfg.Accept)
	assert.Equal(t, APIConfig{Listen: "127.0.0.1:9090", RateLimit: 5, RateWindow: 10 * time.Second, MaxConns: 256}, cfg.API)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "phaselog.yml", "logLevel: debug\ngroup: from-file\n")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvGroup, "from-env")
	t.Setenv(EnvSchedule, "a:2, b:1")
	t.Setenv(EnvAccept, "data,before_iteration")
	t.Setenv(EnvAPIRateWindow, "30s")
	t.Setenv(EnvStoreBackend, "memory")

	l := NewLoader(path, "dev")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "from-env", cfg.Group)
	assert.Equal(t, sequencer.Schedule{{Phase: "a", Quota: 2}, {Phase: "b", Quota: 1}}, cfg.Schedule)
	assert.Equal(t, []event.Type{event.TypeData, event.TypeBeforeIteration}, cfg.Accept)
	assert.Equal(t, 30*time.Second, cfg.API.RateWindow)
	assert.Equal(t, "memory", cfg.Store.Backend)

	assert.Contains(t, l.ConsumedEnvKeys, EnvSchedule)
	assert.Contains(t, l.ConsumedEnvKeys, EnvRedisPassword)
}

func TestLoad_StrictFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown top-level key",
			file:    "c.yaml",
			body:    "logLevel: info\nmongoUrl: mongodb://localhost\n",
			wantErr: ErrUnknownConfigField,
		},
		{
			name:    "unknown nested key",
			file:    "c.yaml",
			body:    "store:\n  backend: sqlite\n  collection: events\n",
			wantErr: ErrUnknownConfigField,
		},
		{
			name:    "not yaml",
			file:    "c.json",
			body:    `{"logLevel":"info"}`,
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "multiple documents",
			file:    "c.yaml",
			body:    "logLevel: info\n---\nlogLevel: debug\n",
			wantMsg: "multiple documents",
		},
		{
			name:    "bad rate window",
			file:    "c.yaml",
			body:    "api:\n  rateWindow: soon\n",
			wantMsg: "api.rateWindow",
		},
		{
			name:    "unknown accept type",
			file:    "c.yaml",
			body:    "accept: [data, checkpoint]\n",
			wantErr: ErrInvalidEventType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.file, tt.body), "dev").Load()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, "empty.yaml", ""), "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Schedule, cfg.Schedule)
	assert.Equal(t, Defaults().API, cfg.API)
}

func TestLoad_InvalidScheduleFromEnv(t *testing.T) {
	t.Setenv(EnvSchedule, "train:2,train:1")
	_, err := NewLoader("", "dev").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, sequencer.ErrInvalidSchedule)
}

func TestLoad_ValidationReportsAllFields(t *testing.T) {
	path := writeConfig(t, "c.yaml", `
logLevel: chatty
store:
  backend: mongo
schedule:
  - phase: idle
    quota: 0
api:
  listen: nowhere
  rateLimit: 0
`)
	_, err := NewLoader(path, "dev").Load()
	require.Error(t, err)

	var verr validate.ValidationError
	require.True(t, errors.As(err, &verr))
	var fields []string
	for _, e := range verr.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"logLevel", "store.backend", "schedule", "api.listen", "api.rateLimit"}, fields)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    sequencer.Schedule
		wantErr bool
	}{
		{in: "train:2,test:1", want: sequencer.Schedule{{Phase: "train", Quota: 2}, {Phase: "test", Quota: 1}}},
		{in: " train , test:0 ", want: sequencer.Schedule{{Phase: "train", Quota: 1}, {Phase: "test", Quota: 0}}},
		{in: "train:x", wantErr: true},
		{in: ":3", wantErr: true},
		{in: "train:-1", wantErr: true},
		{in: "train_unordered:1", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, sequencer.ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppConfig_Accepts(t *testing.T) {
	cfg := Defaults()
	cfg.Accept = []event.Type{event.TypeData, event.TypeAfterIteration}

	assert.True(t, cfg.Accepts(event.Data("train", 1)))
	assert.True(t, cfg.Accepts(event.Event{Type: event.TypeAfterIteration, Phase: "test"}))
	assert.False(t, cfg.Accepts(event.Data(event.Phase("train").Unordered(), 1)))
	assert.False(t, cfg.Accepts(event.Event{Type: event.TypeBeforeIteration, Phase: "train"}))
	assert.False(t, cfg.Accepts(event.StoreObject(1)))
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "phaselog.yaml")
	require.NoError(t, WriteDefault(path, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)
	want := Defaults()
	assert.Equal(t, want.Schedule, cfg.Schedule)
	assert.Equal(t, want.Accept, cfg.Accept)
	assert.Equal(t, want.API, cfg.API)
	assert.Equal(t, want.Store.Redis, cfg.Store.Redis)

	err = WriteDefault(path, false)
	assert.ErrorIs(t, err, ErrConfigExists)
	assert.NoError(t, WriteDefault(path, true))
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("PHASELOG_TEST_INT", "nope")
	t.Setenv("PHASELOG_TEST_BOOL", "YES")
	t.Setenv("PHASELOG_TEST_DUR", "")
	t.Setenv("PHASELOG_TEST_PASSWORD", "hunter2")

	assert.Equal(t, 7, ParseInt("PHASELOG_TEST_INT", 7))
	assert.True(t, ParseBool("PHASELOG_TEST_BOOL", false))
	assert.Equal(t, time.Second, ParseDuration("PHASELOG_TEST_DUR", time.Second))
	assert.Equal(t, "hunter2", ParseString("PHASELOG_TEST_PASSWORD", ""))
	assert.Equal(t, "fallback", ParseString("PHASELOG_TEST_UNSET", "fallback"))
}

func TestLoad_Telemetry(t *testing.T) {
	path := writeConfig(t, "c.yaml", `
telemetry:
  enabled: true
  exporter: http
  endpoint: collector:4318
  samplingRate: 0.25
`)
	t.Setenv(EnvTracingEnvironment, "staging")

	cfg, err := NewLoader(path, "v9").Load()
	require.NoError(t, err)
	assert.Equal(t, TelemetryConfig{
		Enabled:      true,
		Exporter:     "http",
		Endpoint:     "collector:4318",
		SamplingRate: 0.25,
		Environment:  "staging",
	}, cfg.Telemetry)

	tc := cfg.TracingConfig()
	assert.Equal(t, "phaselog", tc.ServiceName)
	assert.Equal(t, "v9", tc.ServiceVersion)
	assert.True(t, tc.Enabled)
}

func TestLoad_TelemetryValidatedOnlyWhenEnabled(t *testing.T) {
	t.Setenv(EnvTracingExporter, "zipkin")
	t.Setenv(EnvTracingSamplingRate, "3")
	_, err := NewLoader("", "dev").Load()
	require.NoError(t, err)

	t.Setenv(EnvTracingEnabled, "yes")
	_, err = NewLoader("", "dev").Load()
	var verr validate.ValidationError
	require.True(t, errors.As(err, &verr))
	var fields []string
	for _, e := range verr.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"telemetry.exporter", "telemetry.samplingRate"}, fields)
}
