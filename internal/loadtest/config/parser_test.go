package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

const realisticYAML = `
name: "Realistic Auction"
target:
  baseUrl: "http://auction.local:8000"
  sessionId: 7
  itemId: "42"
  timeout: 5s
scenarios:
  active_bidders:
    executor: ramping-vus
    workload: active
    startVUs: 0
    stages:
      - duration: 30s
        target: 50
      - duration: 3m
        target: 100
    gracefulRampDown: 30s
  last_minute_rush:
    executor: ramping-arrival-rate
    workload: last-minute
    startRate: 1
    timeUnit: 1s
    preAllocatedVUs: 50
    maxVUs: 500
    startTime: 4m
    gracefulStop: 0s
    stages:
      - duration: 5m
        target: 10
    tags:
      phase: rush
thresholds:
  http_req_duration: ["p(95)<2000", "p(99)<3000"]
  http_req_failed: ["rate<0.15"]
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(realisticYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "Realistic Auction", cfg.Name)
	assert.Equal(t, ID("7"), cfg.Target.SessionID)
	assert.Equal(t, ID("42"), cfg.Target.ItemID)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Target.Timeout))
	require.Len(t, cfg.Scenarios, 2)

	active := cfg.Scenarios["active_bidders"]
	require.NotNil(t, active)
	assert.Equal(t, "ramping-vus", active.Executor)
	assert.Equal(t, "active", active.Workload)
	require.Len(t, active.Stages, 2)
	assert.Equal(t, 3*time.Minute, time.Duration(active.Stages[1].Duration))
	require.NotNil(t, active.GracefulRampDown)
	assert.Nil(t, active.GracefulStop)

	rush := cfg.Scenarios["last_minute_rush"]
	require.NotNil(t, rush)
	assert.Equal(t, 4*time.Minute, time.Duration(rush.StartTime))
	require.NotNil(t, rush.GracefulStop)
	assert.Equal(t, Duration(0), *rush.GracefulStop)
	assert.Equal(t, "rush", rush.Tags["phase"])

	assert.Equal(t, []string{"p(95)<2000", "p(99)<3000"}, cfg.Thresholds["http_req_duration"])
	assert.NoError(t, cfg.Validate(nil))
}

func TestParseConfig_JSON(t *testing.T) {
	doc := `{
  "name": "spike",
  "target": {"sessionId": 3, "timeout": 10},
  "scenarios": {
    "spike": {"executor": "fixed-vus", "workload": "incremental", "vus": 50, "duration": "30s",
              "thinkTime": {"min": "500ms", "max": "500ms"}}
  }
}`
	cfg, err := ParseConfig([]byte(doc), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, ID("3"), cfg.Target.SessionID)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Target.Timeout))
	sc := cfg.Scenarios["spike"]
	require.NotNil(t, sc)
	assert.Equal(t, 50, sc.VUs)
	require.NotNil(t, sc.ThinkTime)
	assert.Equal(t, 500*time.Millisecond, time.Duration(sc.ThinkTime.Max))
}

func TestParseConfig_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "missing scenarios",
			doc:   "name: x\n",
			field: "",
		},
		{
			name:  "unknown executor",
			doc:   "scenarios:\n  a:\n    executor: shared-iterations\n    workload: random\n",
			field: "scenarios.a.executor",
		},
		{
			name:  "negative vus",
			doc:   "scenarios:\n  a:\n    executor: fixed-vus\n    workload: random\n    vus: -1\n    duration: 1s\n",
			field: "scenarios.a.vus",
		},
		{
			name:  "unknown scenario field",
			doc:   "scenarios:\n  a:\n    executor: fixed-vus\n    workload: random\n    rps: 5\n",
			field: "scenarios.a",
		},
		{
			name:  "malformed duration",
			doc:   "scenarios:\n  a:\n    executor: fixed-vus\n    workload: random\n    vus: 1\n    duration: soon\n",
			field: "scenarios.a.duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc), FormatYAML)
			require.Error(t, err)

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected *ValidationErrors, got %T: %v", err, err)
			assert.Contains(t, verrs.Fields(), tt.field)
		})
	}
}

func TestParseConfig_InvalidDocuments(t *testing.T) {
	_, err := ParseConfig(nil, FormatYAML)
	assert.Error(t, err)

	_, err = ParseConfig([]byte("scenarios: [unclosed"), FormatYAML)
	assert.Error(t, err)

	_, err = ParseConfig([]byte("{"), FormatJSON)
	assert.Error(t, err)

	_, err = ParseConfig([]byte("a: 1"), Format("toml"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(realisticYAML), 0o644))
	cfg, err := LoadConfig(yamlPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Scenarios, 2)

	jsonPath := filepath.Join(dir, "test.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"scenarios":{"a":{"executor":"fixed-vus","workload":"random","vus":1,"duration":"1s"}}}`), 0o644))
	cfg, err = LoadConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Scenarios["a"].VUs)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, DetectFormat("a/b.JSON"))
	assert.Equal(t, FormatYAML, DetectFormat("a/b.yml"))
	assert.Equal(t, FormatYAML, DetectFormat("a/b.yaml"))
	assert.Equal(t, FormatYAML, DetectFormat("noext"))
}
