package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshalText(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    time.Duration
		expectError bool
	}{
		{"Seconds", "90s", 90 * time.Second, false},
		{"Minutes", "5m", 5 * time.Minute, false},
		{"Compound", "1m30s", 90 * time.Second, false},
		{"Padded", " 2s ", 2 * time.Second, false},
		{"Missing unit", "90", 0, true},
		{"Empty string", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, d.Duration)
			}
		})
	}
}

func TestSetDefault(t *testing.T) {
	var config Config
	config.SetDefault()

	assert.Equal(t, 0.2, config.Analyzer.EyeClosedThreshold)
	assert.Equal(t, 0.6, config.Analyzer.MouthOpenThreshold)
	assert.Equal(t, 0.3, config.Analyzer.MouthAsymmetryThreshold)
	assert.Equal(t, 0.4, config.Analyzer.LookingAwayThreshold)
	assert.Equal(t, 70, config.Analyzer.AttentionThreshold)
	assert.Equal(t, 0.4, config.Analyzer.Weights.EyeOpenness)
	assert.Equal(t, 3, config.Analyzer.ConsecutiveDetectionsRequired)

	assert.Equal(t, 2, config.Gatekeeper.MaxAlerts)
	assert.Equal(t, 5*time.Minute, config.Gatekeeper.BlockDuration.Duration)
	assert.Equal(t, 60*time.Second, config.Gatekeeper.AlertResetTimeout.Duration)
	assert.Equal(t, time.Second, config.Gatekeeper.SampleInterval.Duration)
	require.NotNil(t, config.Gatekeeper.NoFaceWarning)
	assert.True(t, *config.Gatekeeper.NoFaceWarning)

	assert.Equal(t, "passthrough", config.Detector.Kind)
	assert.Equal(t, "file", config.Storage.Backend)
	assert.NotEmpty(t, config.Storage.Path)
	assert.Equal(t, time.Minute, config.Storage.SweepInterval.Duration)
	assert.Equal(t, ":8080", config.Server.Listen)
	assert.Equal(t, "focuswarden", config.Events.TopicPrefix)
	assert.Equal(t, 2*time.Second, config.Server.CaptureTimeout.Duration)
	assert.Equal(t, "system", config.IPC.Bus)

	assert.NoError(t, config.Validate())
}

func TestSetDefaultKeepsExplicitValues(t *testing.T) {
	noFace := false
	config := Config{}
	config.Gatekeeper.MaxAlerts = 4
	config.Gatekeeper.NoFaceWarning = &noFace
	config.Storage.Backend = "memory"
	config.SetDefault()

	assert.Equal(t, 4, config.Gatekeeper.MaxAlerts)
	assert.False(t, *config.Gatekeeper.NoFaceWarning)
	assert.Equal(t, "memory", config.Storage.Backend)
	assert.Empty(t, config.Storage.Path)

	opts := config.GatekeeperOptions()
	assert.Equal(t, 4, opts.MaxAlerts)
	assert.False(t, opts.NoFaceWarning)
	assert.Equal(t, 5*time.Minute, opts.BlockDuration)
}

const sampleConfig = `
[analyzer]
eye_closed_threshold = 0.25
consecutive_detections_required = 4

[analyzer.weights]
eye_openness = 0.5
mouth_normal = 0.1
face_symmetry = 0.4

[gatekeeper]
max_alerts = 3
block_duration = "10m"
alert_reset_timeout = "90s"
no_face_warning = false

[detector]
kind = "worker"
command = "/usr/lib/focuswarden/landmarkd"
args = ["--model", "shape_68"]
timeout = "1500ms"

[storage]
backend = "memory"

[events]
broker = "tcp://localhost:1883"
qos = 1
`

func TestLoadConfigFromBytes(t *testing.T) {
	config, err := LoadConfigFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 0.25, config.Analyzer.EyeClosedThreshold)
	assert.Equal(t, 0.6, config.Analyzer.MouthOpenThreshold)
	assert.Equal(t, 4, config.Analyzer.ConsecutiveDetectionsRequired)
	assert.Equal(t, 0.5, config.Analyzer.Weights.EyeOpenness)

	assert.Equal(t, 3, config.Gatekeeper.MaxAlerts)
	assert.Equal(t, 10*time.Minute, config.Gatekeeper.BlockDuration.Duration)
	assert.Equal(t, 90*time.Second, config.Gatekeeper.AlertResetTimeout.Duration)
	assert.False(t, *config.Gatekeeper.NoFaceWarning)

	det := config.DetectorConfig()
	assert.Equal(t, "worker", det.Kind)
	assert.Equal(t, []string{"--model", "shape_68"}, det.Args)
	assert.Equal(t, 1500*time.Millisecond, det.Timeout)

	assert.Equal(t, "memory", config.StateConfig().Backend)
	assert.Equal(t, "tcp://localhost:1883", config.Events.Broker)
	assert.Equal(t, byte(1), config.Events.QoS)
}

func TestLoadConfigFromBytesInvalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"Bad duration", "[gatekeeper]\nblock_duration = \"soon\"\n"},
		{"Negative block", "[gatekeeper]\nblock_duration = \"-1m\"\n"},
		{"Unknown detector", "[detector]\nkind = \"opencv\"\n"},
		{"Worker without command", "[detector]\nkind = \"worker\"\n"},
		{"Postgres without dsn", "[storage]\nbackend = \"postgres\"\n"},
		{"QoS out of range", "[events]\nqos = 3\n"},
		{"Score threshold out of range", "[analyzer]\nattention_threshold = 120\n"},
		{"Unknown bus", "[ipc]\nbus = \"user\"\n"},
		{"Not toml", "[analyzer\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromBytes([]byte(tt.toml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "focuswarden.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, config.Gatekeeper.MaxAlerts)
	assert.Equal(t, "worker", config.Detector.Kind)
}

func TestLoadConfigFromMissingFile(t *testing.T) {
	config, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 2, config.Gatekeeper.MaxAlerts)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FOCUSWARDEN_STORAGE_PATH="+filepath.Join(dir, "state.json")+"\n"), 0644))

	t.Setenv(EnvListen, "127.0.0.1:9000")
	t.Setenv(EnvMQTTBroker, "tcp://broker:1883")
	t.Setenv(EnvBus, "session")
	// registered for restore, then cleared so the .env file can set it
	t.Setenv(EnvStoragePath, "unused")
	require.NoError(t, os.Unsetenv(EnvStoragePath))
	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), envFile))

	config, err := LoadConfigFromBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", config.Server.Listen)
	assert.Equal(t, "tcp://broker:1883", config.Events.Broker)
	assert.Equal(t, "session", config.IPC.Bus)
	assert.Equal(t, filepath.Join(dir, "state.json"), config.Storage.Path)
}

func TestConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "/etc/focuswarden/config.toml", ConfigPath("/etc/focuswarden/config.toml"))

	t.Setenv(EnvConfigPath, "/tmp/fw.toml")
	assert.Equal(t, "/tmp/fw.toml", ConfigPath("/etc/focuswarden/config.toml"))
}
