package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/gatekeeper"
	"github.com/SoarinFerret/FocusWarden/internal/state"
)

// Duration is a time.Duration written as "90s" or "5m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type GatekeeperConfig struct {
	MaxAlerts         int      `toml:"max_alerts" validate:"gte=1"`
	BlockDuration     Duration `toml:"block_duration" validate:"gt=0"`
	AlertResetTimeout Duration `toml:"alert_reset_timeout" validate:"gt=0"`
	SampleInterval    Duration `toml:"sample_interval" validate:"gt=0"`
	CountdownInterval Duration `toml:"countdown_interval" validate:"gt=0"`
	// NoFaceWarning pauses the video while no face is in frame.
	NoFaceWarning *bool `toml:"no_face_warning"`
	// DetectorFailureLimit is the number of consecutive detector errors
	// after which verification is reported unavailable. -1 disables it.
	DetectorFailureLimit int  `toml:"detector_failure_limit" validate:"gte=-1"`
	Debug                bool `toml:"debug"`
}

type DetectorConfig struct {
	Kind    string   `toml:"kind" validate:"oneof=passthrough worker"`
	Command string   `toml:"command" validate:"required_if=Kind worker"`
	Args    []string `toml:"args"`
	Timeout Duration `toml:"timeout" validate:"gt=0"`
}

type StorageConfig struct {
	Backend string `toml:"backend" validate:"oneof=memory file postgres"`
	Path    string `toml:"path" validate:"required_if=Backend file"`
	DSN     string `toml:"dsn" validate:"required_if=Backend postgres"`
	// SweepInterval is how often expired blocks are removed.
	SweepInterval Duration `toml:"sweep_interval" validate:"gt=0"`
}

type ServerConfig struct {
	Listen         string   `toml:"listen" validate:"required"`
	AllowedOrigins []string `toml:"allowed_origins"`
	WriteTimeout   Duration `toml:"write_timeout" validate:"gt=0"`
	PingInterval   Duration `toml:"ping_interval" validate:"gt=0"`
	MaxMessageSize int64    `toml:"max_message_size" validate:"gt=0"`
	// CaptureTimeout bounds how long a sample waits for the next frame.
	CaptureTimeout Duration `toml:"capture_timeout" validate:"gt=0"`
	Debug          bool     `toml:"debug"`
}

type NotifyConfig struct {
	Enabled bool   `toml:"enabled"`
	AppName string `toml:"app_name"`
	// BusAddress overrides the session bus. When empty the daemon's
	// environment is used, then the environment of LeaderPID.
	BusAddress string `toml:"bus_address"`
	LeaderPID  int    `toml:"leader_pid" validate:"gte=0"`
}

type EventsConfig struct {
	Broker      string `toml:"broker" validate:"omitempty,url"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         byte   `toml:"qos" validate:"lte=2"`
}

// IPCConfig selects the bus the control service is exported on.
type IPCConfig struct {
	Bus string `toml:"bus" validate:"oneof=system session none"`
}

// PresenceConfig follows logind on the system bus.
type PresenceConfig struct {
	// Logind stops every camera when the machine sleeps or the screen locks.
	Logind bool `toml:"logind"`
}

type Config struct {
	Analyzer   analyzer.Config  `toml:"analyzer"`
	Gatekeeper GatekeeperConfig `toml:"gatekeeper"`
	Detector   DetectorConfig   `toml:"detector"`
	Storage    StorageConfig    `toml:"storage"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Events     EventsConfig     `toml:"events"`
	IPC        IPCConfig        `toml:"ipc"`
	Presence   PresenceConfig   `toml:"presence"`
}

// SetDefault fills every unset value with its default.
func (c *Config) SetDefault() {
	a := analyzer.DefaultConfig()
	if c.Analyzer.EyeClosedThreshold == 0 {
		c.Analyzer.EyeClosedThreshold = a.EyeClosedThreshold
	}
	if c.Analyzer.MouthOpenThreshold == 0 {
		c.Analyzer.MouthOpenThreshold = a.MouthOpenThreshold
	}
	if c.Analyzer.MouthAsymmetryThreshold == 0 {
		c.Analyzer.MouthAsymmetryThreshold = a.MouthAsymmetryThreshold
	}
	if c.Analyzer.LookingAwayThreshold == 0 {
		c.Analyzer.LookingAwayThreshold = a.LookingAwayThreshold
	}
	if c.Analyzer.AttentionThreshold == 0 {
		c.Analyzer.AttentionThreshold = a.AttentionThreshold
	}
	if c.Analyzer.Weights == (analyzer.Weights{}) {
		c.Analyzer.Weights = a.Weights
	}
	if c.Analyzer.ConsecutiveDetectionsRequired == 0 {
		c.Analyzer.ConsecutiveDetectionsRequired = a.ConsecutiveDetectionsRequired
	}

	g := gatekeeper.DefaultOptions()
	if c.Gatekeeper.MaxAlerts == 0 {
		c.Gatekeeper.MaxAlerts = g.MaxAlerts
	}
	setDuration(&c.Gatekeeper.BlockDuration, g.BlockDuration)
	setDuration(&c.Gatekeeper.AlertResetTimeout, g.AlertResetTimeout)
	setDuration(&c.Gatekeeper.SampleInterval, g.SampleInterval)
	setDuration(&c.Gatekeeper.CountdownInterval, g.CountdownInterval)
	if c.Gatekeeper.NoFaceWarning == nil {
		defaultVal := g.NoFaceWarning
		c.Gatekeeper.NoFaceWarning = &defaultVal
	}
	if c.Gatekeeper.DetectorFailureLimit == 0 {
		c.Gatekeeper.DetectorFailureLimit = g.DetectorFailureLimit
	}

	if c.Detector.Kind == "" {
		c.Detector.Kind = "passthrough"
	}
	setDuration(&c.Detector.Timeout, 2*time.Second)

	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Backend == "file" && c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/focuswarden/state.json"
	}
	setDuration(&c.Storage.SweepInterval, time.Minute)

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	setDuration(&c.Server.WriteTimeout, 10*time.Second)
	setDuration(&c.Server.PingInterval, 30*time.Second)
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = 4 << 20
	}
	setDuration(&c.Server.CaptureTimeout, 2*time.Second)

	if c.Notify.AppName == "" {
		c.Notify.AppName = "FocusWarden"
	}

	if c.Events.ClientID == "" {
		c.Events.ClientID = "focuswardend"
	}
	if c.Events.TopicPrefix == "" {
		c.Events.TopicPrefix = "focuswarden"
	}

	if c.IPC.Bus == "" {
		c.IPC.Bus = "system"
	}
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report toml key names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	return v
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// GatekeeperOptions converts the [gatekeeper] section.
func (c *Config) GatekeeperOptions() gatekeeper.Options {
	noFace := true
	if c.Gatekeeper.NoFaceWarning != nil {
		noFace = *c.Gatekeeper.NoFaceWarning
	}
	return gatekeeper.Options{
		MaxAlerts:            c.Gatekeeper.MaxAlerts,
		BlockDuration:        c.Gatekeeper.BlockDuration.Duration,
		AlertResetTimeout:    c.Gatekeeper.AlertResetTimeout.Duration,
		SampleInterval:       c.Gatekeeper.SampleInterval.Duration,
		CountdownInterval:    c.Gatekeeper.CountdownInterval.Duration,
		NoFaceWarning:        noFace,
		DetectorFailureLimit: c.Gatekeeper.DetectorFailureLimit,
		Debug:                c.Gatekeeper.Debug,
	}
}

func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		Kind:    c.Detector.Kind,
		Command: c.Detector.Command,
		Args:    c.Detector.Args,
		Timeout: c.Detector.Timeout.Duration,
	}
}

func (c *Config) StateConfig() state.Config {
	return state.Config{
		Backend: c.Storage.Backend,
		Path:    c.Storage.Path,
		DSN:     c.Storage.DSN,
	}
}

// LoadConfigFromFile reads the TOML file at path. A missing file yields
// the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadConfigFromBytes(nil)
		}
		return nil, err
	}
	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	config.ApplyEnv()
	config.SetDefault()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
