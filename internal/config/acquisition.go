package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/gateway"
	"github.com/banshee-data/vibration.report/internal/waveform"
)

// Defaults for omitted fields.
const (
	DefaultCommandTimeout     = "10s"
	DefaultStartedTimeout     = "15s"
	DefaultDataTimeout        = "60s"
	DefaultTemperatureTimeout = "10s"
	DefaultDBPath             = "vibration.db"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// AcquisitionConfig is the on-disk configuration. Every field is optional;
// the Get* methods return the default for anything omitted, so partial
// files are safe.
type AcquisitionConfig struct {
	// Gateway connection. GatewayURL wins when both are set.
	GatewayURL *string `json:"gateway_url,omitempty"`
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty"`

	// Deadlines, as duration strings like "15s".
	CommandTimeout     *string `json:"command_timeout,omitempty"`
	StartedTimeout     *string `json:"started_timeout,omitempty"`
	DataTimeout        *string `json:"data_timeout,omitempty"`
	TemperatureTimeout *string `json:"temperature_timeout,omitempty"`

	// Decoder validation.
	MaxAbsValue   *float64 `json:"max_abs_value,omitempty"`
	PackedDivisor *float64 `json:"packed_divisor,omitempty"`

	DBPath *string `json:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// EmptyConfig returns an AcquisitionConfig with all fields unset.
func EmptyConfig() *AcquisitionConfig {
	return &AcquisitionConfig{}
}

// DefaultConfig returns an AcquisitionConfig with the default deadlines and
// decoder limits filled in explicitly.
func DefaultConfig() *AcquisitionConfig {
	return &AcquisitionConfig{
		CommandTimeout:     ptrString(DefaultCommandTimeout),
		StartedTimeout:     ptrString(DefaultStartedTimeout),
		DataTimeout:        ptrString(DefaultDataTimeout),
		TemperatureTimeout: ptrString(DefaultTemperatureTimeout),
		MaxAbsValue:        ptrFloat64(waveform.DefaultMaxAbsValue),
		PackedDivisor:      ptrFloat64(waveform.DefaultPackedDivisor),
		DBPath:             ptrString(DefaultDBPath),
	}
}

// LoadConfig loads an AcquisitionConfig from a JSON or HuJSON file. HuJSON
// allows comments and trailing commas. The file must have a .json or .hujson
// extension and be under 1MB.
func LoadConfig(path string) (*AcquisitionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" && ext != ".hujson" {
		return nil, fmt.Errorf("config file must have .json or .hujson extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a JSON or HuJSON document.
func ParseConfig(data []byte) (*AcquisitionConfig, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *AcquisitionConfig) Validate() error {
	for _, f := range []struct {
		name string
		v    *string
	}{
		{"command_timeout", c.CommandTimeout},
		{"started_timeout", c.StartedTimeout},
		{"data_timeout", c.DataTimeout},
		{"temperature_timeout", c.TemperatureTimeout},
	} {
		if err := validDuration(f.name, f.v); err != nil {
			return err
		}
	}

	if c.MaxAbsValue != nil && *c.MaxAbsValue <= 0 {
		return fmt.Errorf("max_abs_value must be positive, got %g", *c.MaxAbsValue)
	}
	if c.PackedDivisor != nil && *c.PackedDivisor <= 0 {
		return fmt.Errorf("packed_divisor must be positive, got %g", *c.PackedDivisor)
	}

	if _, err := c.GetPortOptions().Normalize(); err != nil {
		return err
	}
	return nil
}

func durationOr(v *string, def string) time.Duration {
	fallback, _ := time.ParseDuration(def)
	if v == nil || *v == "" {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetGatewayURL returns the WebSocket URL of the gateway, or "".
func (c *AcquisitionConfig) GetGatewayURL() string { return stringOr(c.GatewayURL, "") }

// GetSerialPort returns the serial device of the gateway, or "".
func (c *AcquisitionConfig) GetSerialPort() string { return stringOr(c.SerialPort, "") }

// GetPortOptions returns the serial link parameters. Unset fields are left
// zero for PortOptions.Normalize to fill.
func (c *AcquisitionConfig) GetPortOptions() gateway.PortOptions {
	return gateway.PortOptions{
		BaudRate: intOr(c.BaudRate, 0),
		DataBits: intOr(c.DataBits, 0),
		StopBits: intOr(c.StopBits, 0),
		Parity:   stringOr(c.Parity, ""),
	}
}

// GetCommandTimeout returns the command response deadline.
func (c *AcquisitionConfig) GetCommandTimeout() time.Duration {
	return durationOr(c.CommandTimeout, DefaultCommandTimeout)
}

// GetStartedTimeout returns the reading_started deadline.
func (c *AcquisitionConfig) GetStartedTimeout() time.Duration {
	return durationOr(c.StartedTimeout, DefaultStartedTimeout)
}

// GetDataTimeout returns the reading_data deadline.
func (c *AcquisitionConfig) GetDataTimeout() time.Duration {
	return durationOr(c.DataTimeout, DefaultDataTimeout)
}

// GetTemperatureTimeout returns the temperature deadline.
func (c *AcquisitionConfig) GetTemperatureTimeout() time.Duration {
	return durationOr(c.TemperatureTimeout, DefaultTemperatureTimeout)
}

// GetTimeouts collects the notification deadlines for the orchestrator.
func (c *AcquisitionConfig) GetTimeouts() acquisition.Timeouts {
	return acquisition.Timeouts{
		Started:     c.GetStartedTimeout(),
		Data:        c.GetDataTimeout(),
		Temperature: c.GetTemperatureTimeout(),
	}
}

// GetLimits returns the decoder validation limits.
func (c *AcquisitionConfig) GetLimits() waveform.Limits {
	l := waveform.DefaultLimits()
	if c.MaxAbsValue != nil {
		l.MaxAbsValue = *c.MaxAbsValue
	}
	if c.PackedDivisor != nil {
		l.PackedDivisor = *c.PackedDivisor
	}
	return l
}

// GetDBPath returns the sqlite database path.
func (c *AcquisitionConfig) GetDBPath() string { return stringOr(c.DBPath, DefaultDBPath) }

// GetListen returns the API listen address, or "" for one-shot mode.
func (c *AcquisitionConfig) GetListen() string { return stringOr(c.Listen, "") }
