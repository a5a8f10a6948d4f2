// Package config holds the configuration of the rft-client command.
package config

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/rft/pkg/sender"
	"github.com/skycoin/rft/pkg/transferlog"
	"github.com/skycoin/rft/pkg/udt"
)

// Defaults of the command. The timeout is larger than the sender package
// default, which is tuned for loopback.
const (
	DefaultPort        = 12345
	DefaultLogLevel    = 3
	DefaultTimeout     = 200 * time.Millisecond
	DefaultTransferLog = "memory"
)

// ErrUsage is wrapped by validation errors caused by missing mandatory parameters.
var ErrUsage = errors.New("usage error")

// Config defines rft-client parameters.
type Config struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	File     string `json:"file"`
	LogLevel int    `json:"log_level"` // 0 (fatal) to 5 (trace)

	Sender struct {
		WindowSize       int      `json:"window_size"`
		Timeout          Duration `json:"timeout"` // time value, examples: 200ms, 1s, etc
		PayloadSize      int      `json:"payload_size"`
		EndMarkerRepeats int      `json:"end_marker_repeats"`
		IdleWait         Duration `json:"idle_wait"`
	} `json:"sender"`

	Loss udt.LossConfig `json:"loss"`

	MetricsAddr string `json:"metrics_addr"` // leave blank to disable metrics
	TransferLog string `json:"transfer_log"` // memory, file:<dir> or boltdb:<path>
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Port:        DefaultPort,
		LogLevel:    DefaultLogLevel,
		TransferLog: DefaultTransferLog,
	}
	def := sender.DefaultConfig()
	c.Sender.WindowSize = def.WindowSize
	c.Sender.Timeout = Duration(DefaultTimeout)
	c.Sender.PayloadSize = def.PayloadSize
	c.Sender.EndMarkerRepeats = def.EndMarkerRepeats
	c.Sender.IdleWait = Duration(def.IdleWait)
	return c
}

// Read decodes JSON from r on top of the default configuration.
func Read(r io.Reader) (*Config, error) {
	c := DefaultConfig()
	if err := json.NewDecoder(r).Decode(c); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return c, nil
}

// ReadFile reads the JSON configuration file at path.
func ReadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config")
	}
	defer f.Close() //nolint:errcheck
	return Read(f)
}

// Validate checks the configuration. Missing mandatory parameters yield an
// error wrapping ErrUsage.
func (c *Config) Validate() error {
	if c.Host == "" || c.File == "" {
		return errors.Wrap(ErrUsage, "hostname and filename are required")
	}
	if c.LogLevel < 0 {
		return errors.Errorf("log level must not be negative, got %d", c.LogLevel)
	}
	for name, p := range map[string]float64{
		"drop":      c.Loss.Drop,
		"corrupt":   c.Loss.Corrupt,
		"duplicate": c.Loss.Duplicate,
		"reorder":   c.Loss.Reorder,
	} {
		if p < 0 || p > 1 {
			return errors.Errorf("%s probability must be within [0, 1], got %v", name, p)
		}
	}
	return c.SenderConfig().Validate()
}

// SenderConfig returns the configuration of the sender state machine.
func (c *Config) SenderConfig() sender.Config {
	return sender.Config{
		WindowSize:       c.Sender.WindowSize,
		Timeout:          time.Duration(c.Sender.Timeout),
		PayloadSize:      c.Sender.PayloadSize,
		EndMarkerRepeats: c.Sender.EndMarkerRepeats,
		IdleWait:         time.Duration(c.Sender.IdleWait),
	}
}

// TransferLogStore returns the configured transfer log store.
func (c *Config) TransferLogStore() (transferlog.Store, error) {
	return transferlog.New(c.TransferLog)
}

// Duration wraps around time.Duration to allow parsing from and to JSON
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}
