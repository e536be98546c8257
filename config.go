package vkpace

import (
	"bytes"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config holds the settings of a paced render loop. It is read from TOML:
//
//	app_name = "demo"
//	frames_in_flight = 2
//	throttle_timeout_ms = 0
//	target_fps = 60
//	width = 1280
//	height = 720
//	validation = true
//	validation_layers = ["VK_LAYER_KHRONOS_validation"]
//	log_level = "info"
type Config struct {
	AppName string `toml:"app_name"`
	// FramesInFlight is N, the number of frames pipelined on the device.
	FramesInFlight int `toml:"frames_in_flight"`
	// ThrottleTimeoutMS bounds the per-frame fence wait. Zero waits forever.
	ThrottleTimeoutMS int `toml:"throttle_timeout_ms"`
	// TargetFPS caps the frame rate. Zero is unlimited.
	TargetFPS        int      `toml:"target_fps"`
	Width            int      `toml:"width"`
	Height           int      `toml:"height"`
	Validation       bool     `toml:"validation"`
	ValidationLayers []string `toml:"validation_layers"`
	LogLevel         string   `toml:"log_level"`
}

// DefaultConfig returns the settings used for keys a file leaves out.
func DefaultConfig() Config {
	return Config{
		AppName:          "vkpace",
		FramesInFlight:   2,
		TargetFPS:        60,
		Width:            1280,
		Height:           720,
		ValidationLayers: []string{"VK_LAYER_KHRONOS_validation"},
		LogLevel:         "info",
	}
}

// LoadConfig reads and validates the TOML file at path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes TOML on top of DefaultConfig and validates the
// result. Unknown keys are rejected.
func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the ranges of every field.
func (c Config) Validate() error {
	switch {
	case c.FramesInFlight < 1:
		return errors.Errorf("frames_in_flight must be at least 1, got %d", c.FramesInFlight)
	case c.ThrottleTimeoutMS < 0:
		return errors.Errorf("throttle_timeout_ms must not be negative, got %d", c.ThrottleTimeoutMS)
	case c.TargetFPS < 0:
		return errors.Errorf("target_fps must not be negative, got %d", c.TargetFPS)
	case c.Width <= 0 || c.Height <= 0:
		return errors.Errorf("window size %dx%d must be positive", c.Width, c.Height)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ThrottleTimeout returns the throttle timeout as a duration; negative
// means no timeout, as FramesInFlight expects.
func (c Config) ThrottleTimeout() time.Duration {
	if c.ThrottleTimeoutMS == 0 {
		return -1
	}
	return time.Duration(c.ThrottleTimeoutMS) * time.Millisecond
}
