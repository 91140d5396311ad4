package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaseModel = "facebook/nllb-200-distilled-600M"
	DefaultAdapter   = "junaid17/nllb-kurdish-lora"
)

type BackendKind string

const (
	BackendHTTP   BackendKind = "http"
	BackendFlight BackendKind = "flight"
)

// Config holds the translation pipeline settings. Values are fixed at deploy time.
type Config struct {
	BaseModel string
	Adapter   string
	CacheDir  string
	Device    string

	Backend     BackendKind
	BackendAddr string

	MaxInputTokens int
	Truncation     bool
	Padding        bool

	MaxLength         int
	NumBeams          int
	SkipSpecialTokens bool

	MaxConcurrent    int64
	LoadTimeout      time.Duration
	BackendTimeout   time.Duration
	PreloadOnStartup bool
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseModel) == "" {
		return fmt.Errorf("invalid base_model: must not be empty")
	}
	if strings.TrimSpace(c.Adapter) == "" {
		return fmt.Errorf("invalid adapter: must not be empty")
	}
	switch c.Backend {
	case BackendHTTP, BackendFlight:
	default:
		return fmt.Errorf("invalid backend: %q (must be %q or %q)", c.Backend, BackendHTTP, BackendFlight)
	}
	if strings.TrimSpace(c.BackendAddr) == "" {
		return fmt.Errorf("invalid backend_addr: must not be empty")
	}
	if c.MaxInputTokens <= 0 {
		return fmt.Errorf("invalid max_input_tokens: %d (must be positive)", c.MaxInputTokens)
	}
	if c.MaxLength <= 0 {
		return fmt.Errorf("invalid max_length: %d (must be positive)", c.MaxLength)
	}
	if c.NumBeams <= 0 {
		return fmt.Errorf("invalid num_beams: %d (must be positive)", c.NumBeams)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("invalid max_concurrent: %d (must be positive)", c.MaxConcurrent)
	}
	if c.LoadTimeout < 0 {
		return fmt.Errorf("invalid load_timeout: %s (must be non-negative)", c.LoadTimeout)
	}
	if c.BackendTimeout < 0 {
		return fmt.Errorf("invalid backend_timeout: %s (must be non-negative)", c.BackendTimeout)
	}
	return nil
}

// Greedy reports whether generation degenerates to greedy decoding.
func (c *Config) Greedy() bool {
	return c.NumBeams == 1
}

func Default() Config {
	return Config{
		BaseModel: DefaultBaseModel,
		Adapter:   DefaultAdapter,
		Device:    "auto",

		Backend:     BackendHTTP,
		BackendAddr: "http://127.0.0.1:8500",

		MaxInputTokens: 256,
		Truncation:     true,
		Padding:        true,

		MaxLength:         256,
		NumBeams:          4,
		SkipSpecialTokens: true,

		MaxConcurrent:  1,
		LoadTimeout:    10 * time.Minute,
		BackendTimeout: 2 * time.Minute,
	}
}
