package nodegraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/nodegraph/driver"
)

// Option configures a Session during creation.
//
// Example:
//
//	// Default device, validation enabled
//	s, err := nodegraph.NewSession(nodegraph.WithDebug(true))
//
//	// Explicit device (dependency injection)
//	s, err := nodegraph.NewSession(nodegraph.WithDevice(software.New()))
type Option func(*sessionOptions)

type sessionOptions struct {
	device     driver.Device
	driverName string
	debug      bool
	pageSize   uint64
}

func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		pageSize: DefaultPageSize,
	}
}

// DefaultPageSize is the page size of the memories a Session creates for
// itself (node-owned outputs). 32 MiB.
const DefaultPageSize = 32 << 20

// WithDevice uses dev instead of opening one from the driver registry.
// The session takes ownership and closes it.
func WithDevice(dev driver.Device) Option {
	return func(o *sessionOptions) {
		o.device = dev
	}
}

// WithDriver opens the device from the named driver (e.g. "software", "wgpu").
func WithDriver(name string) Option {
	return func(o *sessionOptions) {
		o.driverName = name
	}
}

// WithDebug enables the validation layer and the debug channel.
func WithDebug(enabled bool) Option {
	return func(o *sessionOptions) {
		o.debug = enabled
	}
}

// WithDefaultPageSize sets the page size of session-owned memories.
func WithDefaultPageSize(size uint64) Option {
	return func(o *sessionOptions) {
		o.pageSize = size
	}
}

// Config is the file form of the session options.
//
//	driver: software
//	debug: true
//	page_size: 33554432
//	libraries:
//	  - nodes.zip
//	scripts:
//	  - extra.hcl
type Config struct {
	Driver    string   `yaml:"driver"`
	Debug     bool     `yaml:"debug"`
	PageSize  uint64   `yaml:"page_size"`
	Libraries []string `yaml:"libraries"`
	Scripts   []string `yaml:"scripts"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nodegraph: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("nodegraph: parse config: %w", err)
	}
	return &cfg, nil
}

// Options converts the configuration into session options.
func (c *Config) Options() []Option {
	opts := []Option{WithDebug(c.Debug)}
	if c.Driver != "" {
		opts = append(opts, WithDriver(c.Driver))
	}
	if c.PageSize != 0 {
		opts = append(opts, WithDefaultPageSize(c.PageSize))
	}
	return opts
}

// NewSessionFromConfig creates a session from cfg and loads its libraries
// and scripts. Explicit opts are applied after the configuration.
func NewSessionFromConfig(cfg *Config, opts ...Option) (*Session, error) {
	s, err := NewSession(append(cfg.Options(), opts...)...)
	if err != nil {
		return nil, err
	}
	for _, lib := range cfg.Libraries {
		if err := s.LoadLibrary(lib); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	for _, script := range cfg.Scripts {
		if err := s.LoadBuilderScript(script); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}
