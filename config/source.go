package config

import (
	"os"

	"github.com/pkg/errors"
)

// DefaultFile is the config file used when FRONTDOOR_CONFIG is not set.
const DefaultFile = "frontdoor.json"

// EnvConfigFile names the environment variable pointing to the process default config file.
const EnvConfigFile = "FRONTDOOR_CONFIG"

// Source resolves into one validated Config.
// It is the only way configuration reaches a controller.
type Source interface {
	Resolve() (*Config, error)
}

type fileSource string

// File reads configuration from a JSON or YAML file.
func File(filename string) Source {
	return fileSource(filename)
}

func (f fileSource) Resolve() (*Config, error) {
	cfg, err := ParseConfigFromFile(string(f))
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "file %s", string(f))
	}
	return cfg, nil
}

type portSource int

// Port is a single plain instance on localhost.
func Port(port int) Source {
	return portSource(port)
}

func (p portSource) Resolve() (*Config, error) {
	cfg := &Config{
		Instances: []InstanceConfig{
			{Protocol: Plain, Port: int(p), Hostname: "localhost"},
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type staticSource struct {
	cfg *Config
}

// Static uses an in-memory Config. The Config is copied on every Resolve.
func Static(cfg *Config) Source {
	return staticSource{cfg: cfg}
}

func (s staticSource) Resolve() (*Config, error) {
	if s.cfg == nil {
		return nil, &ConfigError{Err: errors.New("no configuration")}
	}
	cfg := s.cfg.Copy()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default is the process default configuration: the file named by
// $FRONTDOOR_CONFIG, or DefaultFile in the working directory.
func Default() Source {
	if f := os.Getenv(EnvConfigFile); f != "" {
		return File(f)
	}
	return File(DefaultFile)
}
