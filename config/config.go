// Package config defines the configuration of a frontdoor service and the
// sources it can be resolved from.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/One-com/gone/jconf"

	"github.com/One-com/frontdoor/tlsconf"
)

// Protocols understood by an instance. "http" and "https" are accepted as aliases.
const (
	Plain   = "plain"
	Secured = "secured"
)

// ConfigError reports a malformed or missing configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Err.Error()
	}
	return "config error: " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigError) Cause() error  { return e.Err }
func (e *ConfigError) Unwrap() error { return e.Err }

// WrapError turns any error into a *ConfigError.
func WrapError(wrapped error) error {
	if wrapped == nil {
		return nil
	}
	var ce *ConfigError
	if errors.As(wrapped, &ce) {
		return wrapped
	}
	return &ConfigError{Err: wrapped}
}

// InstanceConfig defines one listener of the service.
type InstanceConfig struct {
	Protocol          string         `json:",omitempty" validate:"omitempty,oneof=plain secured http https"`
	Port              int            `validate:"gte=0,lte=65535"`
	Hostname          string         `json:",omitempty"`
	BundlePath        string         `json:",omitempty"`
	Passphrase        string         `json:",omitempty"`
	KeyPath           string         `json:",omitempty"`
	CertPath          string         `json:",omitempty"`
	IOActivityTimeout jconf.Duration `json:",omitempty"`
}

// Secured tells whether the instance must be served over TLS.
func (i InstanceConfig) Secured() bool {
	return i.Protocol == Secured
}

// Address is the host:port the instance binds to.
func (i InstanceConfig) Address() string {
	return net.JoinHostPort(i.Hostname, strconv.Itoa(i.Port))
}

// URL formats the instance for logging and advertising.
func (i InstanceConfig) URL() string {
	u := url.URL{Scheme: "http", Host: i.Address()}
	if i.Secured() {
		u.Scheme = "https"
	}
	return u.String()
}

func (i *InstanceConfig) normalize() {
	switch strings.ToLower(i.Protocol) {
	case "", "http", Plain:
		i.Protocol = Plain
	case "https", Secured:
		i.Protocol = Secured
	}
}

// MetricsConfig is the configuration for pushing metrics to a statsd server.
type MetricsConfig struct {
	Address     string
	Interval    jconf.Duration
	Prefix      string
	Application string
	Ident       string
}

// Config is the top level service configuration.
type Config struct {
	Instances            []InstanceConfig `validate:"required,min=1,dive"`
	PrimaryInstanceIndex int              `json:",omitempty" validate:"gte=0"`

	// Names of registered stages, in the order they must run.
	Stages []string `json:",omitempty"`

	// Path prefixes exempted from stateful middleware.
	BypassPaths []string `json:",omitempty"`

	// TLS policy shared by all secured instances.
	TLS *tlsconf.TLSServerConfig `json:",omitempty" validate:"-"`

	AccessLog string `json:",omitempty"`

	// a , separated string of return code specs: "2XX,412,5XX,404,size"
	RequestMetrics string `json:",omitempty"`

	Metrics *MetricsConfig `json:",omitempty" validate:"-"`

	ReadHeaderTimeout jconf.Duration `json:",omitempty"`
	IdleTimeout       jconf.Duration `json:",omitempty"`
	ReadTimeout       jconf.Duration `json:",omitempty"`
	WriteTimeout      jconf.Duration `json:",omitempty"`
	ShutdownTimeout   jconf.Duration `json:",omitempty"`
}

var validate = validator.New()

// Validate normalizes protocol names and checks the config for consistency.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return &ConfigError{Err: errors.New("no configuration")}
	}
	for i := range cfg.Instances {
		cfg.Instances[i].normalize()
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ConfigError{Field: verrs[0].Namespace(), Err: err}
		}
		return WrapError(err)
	}
	if cfg.PrimaryInstanceIndex >= len(cfg.Instances) {
		return &ConfigError{
			Field: "PrimaryInstanceIndex",
			Err:   fmt.Errorf("index %d out of range (%d instances)", cfg.PrimaryInstanceIndex, len(cfg.Instances)),
		}
	}
	return nil
}

// Primary returns the instance used for advertising the service.
func (cfg *Config) Primary() InstanceConfig {
	return cfg.Instances[cfg.PrimaryInstanceIndex]
}

// Copy returns a copy not sharing slices with cfg.
func (cfg *Config) Copy() *Config {
	c := *cfg
	c.Instances = append([]InstanceConfig(nil), cfg.Instances...)
	c.Stages = append([]string(nil), cfg.Stages...)
	c.BypassPaths = append([]string(nil), cfg.BypassPaths...)
	return &c
}

// Dump serialized the JSON config as configured to dest
func (cfg *Config) Dump(dest io.Writer) {

	var out bytes.Buffer
	b, err := json.Marshal(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	err = json.Indent(&out, b, "", "    ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	out.WriteByte('\n')
	out.WriteTo(dest)
}

// ParseConfigFromFile returns a pointer to a new Config object
// after parsing config file content.
// Files named *.yaml or *.yml are read as YAML, everything else as JSON
// allowing "//" comments.
func ParseConfigFromFile(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, WrapError(err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return ParseYAML(file)
	}
	return ParseConfig(file)
}

// ParseConfig reads JSON config from the supplied io.Reader and parses it
func ParseConfig(stream io.Reader) (*Config, error) {
	var config *Config
	err := jconf.ParseInto(stream, &config)
	if err != nil {
		return nil, WrapError(errors.Wrap(err, "parsing JSON"))
	}
	return config, nil
}

// ParseYAML reads YAML config from the supplied io.Reader.
// The document is converted to JSON and parsed like any JSON config, so
// both formats accept the same keys and duration strings.
func ParseYAML(stream io.Reader) (*Config, error) {
	var doc map[string]interface{}
	if err := yaml.NewDecoder(stream).Decode(&doc); err != nil && err != io.EOF {
		return nil, WrapError(errors.Wrap(err, "parsing YAML"))
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, WrapError(errors.Wrap(err, "converting YAML"))
	}
	return ParseConfig(bytes.NewReader(b))
}
