package frontdoor

import (
	"github.com/pkg/errors"

	"github.com/One-com/frontdoor/config"
)

// ErrAlreadyRunning is returned by Init and Start when the controller is not idle.
var ErrAlreadyRunning = errors.New("service is already running")

// ConfigError is the error type for malformed or missing configuration.
type ConfigError = config.ConfigError

// CredentialError reports unreadable or incomplete TLS material for an instance.
type CredentialError struct {
	Instance string // URL of the instance
	Err      error
}

func (e *CredentialError) Error() string {
	return "credentials for " + e.Instance + ": " + e.Err.Error()
}

func (e *CredentialError) Cause() error  { return e.Err }
func (e *CredentialError) Unwrap() error { return e.Err }

// BindError reports a listener which could not be created.
type BindError struct {
	Instance string // URL of the instance
	Err      error
}

func (e *BindError) Error() string {
	return "listening on " + e.Instance + ": " + e.Err.Error()
}

func (e *BindError) Cause() error  { return e.Err }
func (e *BindError) Unwrap() error { return e.Err }

// SubsystemInitError reports a failing initialization stage.
type SubsystemInitError struct {
	Stage string
	Err   error
}

func (e *SubsystemInitError) Error() string {
	return "stage " + e.Stage + ": " + e.Err.Error()
}

func (e *SubsystemInitError) Cause() error  { return e.Err }
func (e *SubsystemInitError) Unwrap() error { return e.Err }
