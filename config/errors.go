package config

import (
	"errors"
	"fmt"
)

// ConfigError reports a malformed or contradictory configuration. It is
// always fatal and raised before any network access.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field == "" && e.Err != nil:
		return fmt.Errorf("config: %s: %w", e.Reason, e.Err).Error()
	case e.Field == "":
		return "config: " + e.Reason
	case e.Err != nil:
		return fmt.Errorf("config: %s: %s: %w", e.Field, e.Reason, e.Err).Error()
	default:
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

type fieldErrors []error

func (fe *fieldErrors) add(field, reason string) {
	*fe = append(*fe, &ConfigError{Field: field, Reason: reason})
}

func (fe fieldErrors) join() error {
	if len(fe) == 0 {
		return nil
	}
	return errors.Join(fe...)
}
