package interfaces

import (
	"time"

	"github.com/spf13/cast"
)

// Options is the backend-specific configuration mapping passed to a store's
// Configure. The recognized option set is defined by each store; the framework
// passes the mapping through without interpreting it.
type Options map[string]any

// Has reports whether the option is present, regardless of its value.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the option coerced to a string, or "" if absent.
func (o Options) String(key string) string {
	return cast.ToString(o[key])
}

// Bool returns the option coerced to a bool, or false if absent.
func (o Options) Bool(key string) bool {
	return cast.ToBool(o[key])
}

// Int returns the option coerced to an int, or 0 if absent.
func (o Options) Int(key string) int {
	return cast.ToInt(o[key])
}

// Duration returns the option coerced to a time.Duration, or def if the
// option is absent or does not parse.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	if !o.Has(key) {
		return def
	}
	d, err := time.ParseDuration(cast.ToString(o[key]))
	if err != nil {
		return def
	}
	return d
}
