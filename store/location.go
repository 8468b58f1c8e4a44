package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// SplitScheme extracts the scheme from a location URI. It is a purely
// syntactic check: an unknown-but-well-formed scheme still splits cleanly,
// so the registry can distinguish "malformed" from "not registered".
func SplitScheme(uri string) (string, error) {
	i := strings.Index(uri, ":")
	if i <= 0 {
		return "", fmt.Errorf("%w: no scheme in %q", interfaces.ErrMalformedLocation, uri)
	}
	scheme := strings.ToLower(uri[:i])
	for _, r := range scheme {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '+' && r != '-' && r != '.' {
			return "", fmt.Errorf("%w: invalid scheme in %q", interfaces.ErrMalformedLocation, uri)
		}
	}
	return scheme, nil
}

// Codec maps URI schemes to their driver's address parser. Parsing is pure
// string work; no network or filesystem access ever happens here.
type Codec struct {
	mu      sync.RWMutex
	parsers map[string]interfaces.AddressParser
}

// NewCodec creates an empty codec. Parsers are registered as drivers are
// registered with the store registry.
func NewCodec() *Codec {
	return &Codec{parsers: make(map[string]interfaces.AddressParser)}
}

// Register installs the parser for a scheme. Re-registering a scheme
// replaces the previous parser.
func (c *Codec) Register(scheme string, parser interfaces.AddressParser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parsers[scheme] = parser
}

// Known reports whether a parser is registered for the scheme.
func (c *Codec) Known(scheme string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.parsers[scheme]
	return ok
}

// Parse turns a location URI into a structured Location. It fails with
// ErrMalformedLocation when the URI has no syntactic scheme or violates the
// scheme's address grammar, and with ErrUnsupportedBackend when the scheme is
// well formed but has no registered parser.
func (c *Codec) Parse(uri string) (*interfaces.Location, error) {
	scheme, err := SplitScheme(uri)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	parser, ok := c.parsers[scheme]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrUnsupportedBackend, scheme)
	}

	addr, err := parser(uri)
	if err != nil {
		return nil, err
	}
	return &interfaces.Location{Scheme: scheme, Address: addr}, nil
}
