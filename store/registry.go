package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// Driver describes one registrable store implementation: the schemes it
// claims, its address grammar, and a factory for instances. The factory is
// not invoked until the first operation routed to one of the driver's
// schemes.
type Driver struct {
	// Name is the configuration name of the driver ("file", "http", ...).
	Name string

	// Schemes are the URI schemes the driver handles. The first is canonical.
	Schemes []string

	// Parse is the driver's location grammar.
	Parse interfaces.AddressParser

	// New constructs an unconfigured store instance.
	New func(log *slog.Logger) interfaces.Store
}

// entry is one registered driver plus its lazily constructed, memoized
// instance. Construction and configuration happen inside once, giving the
// single-construction guarantee without blocking resolution of other schemes.
type entry struct {
	driver Driver
	opts   interfaces.Options

	once  sync.Once
	store interfaces.Store
	err   error
}

func (e *entry) resolve(log *slog.Logger) (interfaces.Store, error) {
	e.once.Do(func() {
		s := e.driver.New(log)
		if err := s.Configure(e.opts); err != nil {
			e.err = err
			return
		}
		e.store = s
	})
	return e.store, e.err
}

// Registry routes store operations by URI scheme. It owns the only shared
// mutable state in the framework: the scheme to instance map, mutated solely
// by insert-if-absent under the per-entry once.
//
// The registry never retries and never swallows a backend error; it decorates
// only its own pre-dispatch failures (malformed URI, unregistered scheme).
type Registry struct {
	log   *slog.Logger
	codec *Codec

	mu            sync.RWMutex
	entries       map[string]*entry
	defaultScheme string
}

// NewRegistry creates an empty registry. Drivers are added with Register;
// DefaultDrivers lists the built-in set.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		codec:   NewCodec(),
		entries: make(map[string]*entry),
	}
}

// Register adds a driver under all of its schemes with the given
// configuration. Re-registering a scheme replaces the previous driver, last
// write wins; this is intended for test and override scenarios, not for
// routine reconfiguration.
func (r *Registry) Register(d Driver, opts interfaces.Options) {
	e := &entry{driver: d, opts: opts}
	r.mu.Lock()
	for _, scheme := range d.Schemes {
		r.entries[scheme] = e
	}
	r.mu.Unlock()
	for _, scheme := range d.Schemes {
		r.codec.Register(scheme, d.Parse)
	}
	r.log.Debug("Registered store driver", "driver", d.Name, "schemes", d.Schemes)
}

// SetDefault selects the scheme used when Add is called with an empty scheme.
func (r *Registry) SetDefault(scheme string) {
	r.mu.Lock()
	r.defaultScheme = scheme
	r.mu.Unlock()
}

// VerifyDefault checks that the configured default scheme resolves to a
// working store.
func (r *Registry) VerifyDefault() error {
	r.mu.RLock()
	scheme := r.defaultScheme
	r.mu.RUnlock()
	if scheme == "" {
		return fmt.Errorf("%w: no default store configured", interfaces.ErrInvalidConfiguration)
	}
	_, err := r.Resolve(scheme)
	return err
}

// KnownSchemes returns the sorted list of registered schemes.
func (r *Registry) KnownSchemes() []string {
	r.mu.RLock()
	schemes := make([]string, 0, len(r.entries))
	for s := range r.entries {
		schemes = append(schemes, s)
	}
	r.mu.RUnlock()
	sort.Strings(schemes)
	return schemes
}

// Codec exposes the registry's location codec.
func (r *Registry) Codec() *Codec {
	return r.codec
}

// Resolve returns the store instance for a scheme, constructing and
// configuring it on first use. Concurrent first resolutions of the same
// scheme construct exactly one instance; resolutions of different schemes
// never serialize against each other.
func (r *Registry) Resolve(scheme string) (interfaces.Store, error) {
	r.mu.RLock()
	e, ok := r.entries[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrUnsupportedBackend, scheme)
	}
	return e.resolve(r.log)
}

// Add streams r into the store registered for scheme (the default store when
// scheme is empty) and returns the resulting location, size and checksum.
// Backend errors pass through unchanged; retry policy belongs to the caller,
// since a partially consumed upload stream cannot safely be replayed here.
func (r *Registry) Add(ctx context.Context, scheme, id string, rd io.Reader, size int64) (*interfaces.AddResult, error) {
	if scheme == "" {
		r.mu.RLock()
		scheme = r.defaultScheme
		r.mu.RUnlock()
	}
	s, err := r.Resolve(scheme)
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, id, rd, size)
}

// Get parses the location URI, resolves its store and opens the object for
// reading.
func (r *Registry) Get(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	loc, s, err := r.route(uri)
	if err != nil {
		return nil, 0, err
	}
	return s.Get(ctx, loc)
}

// Delete parses the location URI, resolves its store and deletes the object.
func (r *Registry) Delete(ctx context.Context, uri string) error {
	loc, s, err := r.route(uri)
	if err != nil {
		return err
	}
	return s.Delete(ctx, loc)
}

// Size parses the location URI, resolves its store and returns the object's
// byte size without reading it.
func (r *Registry) Size(ctx context.Context, uri string) (int64, error) {
	loc, s, err := r.route(uri)
	if err != nil {
		return 0, err
	}
	return s.Size(ctx, loc)
}

// Exists reports whether the location resolves to a stored object. It is a
// metadata probe built on Size; only ErrNotFound means "no", every other
// failure is reported as an error since absence was not established.
func (r *Registry) Exists(ctx context.Context, uri string) (bool, error) {
	_, err := r.Size(ctx, uri)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// route performs the shared pre-dispatch work for location-addressed calls.
// The scheme lookup happens before address parsing so that an unregistered
// scheme surfaces as ErrUnsupportedBackend, never as ErrMalformedLocation.
func (r *Registry) route(uri string) (*interfaces.Location, interfaces.Store, error) {
	scheme, err := SplitScheme(uri)
	if err != nil {
		return nil, nil, err
	}
	s, err := r.Resolve(scheme)
	if err != nil {
		return nil, nil, err
	}
	loc, err := r.codec.Parse(uri)
	if err != nil {
		return nil, nil, err
	}
	return loc, s, nil
}
