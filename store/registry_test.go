package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeanos-dev/imagestore/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAddress and fakeStore implement a minimal in-memory driver for
// exercising the registry without touching any real backend.
type fakeAddress struct {
	key string
}

func (a fakeAddress) URI() string { return "fake://" + a.key }

func parseFakeURI(uri string) (interfaces.Address, error) {
	key, ok := strings.CutPrefix(uri, "fake://")
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrMalformedLocation, uri)
	}
	return fakeAddress{key: key}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	configureErr error
	getErr       error
}

func (s *fakeStore) Configure(opts interfaces.Options) error {
	if s.configureErr != nil {
		return s.configureErr
	}
	s.objects = make(map[string][]byte)
	return nil
}

func (s *fakeStore) Schemes() []string { return []string{"fake"} }

func (s *fakeStore) Capabilities(ctx context.Context) interfaces.Capabilities {
	return interfaces.Capabilities{Read: true, Write: true, Delete: true}
}

func (s *fakeStore) Add(ctx context.Context, id string, r io.Reader, size int64) (*interfaces.AddResult, error) {
	tr := NewTransfer(size)
	data, err := io.ReadAll(tr.Reader(r))
	if err != nil {
		return nil, err
	}
	written, checksum, err := tr.Finish()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[id] = data
	s.mu.Unlock()
	return &interfaces.AddResult{
		Location: &interfaces.Location{Scheme: "fake", Address: fakeAddress{key: id}},
		Size:     written,
		Checksum: checksum,
	}, nil
}

func (s *fakeStore) Get(ctx context.Context, loc *interfaces.Location) (io.ReadCloser, int64, error) {
	if s.getErr != nil {
		return nil, 0, s.getErr
	}
	key := loc.Address.(fakeAddress).key
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return nil, 0, interfaces.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *fakeStore) Delete(ctx context.Context, loc *interfaces.Location) error {
	key := loc.Address.(fakeAddress).key
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) Size(ctx context.Context, loc *interfaces.Location) (int64, error) {
	key := loc.Address.(fakeAddress).key
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return 0, interfaces.ErrNotFound
	}
	return int64(len(data)), nil
}

func fakeDriver(constructed *atomic.Int64, s *fakeStore) Driver {
	return Driver{
		Name:    "fake",
		Schemes: []string{"fake"},
		Parse:   parseFakeURI,
		New: func(log *slog.Logger) interfaces.Store {
			if constructed != nil {
				constructed.Add(1)
			}
			return s
		},
	}
}

func TestRegistry_UnknownScheme(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(nil, &fakeStore{}), nil)

	_, err := r.Resolve("nonexistent-scheme")
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedBackend)
	assert.NotErrorIs(t, err, interfaces.ErrMalformedLocation)

	_, _, err = r.Get(context.Background(), "swift://container/object")
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedBackend)
	assert.NotErrorIs(t, err, interfaces.ErrMalformedLocation)
}

func TestRegistry_MalformedURI(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(nil, &fakeStore{}), nil)

	err := r.Delete(context.Background(), "not a uri")
	assert.ErrorIs(t, err, interfaces.ErrMalformedLocation)

	// Grammar violation under a registered scheme is malformed too.
	_, _, err = r.Get(context.Background(), "fake://")
	assert.ErrorIs(t, err, interfaces.ErrMalformedLocation)
}

func TestRegistry_AddGetDeleteRoundTrip(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(nil, &fakeStore{}), nil)
	ctx := context.Background()

	payload := []byte("disk image bytes")
	res, err := r.Add(ctx, "fake", "img-1", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, "fake://img-1", res.Location.URI())
	assert.Equal(t, int64(len(payload)), res.Size)

	rc, size, err := r.Get(ctx, res.Location.URI())
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), size)

	n, err := r.Size(ctx, res.Location.URI())
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	exists, err := r.Exists(ctx, res.Location.URI())
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, r.Delete(ctx, res.Location.URI()))
	_, _, err = r.Get(ctx, res.Location.URI())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	exists, err = r.Exists(ctx, res.Location.URI())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRegistry_DefaultStore(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(nil, &fakeStore{}), nil)

	assert.ErrorIs(t, r.VerifyDefault(), interfaces.ErrInvalidConfiguration)

	r.SetDefault("fake")
	require.NoError(t, r.VerifyDefault())

	res, err := r.Add(context.Background(), "", "img-default", strings.NewReader("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, "fake", res.Location.Scheme)

	r.SetDefault("missing")
	assert.ErrorIs(t, r.VerifyDefault(), interfaces.ErrUnsupportedBackend)
}

func TestRegistry_BackendErrorsPassThrough(t *testing.T) {
	sentinel := errors.New("backend exploded")
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(nil, &fakeStore{getErr: sentinel}), nil)

	_, _, err := r.Get(context.Background(), "fake://whatever")
	assert.ErrorIs(t, err, sentinel, "registry must not decorate backend errors")
}

func TestRegistry_ConfigureFailureSurfacesOnEveryResolve(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(nil, &fakeStore{
		configureErr: fmt.Errorf("%w: datadir missing", interfaces.ErrInvalidConfiguration),
	}), nil)

	for i := 0; i < 2; i++ {
		_, err := r.Resolve("fake")
		assert.ErrorIs(t, err, interfaces.ErrInvalidConfiguration)
	}
}

func TestRegistry_SingleConstruction(t *testing.T) {
	var constructed atomic.Int64
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(&constructed, &fakeStore{}), nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Resolve("fake")
			assert.NoError(t, err)
			assert.NotNil(t, s)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), constructed.Load(), "concurrent first resolves must construct exactly once")
}

func TestRegistry_ReRegisterLastWriteWins(t *testing.T) {
	first := &fakeStore{}
	second := &fakeStore{}
	r := NewRegistry(testLogger())
	r.Register(fakeDriver(nil, first), nil)
	r.Register(fakeDriver(nil, second), nil)

	s, err := r.Resolve("fake")
	require.NoError(t, err)
	assert.Same(t, second, s)
}

func TestRegistry_KnownSchemes(t *testing.T) {
	r := NewRegistry(testLogger())
	for _, d := range DefaultDrivers() {
		r.Register(d, nil)
	}
	assert.Equal(t, []string{"file", "http", "https", "ipfs", "s3", "vsphere"}, r.KnownSchemes())
}
