package store

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// fakeDatastore emulates the vSphere HTTP file-access endpoint: basic-auth
// protected GET/PUT/DELETE/HEAD on /folder/<path>?dcPath=..&dsName=..
type fakeDatastore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (d *fakeDatastore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || pass != "hunter2" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("dsName") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	path := r.URL.Path

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		d.files[path] = data
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead:
		data, ok := d.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	case http.MethodGet:
		data, ok := d.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	case http.MethodDelete:
		if _, ok := d.files[path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(d.files, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newVMwareStore(t *testing.T) (*VMwareStore, *fakeDatastore, string) {
	t.Helper()
	ds := &fakeDatastore{files: make(map[string][]byte)}
	srv := httptest.NewTLSServer(ds)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	s := &VMwareStore{log: testLogger()}
	require.NoError(t, s.Configure(interfaces.Options{
		OptVMwareServerHost:     u.Host,
		OptVMwareServerUsername: "admin",
		OptVMwareServerPassword: "hunter2",
		OptVMwareDatacenterPath: "dc1",
		OptVMwareDatastoreName:  "ds1",
		OptVMwareStoreImageDir:  "image_store",
		OptVMwareAPIInsecure:    true,
	}))
	return s, ds, u.Host
}

func TestVMwareStore_Configure(t *testing.T) {
	tests := []struct {
		name string
		opts interfaces.Options
	}{
		{name: "missing host", opts: interfaces.Options{
			OptVMwareServerUsername: "u", OptVMwareServerPassword: "p", OptVMwareDatastoreName: "ds",
		}},
		{name: "missing credentials", opts: interfaces.Options{
			OptVMwareServerHost: "vc", OptVMwareDatastoreName: "ds",
		}},
		{name: "missing datastore", opts: interfaces.Options{
			OptVMwareServerHost: "vc", OptVMwareServerUsername: "u", OptVMwareServerPassword: "p",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &VMwareStore{log: testLogger()}
			assert.ErrorIs(t, s.Configure(tt.opts), interfaces.ErrInvalidConfiguration)
		})
	}
}

func TestVMwareStore_AddGetRoundTrip(t *testing.T) {
	s, ds, host := newVMwareStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("vmdk"), 4096)
	res, err := s.Add(ctx, "img-1", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.Size)
	assert.Equal(t,
		"vsphere://"+host+"/folder/image_store/img-1?dcPath=dc1&dsName=ds1",
		res.Location.URI())

	// The fake datastore holds exactly what was streamed.
	assert.Equal(t, payload, ds.files["/folder/image_store/img-1"])

	rc, size, err := s.Get(ctx, res.Location)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), size)

	n, err := s.Size(ctx, res.Location)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
}

func TestVMwareStore_Duplicate(t *testing.T) {
	s, _, _ := newVMwareStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "img-dup", bytes.NewReader([]byte("one")), 3)
	require.NoError(t, err)

	_, err = s.Add(ctx, "img-dup", bytes.NewReader([]byte("two")), 3)
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)
}

func TestVMwareStore_SizeMismatchRemovesUpload(t *testing.T) {
	s, ds, _ := newVMwareStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "img-short", bytes.NewReader(make([]byte, 90)), interfaces.SizeUnknown)
	require.NoError(t, err, "unknown size skips the check")

	_, err = s.Add(ctx, "img-short-2", bytes.NewReader(make([]byte, 90)), 100)
	assert.ErrorIs(t, err, interfaces.ErrSizeMismatch)
	_, exists := ds.files["/folder/image_store/img-short-2"]
	assert.False(t, exists, "mismatched upload must be removed")
}

func TestVMwareStore_DeleteThenGet(t *testing.T) {
	s, _, _ := newVMwareStore(t)
	ctx := context.Background()

	res, err := s.Add(ctx, "img-del", bytes.NewReader([]byte("payload")), 7)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, res.Location))

	_, _, err = s.Get(ctx, res.Location)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = s.Delete(ctx, res.Location)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestVMwareStore_UnreachableServerDisablesCapabilities(t *testing.T) {
	s := &VMwareStore{log: testLogger()}
	require.NoError(t, s.Configure(interfaces.Options{
		OptVMwareServerHost:     "127.0.0.1:1",
		OptVMwareServerUsername: "admin",
		OptVMwareServerPassword: "hunter2",
		OptVMwareDatastoreName:  "ds1",
		OptVMwareAPIInsecure:    true,
	}))

	caps := s.Capabilities(context.Background())
	assert.False(t, caps.Read)
	assert.False(t, caps.Write)

	_, err := s.Add(context.Background(), "img", bytes.NewReader([]byte("x")), 1)
	assert.ErrorIs(t, err, interfaces.ErrAddDisabled)
}
