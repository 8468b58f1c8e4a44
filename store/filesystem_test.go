package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeanos-dev/imagestore/interfaces"
)

func newFilesystemStore(t *testing.T) (*FilesystemStore, string) {
	t.Helper()
	datadir := t.TempDir()
	s := &FilesystemStore{log: testLogger()}
	require.NoError(t, s.Configure(interfaces.Options{
		OptFilesystemDatadir: datadir,
	}))
	return s, datadir
}

func TestFilesystemStore_Configure(t *testing.T) {
	tests := []struct {
		name    string
		opts    interfaces.Options
		wantErr bool
	}{
		{name: "missing datadir", opts: interfaces.Options{}, wantErr: true},
		{name: "relative datadir", opts: interfaces.Options{OptFilesystemDatadir: "relative/dir"}, wantErr: true},
		{name: "valid", opts: interfaces.Options{OptFilesystemDatadir: filepath.Join(os.TempDir(), "imagestore-test")}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &FilesystemStore{log: testLogger()}
			err := s.Configure(tt.opts)
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilesystemStore_AddGetRoundTrip(t *testing.T) {
	s, datadir := newFilesystemStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("qcow2-"), 50000)
	wantSum := md5.Sum(payload)

	res, err := s.Add(ctx, "img-1", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.Size)
	assert.Equal(t, hex.EncodeToString(wantSum[:]), res.Checksum)
	assert.Equal(t, "file://"+filepath.Join(datadir, "img-1"), res.Location.URI())

	rc, size, err := s.Get(ctx, res.Location)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), size)

	// Checksum computed independently over the retrieved stream matches.
	gotSum := md5.Sum(got)
	assert.Equal(t, res.Checksum, hex.EncodeToString(gotSum[:]))

	n, err := s.Size(ctx, res.Location)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
}

func TestFilesystemStore_Duplicate(t *testing.T) {
	s, _ := newFilesystemStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "img-dup", bytes.NewReader([]byte("one")), 3)
	require.NoError(t, err)

	_, err = s.Add(ctx, "img-dup", bytes.NewReader([]byte("two")), 3)
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)
}

func TestFilesystemStore_SizeMismatchLeavesNoPartialObject(t *testing.T) {
	s, datadir := newFilesystemStore(t)
	ctx := context.Background()

	// Declare 100 bytes, supply only 90.
	_, err := s.Add(ctx, "img-short", bytes.NewReader(make([]byte, 90)), 100)
	assert.ErrorIs(t, err, interfaces.ErrSizeMismatch)

	_, statErr := os.Stat(filepath.Join(datadir, "img-short"))
	assert.True(t, os.IsNotExist(statErr), "partial file must be removed")
}

func TestFilesystemStore_DeleteThenGet(t *testing.T) {
	s, _ := newFilesystemStore(t)
	ctx := context.Background()

	res, err := s.Add(ctx, "img-del", bytes.NewReader([]byte("payload")), 7)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, res.Location))

	_, _, err = s.Get(ctx, res.Location)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = s.Delete(ctx, res.Location)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestFilesystemStore_Capabilities(t *testing.T) {
	s, datadir := newFilesystemStore(t)
	ctx := context.Background()

	caps := s.Capabilities(ctx)
	assert.True(t, caps.Read)
	assert.True(t, caps.Write)
	assert.True(t, caps.Delete)

	// Capabilities are recomputed, not cached: removing the datadir flips
	// them off, and Add then refuses before touching persistence.
	require.NoError(t, os.RemoveAll(datadir))
	caps = s.Capabilities(ctx)
	assert.False(t, caps.Write)

	_, err := s.Add(ctx, "img-x", bytes.NewReader([]byte("x")), 1)
	assert.ErrorIs(t, err, interfaces.ErrAddDisabled)
}
