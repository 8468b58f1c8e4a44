package store

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeanos-dev/imagestore/interfaces"
)

func TestTransfer_ChunkSizeIndependence(t *testing.T) {
	payload := bytes.Repeat([]byte("image-data-"), 10000)
	wantSum := md5.Sum(payload)
	want := hex.EncodeToString(wantSum[:])

	for _, chunkSize := range []int{1, 7, 512, 64 * 1024, len(payload) + 1} {
		tr := NewTransfer(int64(len(payload)))
		var sink bytes.Buffer
		_, err := CopyChunks(&sink, tr.Reader(bytes.NewReader(payload)), chunkSize)
		require.NoError(t, err)

		size, checksum, err := tr.Finish()
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), size, "chunk size %d", chunkSize)
		assert.Equal(t, want, checksum, "chunk size %d", chunkSize)
		assert.Equal(t, payload, sink.Bytes())
	}
}

func TestTransfer_SizeMismatch(t *testing.T) {
	tests := []struct {
		name     string
		declared int64
		actual   int
		wantErr  bool
	}{
		{name: "exact", declared: 100, actual: 100, wantErr: false},
		{name: "short stream", declared: 100, actual: 90, wantErr: true},
		{name: "long stream", declared: 100, actual: 110, wantErr: true},
		{name: "unknown size skips check", declared: interfaces.SizeUnknown, actual: 90, wantErr: false},
		{name: "empty declared empty", declared: 0, actual: 0, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransfer(tt.declared)
			_, err := io.Copy(io.Discard, tr.Reader(bytes.NewReader(make([]byte, tt.actual))))
			require.NoError(t, err)

			size, checksum, err := tr.Finish()
			assert.Equal(t, int64(tt.actual), size)
			assert.NotEmpty(t, checksum)
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrSizeMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransfer_FinishIdempotent(t *testing.T) {
	tr := NewTransfer(4)
	_, err := io.Copy(io.Discard, tr.Reader(bytes.NewReader([]byte("data"))))
	require.NoError(t, err)

	size1, sum1, err1 := tr.Finish()
	size2, sum2, err2 := tr.Finish()
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, size1, size2)
	assert.Equal(t, sum1, sum2)
}

func TestTransfer_ObservedTracksPartialConsumption(t *testing.T) {
	tr := NewTransfer(1000)
	r := tr.Reader(bytes.NewReader(make([]byte, 1000)))

	// Consume only part of the stream, as an aborted destination would.
	_, err := io.CopyN(io.Discard, r, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), tr.Observed())

	_, _, err = tr.Finish()
	assert.ErrorIs(t, err, interfaces.ErrSizeMismatch)
}
