package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// Option keys recognized by the filesystem driver.
const (
	OptFilesystemDatadir = "filesystem_store_datadir"
)

// FilesystemAddress locates an image file on the local filesystem.
type FilesystemAddress struct {
	Path string
}

// URI renders the address as file:///absolute/path.
func (a FilesystemAddress) URI() string {
	return "file://" + a.Path
}

// ParseFilesystemURI parses file:// location URIs. Only absolute paths are
// accepted.
func ParseFilesystemURI(uri string) (interfaces.Address, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedLocation, err)
	}
	if u.Scheme != "file" || u.Host != "" {
		return nil, fmt.Errorf("%w: expected file:///<path>, got %q", interfaces.ErrMalformedLocation, uri)
	}
	if !strings.HasPrefix(u.Path, "/") {
		return nil, fmt.Errorf("%w: filesystem path must be absolute in %q", interfaces.ErrMalformedLocation, uri)
	}
	return FilesystemAddress{Path: filepath.Clean(u.Path)}, nil
}

// FilesystemStore persists images as flat files under a configured data
// directory. It is the default driver for single-node deployments.
type FilesystemStore struct {
	datadir string
	log     *slog.Logger
}

// FilesystemDriver returns the driver descriptor for the filesystem store.
func FilesystemDriver() Driver {
	return Driver{
		Name:    "file",
		Schemes: []string{"file"},
		Parse:   ParseFilesystemURI,
		New: func(log *slog.Logger) interfaces.Store {
			return &FilesystemStore{log: log}
		},
	}
}

// Configure validates and applies the driver options. The data directory is
// required and created if absent.
func (s *FilesystemStore) Configure(opts interfaces.Options) error {
	datadir := opts.String(OptFilesystemDatadir)
	if datadir == "" {
		return fmt.Errorf("%w: %s is required", interfaces.ErrInvalidConfiguration, OptFilesystemDatadir)
	}
	if !filepath.IsAbs(datadir) {
		return fmt.Errorf("%w: %s must be an absolute path", interfaces.ErrInvalidConfiguration, OptFilesystemDatadir)
	}
	if err := os.MkdirAll(datadir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", interfaces.ErrInvalidConfiguration, datadir, err)
	}
	s.datadir = datadir
	return nil
}

// Schemes returns the schemes handled by this store.
func (s *FilesystemStore) Schemes() []string {
	return []string{"file"}
}

// Capabilities probes the data directory; all operations are local so read,
// write and delete stand or fall together with its accessibility.
func (s *FilesystemStore) Capabilities(ctx context.Context) interfaces.Capabilities {
	info, err := os.Stat(s.datadir)
	if err != nil || !info.IsDir() {
		return interfaces.Capabilities{}
	}
	return interfaces.Capabilities{Read: true, Write: true, Delete: true}
}

// Add streams r into a new file named after the image id. The file is
// created exclusively, so two adds racing for the same id resolve to one
// winner and one ErrDuplicate. Any failure mid-stream removes the partial
// file before returning.
func (s *FilesystemStore) Add(ctx context.Context, id string, r io.Reader, size int64) (*interfaces.AddResult, error) {
	if !s.Capabilities(ctx).Write {
		return nil, interfaces.ErrAddDisabled
	}

	path := filepath.Join(s.datadir, id)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrDuplicate, path)
		}
		return nil, fmt.Errorf("creating image file: %w", err)
	}

	tr := NewTransfer(size)
	_, err = CopyChunks(f, tr.Reader(r), DefaultChunkSize)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.discard(path)
		return nil, fmt.Errorf("writing image file: %w", err)
	}

	written, checksum, err := tr.Finish()
	if err != nil {
		s.discard(path)
		return nil, err
	}

	s.log.Debug("Stored image on filesystem",
		slog.String("path", path),
		slog.Int64("size", written),
		slog.String("checksum", checksum))

	return &interfaces.AddResult{
		Location: &interfaces.Location{Scheme: "file", Address: FilesystemAddress{Path: path}},
		Size:     written,
		Checksum: checksum,
	}, nil
}

// Get opens the image file for chunked reading.
func (s *FilesystemStore) Get(ctx context.Context, loc *interfaces.Location) (io.ReadCloser, int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(addr.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", interfaces.ErrNotFound, addr.Path)
		}
		return nil, 0, fmt.Errorf("opening image file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat image file: %w", err)
	}
	return f, info.Size(), nil
}

// Delete removes the image file.
func (s *FilesystemStore) Delete(ctx context.Context, loc *interfaces.Location) error {
	if !s.Capabilities(ctx).Delete {
		return interfaces.ErrDeleteDisabled
	}
	addr, err := s.address(loc)
	if err != nil {
		return err
	}
	if err := os.Remove(addr.Path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", interfaces.ErrNotFound, addr.Path)
		}
		return fmt.Errorf("removing image file: %w", err)
	}
	return nil
}

// Size stats the image file without reading it.
func (s *FilesystemStore) Size(ctx context.Context, loc *interfaces.Location) (int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(addr.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", interfaces.ErrNotFound, addr.Path)
		}
		return 0, fmt.Errorf("stat image file: %w", err)
	}
	return info.Size(), nil
}

func (s *FilesystemStore) address(loc *interfaces.Location) (FilesystemAddress, error) {
	addr, ok := loc.Address.(FilesystemAddress)
	if !ok {
		return FilesystemAddress{}, fmt.Errorf("%w: not a filesystem location", interfaces.ErrMalformedLocation)
	}
	return addr, nil
}

func (s *FilesystemStore) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("Failed to remove partial image file", slog.String("path", path), "err", err)
	}
}
