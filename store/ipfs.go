package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// Option keys recognized by the ipfs driver.
const (
	OptIPFSAPIAddr = "ipfs_store_api_addr"
)

// IPFSAddress locates an image by its content identifier. IPFS is content
// addressed, so the address carries no host: any configured daemon can
// resolve it.
type IPFSAddress struct {
	CID string
}

// URI renders the address as ipfs://<cid>.
func (a IPFSAddress) URI() string {
	return "ipfs://" + a.CID
}

// ParseIPFSURI parses ipfs://<cid> location URIs.
func ParseIPFSURI(uri string) (interfaces.Address, error) {
	rest, ok := strings.CutPrefix(uri, "ipfs://")
	if !ok {
		return nil, fmt.Errorf("%w: expected ipfs://<cid>, got %q", interfaces.ErrMalformedLocation, uri)
	}
	cid := strings.TrimSuffix(rest, "/")
	if cid == "" || strings.ContainsAny(cid, "/?#") {
		return nil, fmt.Errorf("%w: invalid CID in %q", interfaces.ErrMalformedLocation, uri)
	}
	return IPFSAddress{CID: cid}, nil
}

// IPFSStore persists images on an IPFS daemon. Add pins the content so the
// daemon retains it; Delete unpins, after which the daemon's garbage
// collector reclaims the blocks.
type IPFSStore struct {
	shell   *shell.Shell
	apiAddr string
	log     *slog.Logger
}

// IPFSDriver returns the driver descriptor for the ipfs store.
func IPFSDriver() Driver {
	return Driver{
		Name:    "ipfs",
		Schemes: []string{"ipfs"},
		Parse:   ParseIPFSURI,
		New: func(log *slog.Logger) interfaces.Store {
			return &IPFSStore{log: log}
		},
	}
}

// Configure validates the daemon API address and creates the client shell.
func (s *IPFSStore) Configure(opts interfaces.Options) error {
	s.apiAddr = opts.String(OptIPFSAPIAddr)
	if s.apiAddr == "" {
		return fmt.Errorf("%w: %s is required", interfaces.ErrInvalidConfiguration, OptIPFSAPIAddr)
	}
	s.shell = shell.NewShell(s.apiAddr)
	return nil
}

// Schemes returns the schemes handled by this store.
func (s *IPFSStore) Schemes() []string {
	return []string{"ipfs"}
}

// Capabilities probes the daemon; an unreachable daemon disables everything.
func (s *IPFSStore) Capabilities(ctx context.Context) interfaces.Capabilities {
	if !s.shell.IsUp() {
		s.log.Debug("IPFS daemon unreachable", slog.String("api", s.apiAddr))
		return interfaces.Capabilities{}
	}
	return interfaces.Capabilities{Read: true, Write: true, Delete: true}
}

// Add streams the image into the daemon, pinned. The image id plays no part
// in the location: the content itself determines the CID, and adding
// identical bytes twice yields the same pinned object rather than a
// Duplicate.
func (s *IPFSStore) Add(ctx context.Context, id string, r io.Reader, size int64) (*interfaces.AddResult, error) {
	if !s.Capabilities(ctx).Write {
		return nil, interfaces.ErrAddDisabled
	}

	tr := NewTransfer(size)
	cid, err := s.shell.Add(tr.Reader(r), shell.Pin(true))
	if err != nil {
		return nil, fmt.Errorf("%w: adding to IPFS: %v", interfaces.ErrRemoteUnavailable, err)
	}

	written, checksum, err := tr.Finish()
	if err != nil {
		if uerr := s.shell.Unpin(cid); uerr != nil {
			s.log.Warn("Failed to unpin partial IPFS object", slog.String("cid", cid), "err", uerr)
		}
		return nil, err
	}

	s.log.Debug("Stored image in IPFS",
		slog.String("cid", cid),
		slog.Int64("size", written))

	return &interfaces.AddResult{
		Location: &interfaces.Location{Scheme: "ipfs", Address: IPFSAddress{CID: cid}},
		Size:     written,
		Checksum: checksum,
	}, nil
}

// Get streams the content of the CID from the daemon.
func (s *IPFSStore) Get(ctx context.Context, loc *interfaces.Location) (io.ReadCloser, int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return nil, 0, err
	}
	if !s.shell.IsUp() {
		return nil, 0, fmt.Errorf("%w: IPFS daemon at %s", interfaces.ErrRemoteUnavailable, s.apiAddr)
	}

	size, err := s.Size(ctx, loc)
	if err != nil {
		return nil, 0, err
	}

	rc, err := s.shell.Cat("/ipfs/" + addr.CID)
	if err != nil {
		return nil, 0, mapIPFSError(err, addr.URI())
	}
	return rc, size, nil
}

// Delete unpins the CID. An already-unpinned CID reports NotFound.
func (s *IPFSStore) Delete(ctx context.Context, loc *interfaces.Location) error {
	if !s.Capabilities(ctx).Delete {
		return interfaces.ErrDeleteDisabled
	}
	addr, err := s.address(loc)
	if err != nil {
		return err
	}
	if err := s.shell.Unpin(addr.CID); err != nil {
		if strings.Contains(err.Error(), "not pinned") {
			return fmt.Errorf("%w: %s", interfaces.ErrNotFound, addr.URI())
		}
		return fmt.Errorf("%w: unpinning: %v", interfaces.ErrRemoteUnavailable, err)
	}
	return nil
}

// Size stats the unixfs object without reading its content.
func (s *IPFSStore) Size(ctx context.Context, loc *interfaces.Location) (int64, error) {
	addr, err := s.address(loc)
	if err != nil {
		return 0, err
	}
	if !s.shell.IsUp() {
		return 0, fmt.Errorf("%w: IPFS daemon at %s", interfaces.ErrRemoteUnavailable, s.apiAddr)
	}

	stat, err := s.shell.FilesStat(ctx, "/ipfs/"+addr.CID)
	if err != nil {
		return 0, mapIPFSError(err, addr.URI())
	}
	return int64(stat.Size), nil
}

func (s *IPFSStore) address(loc *interfaces.Location) (IPFSAddress, error) {
	addr, ok := loc.Address.(IPFSAddress)
	if !ok {
		return IPFSAddress{}, fmt.Errorf("%w: not an ipfs location", interfaces.ErrMalformedLocation)
	}
	return addr, nil
}

func mapIPFSError(err error, uri string) error {
	msg := err.Error()
	if strings.Contains(msg, "no link named") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "invalid path") {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, uri)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrRemoteUnavailable, err)
}
