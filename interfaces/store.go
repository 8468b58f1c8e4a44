package interfaces

import (
	"context"
	"io"
)

// SizeUnknown is the declared size of a transfer whose length is not known up
// front, for example a chunked HTTP upload. Size verification is skipped for
// such transfers.
const SizeUnknown int64 = -1

// Capabilities is a live snapshot of the operations a store instance currently
// permits. It is recomputed on every query rather than cached, since backend
// availability can change at any time.
type Capabilities struct {
	Read   bool
	Write  bool
	Delete bool
}

// AddResult describes a completed Add: the canonical location of the stored
// object together with the verified byte count and checksum observed while
// streaming.
type AddResult struct {
	Location *Location
	Size     int64
	Checksum string
}

// Store is the uniform contract every storage backend implements. The
// framework routes calls by URI scheme and never depends on a concrete
// backend type.
//
// Error contract: NotFound, Duplicate, AddDisabled, DeleteDisabled,
// RemoteUnavailable and SizeMismatch are reported via the sentinel errors in
// this package so callers can match with errors.Is and decide retry
// eligibility.
type Store interface {
	// Configure validates the backend-specific options. It is called once,
	// before the first operation, and must be idempotent. Missing or
	// malformed options are reported via ErrInvalidConfiguration.
	Configure(opts Options) error

	// Schemes returns the URI schemes this store handles. The first entry is
	// the canonical scheme used for locations the store constructs.
	Schemes() []string

	// Capabilities reports which operations are currently available. It may
	// perform a lightweight liveness probe but never fails: transient
	// unavailability is reflected in the flags.
	Capabilities(ctx context.Context) Capabilities

	// Add streams r into the backend under the given object id and returns
	// the canonical location with the verified size and checksum. size is the
	// declared byte count, or SizeUnknown.
	Add(ctx context.Context, id string, r io.Reader, size int64) (*AddResult, error)

	// Get opens the object at loc for reading and returns its size. The
	// returned reader is single pass; Close releases all backend resources
	// and must be called on every path, including early abandonment.
	Get(ctx context.Context, loc *Location) (io.ReadCloser, int64, error)

	// Delete removes the object at loc. The object is unrecoverable after a
	// successful delete.
	Delete(ctx context.Context, loc *Location) error

	// Size returns the byte size of the object at loc without reading its
	// content.
	Size(ctx context.Context, loc *Location) (int64, error)
}

// Address is the store-specific part of a location. The framework never
// inspects it beyond asking for its URI form; each store defines its own
// address grammar and parser.
type Address interface {
	// URI renders the address as a full location URI, scheme included.
	URI() string
}

// AddressParser parses a full location URI into a store-specific address.
// Implementations report grammar violations via ErrMalformedLocation.
type AddressParser func(uri string) (Address, error)

// Location identifies one stored object: the scheme selecting the store plus
// the store-specific address. Locations are immutable once constructed and
// round-trip through their store's parser: parsing URI() yields an equal
// location.
type Location struct {
	Scheme  string
	Address Address
}

// URI renders the location as its canonical string identifier.
func (l *Location) URI() string {
	return l.Address.URI()
}
