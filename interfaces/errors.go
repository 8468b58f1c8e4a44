package interfaces

import "errors"

var (
	// ErrMalformedLocation is returned when a location URI does not parse under
	// its scheme's grammar. A syntactically valid URI with an unregistered
	// scheme is ErrUnsupportedBackend instead.
	ErrMalformedLocation = errors.New("malformed location URI")

	// ErrUnsupportedBackend is returned when no store is registered for the
	// scheme of a location URI.
	ErrUnsupportedBackend = errors.New("no store registered for scheme")

	// ErrInvalidConfiguration is returned by Configure when required options
	// are missing or malformed.
	ErrInvalidConfiguration = errors.New("invalid store configuration")

	// ErrNotFound is returned when a location does not resolve to an existing
	// object in the backend.
	ErrNotFound = errors.New("image not found")

	// ErrDuplicate is returned by Add when an object already exists at the
	// resolved address and the backend disallows overwrite.
	ErrDuplicate = errors.New("image already exists")

	// ErrAddDisabled is returned by Add when the store's capabilities report
	// writes as unavailable.
	ErrAddDisabled = errors.New("store does not permit add")

	// ErrDeleteDisabled is returned by Delete when the store's capabilities
	// report deletes as unavailable.
	ErrDeleteDisabled = errors.New("store does not permit delete")

	// ErrRemoteUnavailable is returned when the backend's remote resource
	// cannot currently be reached. Unlike the other failure modes it is
	// transient and retry-eligible.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrSizeMismatch is returned when the number of bytes streamed disagrees
	// with the declared size of the transfer.
	ErrSizeMismatch = errors.New("transferred size does not match declared size")
)
