// Package interfaces defines the core contracts and types of the image store
// framework, separating interface definitions from implementations.
//
// # Store Contract
//
// Store: The uniform backend contract every driver implements - configure,
// add, get, delete, size and a live capability snapshot. Concrete drivers
// (filesystem, http, vmware datastore, s3, ipfs) live in the store package;
// the framework only ever depends on this interface.
//
// # Locations
//
// Location: The structured identity of one stored object - a URI scheme
// selecting the driver plus a driver-specific Address. Addresses are opaque
// to the framework and round-trip through their driver's AddressParser.
//
// # Configuration
//
// Options: A validated mapping of backend-specific configuration keys. The
// recognized option set is driver-specific; accessors coerce values with
// spf13/cast.
//
// # Error Taxonomy
//
// Every failure mode is a distinguishable sentinel error (ErrNotFound,
// ErrDuplicate, ErrRemoteUnavailable, ...) matched with errors.Is, so callers
// can decide retry eligibility: ErrRemoteUnavailable is transient and
// retry-eligible, the rest are not.
package interfaces
