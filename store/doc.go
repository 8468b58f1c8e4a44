// Package store implements the pluggable image storage framework: a registry
// that routes operations to backend drivers by location URI scheme, the
// location codec, the streaming-transfer discipline, and the built-in
// drivers.
//
// # Registry
//
// A Registry maps URI schemes to registered drivers. Backend instances are
// constructed lazily on first use and memoized for the process lifetime;
// concurrent first resolutions construct exactly one instance per scheme.
// All operations are addressed either by scheme (Add) or by a full location
// URI (Get, Delete, Size).
//
// # Location URIs
//
// Every stored image is identified by a URI whose scheme selects the driver:
//
//	file:///var/lib/imagestore/8674f1fa-...
//	http://images.example.com/ubuntu-24.04.img
//	vsphere://vcenter.example.com/folder/image_store/8674f1fa-...?dcPath=dc1&dsName=ds1
//	s3://s3.example.com/images/8674f1fa-...
//	ipfs://QmTzQ1dT...
//
// Each driver owns its address grammar; parsing is pure string work and
// locations round-trip through their parser.
//
// # Streaming and Integrity
//
// All data movement goes through a Transfer, which accumulates the byte
// count and MD5 checksum chunk by chunk and verifies the declared size once,
// at end of stream. Nothing is ever buffered beyond a single chunk, so image
// size is not bounded by memory. An aborted transfer is a failed transfer:
// drivers remove whatever partial object they wrote.
//
// # Built-in Drivers
//
//   - file: flat files under a configured data directory
//   - http/https: read-only access to images published on existing servers
//   - vmware: vSphere datastore files via the host's HTTP file access
//   - s3: S3-compatible object stores, credentials from options or Vault
//   - ipfs: pinned content on an IPFS daemon
package store
