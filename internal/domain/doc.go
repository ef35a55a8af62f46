// Package domain defines the wire types of HALO bundles: events, receipts,
// signature blocks, manifests and bundle metadata. JSON field names are part
// of the bundle format and must not change.
package domain
