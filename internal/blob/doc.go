// Package blob implements a content-addressed, chunked byte-stream tree: a
// possibly multi-level tree of leaf and branch nodes, stored as ordinary
// value.LeafBlob/value.BranchBlob objects so the object store never needs
// to know blobs are special.
//
// Chunking parameters: a 1 MiB fixed leaf size and a 1024-way branch
// fan-out. These are part of the on-disk format (changing either changes
// every blob id in existence), so they are constants, not configuration.
package blob

const (
	// LeafSize is the maximum number of bytes held by one LeafBlob.
	LeafSize = 1 << 20 // 1 MiB

	// BranchFanout is the maximum number of children held by one
	// BranchBlob before another level is added above it.
	BranchFanout = 1024
)
