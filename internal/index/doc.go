// Package index holds the types shared by every index family: the typed
// Value union used as index keys, its order-preserving byte encoding, the
// engine-wide error type, and the batch Builder contract the outer flush
// machinery drives.
package index
