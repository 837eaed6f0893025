// Package vamana implements the DiskANN-style vector index: an 8-bit
// scalar-quantized vector store, an append-only disk graph of neighbor
// lists, and a Vamana proximity graph searched by greedy beam descent from
// a medoid.
package vamana

// VamanaConfig sets the graph construction and search parameters.
type VamanaConfig struct {
	// MaxDegree is R: the maximum out-degree per node.
	MaxDegree int
	// SearchListSize is L: the beam width during construction and search.
	SearchListSize int
	// Alpha is the robust-prune diversity factor, typically 1.2.
	Alpha float32
	// BeamWidth bounds speculative neighbor expansion per hop.
	BeamWidth int
}

// DefaultVamanaConfig is the general-purpose preset.
func DefaultVamanaConfig() VamanaConfig {
	return VamanaConfig{
		MaxDegree:      64,
		SearchListSize: 180,
		Alpha:          1.2,
		BeamWidth:      48,
	}
}

// NewVamanaConfig builds a config with a derived beam width.
func NewVamanaConfig(maxDegree, searchListSize int, alpha float32) VamanaConfig {
	return VamanaConfig{
		MaxDegree:      maxDegree,
		SearchListSize: searchListSize,
		Alpha:          alpha,
		BeamWidth:      maxDegree / 2,
	}
}

// EmbeddedVamanaConfig trades recall for memory on small machines; the
// degree scales with vector dimensionality.
func EmbeddedVamanaConfig(dimension int) VamanaConfig {
	maxDegree := 32
	switch {
	case dimension <= 128:
		maxDegree = 32
	case dimension <= 384:
		maxDegree = 48
	default:
		maxDegree = 64
	}
	return VamanaConfig{
		MaxDegree:      maxDegree,
		SearchListSize: maxDegree * 2,
		Alpha:          1.2,
		BeamWidth:      maxDegree / 2,
	}
}

// PerformanceVamanaConfig favors recall and latency over memory.
func PerformanceVamanaConfig(dimension int) VamanaConfig {
	maxDegree := 64
	switch {
	case dimension <= 128:
		maxDegree = 64
	case dimension <= 384:
		maxDegree = 96
	default:
		maxDegree = 128
	}
	return VamanaConfig{
		MaxDegree:      maxDegree,
		SearchListSize: maxDegree * 3,
		Alpha:          1.2,
		BeamWidth:      maxDegree,
	}
}

// slackLimit is the soft degree bound: a node's list may grow to
// 1.3*R (rounded down) before it is re-pruned, trading a little memory for far
// fewer prune passes.
func (c VamanaConfig) slackLimit() int {
	return c.MaxDegree * 13 / 10
}
