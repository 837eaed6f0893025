// Package cpu reports the processor capabilities that gate optional
// fast paths. Detection is architectural: amd64 guarantees SSE2 and arm64
// guarantees NEON, so vector-friendly scan loops are safe to select at
// startup without probing CPUID.
package cpu

import "runtime"

// HasWideScan reports whether the platform guarantees 128-bit vector
// instructions, enabling the unrolled batch geometry scan.
var HasWideScan = runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"

// Arch is the runtime architecture, exposed for diagnostics.
func Arch() string { return runtime.GOARCH }
