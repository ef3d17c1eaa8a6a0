// Package topology maps a validated frame header onto output pipelines.
//
// Ownership boundary:
// - timer / transfer stream / converter channel selection per mode
// - destination register and transfer width lookup
//
// Resolve is pure: it performs no I/O and touches no backend state.
package topology
