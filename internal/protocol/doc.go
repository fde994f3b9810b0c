// Package protocol owns the coordinator/agent/worker command contract.
//
// Ownership boundary:
// - address: hierarchical targets and group wildcards
// - operation: command kinds and payloads
// - response: per-recipient outcome aggregation
// - codec: framed TLV wire encoding
// - transport error taxonomy (this package)
package protocol
