package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and gateways return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store or registry
// - ErrConflict: uniqueness constraint rejected the write
// - ErrExpired: record or cached link past its expiry
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: external dependency temporarily unavailable
// - ErrCircuitOpen: call short-circuited without touching the network
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrCircuitOpen  = errors.New("circuit open")
)
