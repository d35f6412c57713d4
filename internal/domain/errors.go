package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrKeyInFlight        = errors.New("opportunity key already in flight")
	ErrQueueFull          = errors.New("opportunity queue full")
	ErrExpired            = errors.New("opportunity validity window elapsed")
	ErrUnprofitable       = errors.New("net profit not positive")
	ErrSnapshotMismatch   = errors.New("simulation snapshot does not match opportunity snapshot")
	ErrSnapshotSuperseded = errors.New("snapshot superseded during simulation")
	ErrSimCapacity        = errors.New("simulation pool saturated")
	ErrFeedDown           = errors.New("chain data feed disconnected")
)
