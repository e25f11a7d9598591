package model

import "time"

// SafetyStatus is the process-wide operating mode driven by the drift
// monitor. It is initialized to Normal at startup and transitions only
// inside the monitor.
type SafetyStatus string

const (
	SafetyStatusNormal SafetyStatus = "NORMAL"
	SafetyStatusSafety SafetyStatus = "SAFETY_MODE"
)

func (s SafetyStatus) String() string { return string(s) }

// DriftSample is one heartbeat observation of local versus remote height.
// Samples are diagnostic and do not need to survive a restart.
type DriftSample struct {
	LocalHardHeight int64
	RemoteHeight    int64
	Drift           int64
	SampledAt       time.Time
}
