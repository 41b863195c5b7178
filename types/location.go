package types

import (
	"fmt"
	"time"
)

// PermissionState is the authorization level governing whether location data
// may be requested for a device. It is owned by the underlying provider; the
// adapter only observes transitions into it.
type PermissionState string

const (
	PermissionNotDetermined       PermissionState = "NOT_DETERMINED"
	PermissionRestricted          PermissionState = "RESTRICTED"
	PermissionDenied              PermissionState = "DENIED"
	PermissionAuthorizedWhenInUse PermissionState = "AUTHORIZED_WHEN_IN_USE"
	PermissionAuthorizedAlways    PermissionState = "AUTHORIZED_ALWAYS"
)

// IsAuthorized reports whether position updates may flow in this state.
func (p PermissionState) IsAuthorized() bool {
	return p == PermissionAuthorizedWhenInUse || p == PermissionAuthorizedAlways
}

// IsDenial reports whether the state is a terminal denial: no permission
// prompt will ever succeed without user intervention in system settings.
func (p PermissionState) IsDenial() bool {
	return p == PermissionDenied || p == PermissionRestricted
}

// PositionSample is one reported geographic location fix.
type PositionSample struct {
	DeviceID  string    `json:"deviceId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchPolicy selects which samples of a provider batch are forwarded
// downstream.
type BatchPolicy string

const (
	// BatchPolicyFirst forwards only the first sample of each batch,
	// treating it as the most recent fix.
	BatchPolicyFirst BatchPolicy = "first"
	// BatchPolicyLast forwards only the last sample of each batch.
	BatchPolicyLast BatchPolicy = "last"
	// BatchPolicyAll forwards every sample of the batch in order.
	BatchPolicyAll BatchPolicy = "all"
)

// ParseBatchPolicy converts a config string into a BatchPolicy.
func ParseBatchPolicy(s string) (BatchPolicy, error) {
	switch BatchPolicy(s) {
	case BatchPolicyFirst, BatchPolicyLast, BatchPolicyAll:
		return BatchPolicy(s), nil
	case "":
		return BatchPolicyFirst, nil
	default:
		return "", fmt.Errorf("unknown batch policy: %q", s)
	}
}
