package types

import "time"

// Details is the leadership metadata stored as the value of the leadership key.
//
// Exactly one of AcquireTime and ReleaseTime is set by the write that
// produced it.
type Details struct {
	InstanceName string     `json:"instanceName"`
	Namespace    string     `json:"namespace"`
	ClusterName  string     `json:"clusterName"`
	AcquireTime  *time.Time `json:"acquireTime,omitempty"`
	ReleaseTime  *time.Time `json:"releaseTime,omitempty"`
}

// IsZero reports whether d carries no information.
func (d Details) IsZero() bool {
	return d.InstanceName == "" && d.Namespace == "" && d.ClusterName == "" &&
		d.AcquireTime == nil && d.ReleaseTime == nil
}

// DetailsProvider builds the details written on acquire and release.
type DetailsProvider interface {
	// AcquireDetails returns details stamped with an acquisition time.
	AcquireDetails() (Details, error)

	// ReleaseDetails returns details stamped with a release time.
	ReleaseDetails() (Details, error)
}

// Codec converts details to and from the raw payload of the leadership key.
type Codec interface {
	Encode(d Details) ([]byte, error)
	Decode(data []byte) (Details, error)
}
