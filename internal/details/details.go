// Package details builds and encodes the leadership details stored on the
// leadership key.
package details

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/leadership/types"
)

// ErrInstanceNameRequired is returned when no instance name is configured.
var ErrInstanceNameRequired = errors.New("instance name is required")

// Identity describes the instance competing for leadership.
type Identity struct {
	InstanceName string
	Namespace    string
	ClusterName  string
}

// Provider stamps the configured identity with acquire and release times.
type Provider struct {
	identity Identity
	now      func() time.Time
}

// Compile-time assertion that Provider implements DetailsProvider.
var _ types.DetailsProvider = (*Provider)(nil)

// NewProvider creates a details provider for identity.
func NewProvider(identity Identity) *Provider {
	return &Provider{identity: identity, now: time.Now}
}

// AcquireDetails returns the identity stamped with the current time as acquire time.
func (p *Provider) AcquireDetails() (types.Details, error) {
	d, err := p.base()
	if err != nil {
		return types.Details{}, err
	}
	now := p.now().UTC()
	d.AcquireTime = &now

	return d, nil
}

// ReleaseDetails returns the identity stamped with the current time as release time.
func (p *Provider) ReleaseDetails() (types.Details, error) {
	d, err := p.base()
	if err != nil {
		return types.Details{}, err
	}
	now := p.now().UTC()
	d.ReleaseTime = &now

	return d, nil
}

func (p *Provider) base() (types.Details, error) {
	if p.identity.InstanceName == "" {
		return types.Details{}, ErrInstanceNameRequired
	}

	return types.Details{
		InstanceName: p.identity.InstanceName,
		Namespace:    p.identity.Namespace,
		ClusterName:  p.identity.ClusterName,
	}, nil
}

// JSONCodec encodes details as JSON objects.
type JSONCodec struct{}

// Compile-time assertion that JSONCodec implements Codec.
var _ types.Codec = JSONCodec{}

// Encode marshals d to JSON.
func (JSONCodec) Encode(d types.Details) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode leadership details: %w", err)
	}

	return data, nil
}

// Decode unmarshals a JSON payload into details.
func (JSONCodec) Decode(data []byte) (types.Details, error) {
	var d types.Details
	if err := json.Unmarshal(data, &d); err != nil {
		return types.Details{}, fmt.Errorf("decode leadership details: %w", err)
	}

	return d, nil
}
