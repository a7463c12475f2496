// Package armanager owns the set of PROFINET Application Relationships and
// drives each one through the connect/PrmEnd/AppReady/Release lifecycle
// (spec §4.1).
package armanager

import (
	"context"

	"github.com/watertreat/scada-core/internal/model"
)

// RPCTransport is the UDP/RPC collaborator the manager sends Connect,
// Control, and Release requests over and receives device responses and
// device-originated Control Requests from. A real implementation binds UDP
// port 0x8894; tests supply an in-memory fake.
type RPCTransport interface {
	Send(dest model.IPv4, payload []byte) error
	// Recv blocks until a datagram arrives or ctx is done.
	Recv(ctx context.Context) (payload []byte, from model.IPv4, err error)
	Close() error
}

// DiscoveryHandle is the abstract discovery collaborator the resilient
// connect policy uses to re-identify a device by station name when a full
// round of connect strategies has failed (spec §4.1, §1 out-of-scope DCP).
type DiscoveryHandle interface {
	// Identify asks the discovery service to (re-)resolve stationName and
	// returns its current IP if found within the implementation's own
	// timeout.
	Identify(ctx context.Context, stationName string) (ip model.IPv4, found bool, err error)
}
