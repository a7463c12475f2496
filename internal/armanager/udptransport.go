package armanager

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/pnio"
)

// recvPollInterval bounds how long one ReadFromUDP call blocks before Recv
// rechecks ctx, matching the 100ms poll ether.Device uses for its own
// blocking read (internal/ether/ether.go Open's SO_RCVTIMEO).
const recvPollInterval = 100 * time.Millisecond

func deadlineFromNow() time.Time { return time.Now().Add(recvPollInterval) }

// UDPTransport is the real RPCTransport: a UDP socket bound to
// pnio.RPCPort, the same port the DCE/RPC-over-UDP connection-less service
// uses on the wire. It generalizes ether.Device's one-socket-one-deadline
// shape (internal/ether/ether.go) from a raw AF_PACKET socket to a UDP
// datagram socket, since RPC traffic rides the host IP stack rather than
// bypassing it.
type UDPTransport struct {
	conn *net.UDPConn
}

// NewUDPTransport binds a UDP socket on bindAddr:pnio.RPCPort.
func NewUDPTransport(bindAddr string) (*UDPTransport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindAddr), Port: pnio.RPCPort}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("armanager: bind UDP %s:%d: %w", bindAddr, pnio.RPCPort, err)
	}
	return &UDPTransport{conn: conn}, nil
}

// Send writes payload to dest:pnio.RPCPort.
func (t *UDPTransport) Send(dest model.IPv4, payload []byte) error {
	addr := &net.UDPAddr{IP: net.IPv4(dest[0], dest[1], dest[2], dest[3]), Port: pnio.RPCPort}
	_, err := t.conn.WriteToUDP(payload, addr)
	if err != nil {
		return fmt.Errorf("armanager: send to %s: %w", dest.String(), err)
	}
	return nil
}

// Recv blocks until a datagram arrives or ctx is done. It polls the socket
// deadline in short slices so a canceled ctx is honored promptly rather than
// blocking on a long fixed read timeout.
func (t *UDPTransport) Recv(ctx context.Context) ([]byte, model.IPv4, error) {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return nil, model.IPv4{}, err
		}
		if err := t.conn.SetReadDeadline(deadlineFromNow()); err != nil {
			return nil, model.IPv4{}, fmt.Errorf("armanager: set read deadline: %w", err)
		}
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, model.IPv4{}, fmt.Errorf("armanager: recv: %w", err)
		}
		ip4 := from.IP.To4()
		if ip4 == nil {
			continue
		}
		return buf[:n], model.IPv4FromBytes([4]byte(ip4)), nil
	}
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
