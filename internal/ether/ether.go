// Package ether is the raw-Ethernet transport the cyclic exchange engine
// sends and receives PROFINET real-time frames (EtherType 0x8892) over. It
// generalizes the teacher's TUN/TAP device (core_engine/network/tap_device.go)
// from a host virtual interface to an AF_PACKET socket bound to a real NIC
// and filtered to one EtherType, since cyclic frames are never meant to
// reach the host's own IP stack.
package ether

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// EtherTypeProfinetRT is the EtherType PROFINET real-time cyclic frames use
// (spec §4.3, §9 glossary).
const EtherTypeProfinetRT = 0x8892

// minFrameLen is the Ethernet minimum frame size pre-FCS; the kernel/NIC pads
// shorter frames itself on most platforms, but the cyclic engine pads
// explicitly per spec §4.3 rather than rely on that.
const minFrameLen = 60

// RawEthernet is the collaborator interface the cyclic exchange engine
// consumes; a Device backs it on Linux, and tests supply an in-memory fake.
type RawEthernet interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Device is an AF_PACKET raw socket bound to one interface, receiving only
// EtherTypeProfinetRT frames.
type Device struct {
	fd     int
	ifName string
}

// Open binds a raw socket to ifIndex, filtered to EtherTypeProfinetRT at the
// socket level (SOCK_RAW with that protocol already drops everything else in
// the kernel, avoiding a userspace filter per packet).
func Open(ifName string, ifIndex int) (*Device, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(EtherTypeProfinetRT)))
	if err != nil {
		return nil, fmt.Errorf("ether: socket: %w", err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(EtherTypeProfinetRT),
		Ifindex:  ifIndex,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ether: bind to %s: %w", ifName, err)
	}

	tv := unix.NsecToTimeval((100 * time.Millisecond).Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ether: set recv timeout: %w", err)
	}

	return &Device{fd: fd, ifName: ifName}, nil
}

func htons(v uint16) uint16 { return (v<<8)&0xff00 | (v>>8)&0x00ff }

// ReadFrame reads one Ethernet frame. A timeout (no frame within the socket's
// receive deadline) returns (nil, nil), matching how the teacher's TAP
// ReadPacket treats EAGAIN as "nothing available" rather than an error.
func (d *Device) ReadFrame() ([]byte, error) {
	buf := make([]byte, 2048)
	n, _, err := unix.Recvfrom(d.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("ether: read from %s: %w", d.ifName, err)
	}
	return buf[:n], nil
}

// WriteFrame sends one Ethernet frame, zero-padding to the Ethernet minimum
// frame size pre-FCS (spec §4.3).
func (d *Device) WriteFrame(frame []byte) error {
	if len(frame) < minFrameLen {
		padded := make([]byte, minFrameLen)
		copy(padded, frame)
		frame = padded
	}
	// The socket is already bound to one interface (see Open), so a plain
	// write suffices; the kernel routes it out that interface.
	if _, err := unix.Write(d.fd, frame); err != nil {
		return fmt.Errorf("ether: write to %s: %w", d.ifName, err)
	}
	return nil
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}
