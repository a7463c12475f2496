package model

import (
	"encoding/binary"
	"fmt"
)

// IPv4 is a typed newtype over a 4-byte IPv4 address. The source this spec
// was distilled from stored device IPs as host order in some functions and
// network order in others; every conversion here is explicit so a reviewer
// never has to guess which one an integer means (spec §9 open question).
type IPv4 [4]byte

// IPv4FromBytes copies 4 bytes (network order, i.e. as seen on the wire).
func IPv4FromBytes(b [4]byte) IPv4 { return IPv4(b) }

// IPv4FromUint32BE interprets v as a big-endian (network order) integer.
func IPv4FromUint32BE(v uint32) IPv4 {
	var ip IPv4
	binary.BigEndian.PutUint32(ip[:], v)
	return ip
}

// Uint32BE returns the address as a big-endian (network order) integer.
func (ip IPv4) Uint32BE() uint32 {
	return binary.BigEndian.Uint32(ip[:])
}

// Uint32Host returns the address as a host-order integer, matching how the
// source's `(device_ip & 0xFFFFFF00) | 1` derived-controller-IP heuristic
// interpreted its bytes.
func (ip IPv4) Uint32Host() uint32 {
	return binary.LittleEndian.Uint32(ip[:])
}

// DerivedControllerIP implements the `.1` on the device's /24 heuristic from
// spec §6, operating on the big-endian representation so the result is
// independent of host byte order.
func (ip IPv4) DerivedControllerIP() IPv4 {
	v := ip.Uint32BE() & 0xFFFFFF00
	v |= 1
	return IPv4FromUint32BE(v)
}

func (ip IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

func (ip IPv4) IsZero() bool {
	return ip == IPv4{}
}
