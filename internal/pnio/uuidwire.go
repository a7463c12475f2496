package pnio

import (
	"github.com/google/uuid"
)

// putUUIDBigEndian writes u in the wire layout real device firmware expects
// inside the RPC header: data1 (4 bytes), data2 (2 bytes), data3 (2 bytes)
// all big-endian, followed by data4 (8 bytes) verbatim. This deliberately
// ignores drep — an implementation that honors drep=LE for these fields will
// be silently ignored by real devices (spec §4.2).
func putUUIDBigEndian(buf []byte, u uuid.UUID) {
	raw := u // uuid.UUID is already [16]byte in RFC 4122 big-endian field order
	copy(buf, raw[:])
}

func getUUIDBigEndian(buf []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], buf[:16])
	return u
}

// putUUIDPNIO writes a UUID inside a PNIO block, which is always big-endian
// regardless of RPC drep — byte-identical to putUUIDBigEndian, but kept as a
// distinct name so a reader of a block encoder never has to cross-reference
// the RPC header rule to know this call site is correct.
func putUUIDPNIO(buf []byte, u uuid.UUID) { putUUIDBigEndian(buf, u) }
func getUUIDPNIO(buf []byte) uuid.UUID    { return getUUIDBigEndian(buf) }
