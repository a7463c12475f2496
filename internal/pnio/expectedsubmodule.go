package pnio

import "encoding/binary"

// ExpectedModuleEntry is one (slot, module, submodule) the controller
// declares it expects to find, per spec §4.1's expected-module list
// construction. Zero-length slots (e.g. the DAP) are included here but
// excluded from the IOCR's IODataObject/IOCS lists.
type ExpectedModuleEntry struct {
	Slot           uint16
	Subslot        uint16
	ModuleIdent    uint32
	SubmoduleIdent uint32
	DataLength     uint16
	Direction      uint8 // 0=input, 1=output, per this codec's own tag
}

// ExpectedSubmoduleBlockReq lists every slot the AR expects, in
// slot-declaration order.
type ExpectedSubmoduleBlockReq struct {
	Entries []ExpectedModuleEntry
}

func (b ExpectedSubmoduleBlockReq) marshal() []byte {
	payload := make([]byte, 2+15*len(b.Entries))
	binary.BigEndian.PutUint16(payload[0:2], uint16(len(b.Entries)))
	o := 2
	for _, e := range b.Entries {
		binary.BigEndian.PutUint16(payload[o:], e.Slot)
		binary.BigEndian.PutUint16(payload[o+2:], e.Subslot)
		binary.BigEndian.PutUint32(payload[o+4:], e.ModuleIdent)
		binary.BigEndian.PutUint32(payload[o+8:], e.SubmoduleIdent)
		binary.BigEndian.PutUint16(payload[o+12:], e.DataLength)
		payload[o+14] = e.Direction
		o += 15
	}
	return writeBlock(BlockExpectedSubmoduleBlock, payload)
}

func parseExpectedSubmoduleBlockReq(p []byte) (ExpectedSubmoduleBlockReq, error) {
	if len(p) < 2 {
		return ExpectedSubmoduleBlockReq{}, errShort("expected submodule block")
	}
	n := int(binary.BigEndian.Uint16(p[0:2]))
	o := 2
	var b ExpectedSubmoduleBlockReq
	for i := 0; i < n; i++ {
		if o+15 > len(p) {
			return ExpectedSubmoduleBlockReq{}, errShort("expected submodule entry")
		}
		b.Entries = append(b.Entries, ExpectedModuleEntry{
			Slot:           binary.BigEndian.Uint16(p[o:]),
			Subslot:        binary.BigEndian.Uint16(p[o+2:]),
			ModuleIdent:    binary.BigEndian.Uint32(p[o+4:]),
			SubmoduleIdent: binary.BigEndian.Uint32(p[o+8:]),
			DataLength:     binary.BigEndian.Uint16(p[o+12:]),
			Direction:      p[o+14],
		})
		o += 15
	}
	return b, nil
}
