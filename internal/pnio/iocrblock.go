package pnio

import (
	"encoding/binary"
	"fmt"
)

// IODataObjectRef and IOCSRef are the per-submodule frame-offset entries
// inside an IOCR block (spec §4.1 "expected-module list construction").
type IODataObjectRef struct {
	Slot       uint16
	Subslot    uint16
	FrameOffset uint16
}

type IOCSRef struct {
	Slot        uint16
	Subslot     uint16
	FrameOffset uint16
}

// IOCRBlockReq is one IOCR's parameters inside a Connect Request.
type IOCRBlockReq struct {
	IOCRType       IOCRType
	IOCRReference  uint16
	FrameID        uint16 // controller's proposed id; device may overwrite it
	SendClockFactor uint16
	ReductionRatio uint16
	Phase          uint16
	WatchdogFactor uint16
	DataHoldFactor uint16
	DataLength     uint16
	IODataObjects  []IODataObjectRef
	IOCSs          []IOCSRef
}

func (b IOCRBlockReq) marshal() []byte {
	// fixed header: type(2) ref(2) frameid(2) sendclock(2) reduction(2) phase(2)
	// wd(2) dh(2) datalen(2) numobjs(2) [objs...] numiocs(2) [iocs...]
	payload := make([]byte, 0, 20+8*len(b.IODataObjects)+6*len(b.IOCSs))
	grow := func(n int) []byte {
		off := len(payload)
		payload = append(payload, make([]byte, n)...)
		return payload[off : off+n]
	}
	binary.BigEndian.PutUint16(grow(2), uint16(b.IOCRType))
	binary.BigEndian.PutUint16(grow(2), b.IOCRReference)
	binary.BigEndian.PutUint16(grow(2), b.FrameID)
	binary.BigEndian.PutUint16(grow(2), b.SendClockFactor)
	binary.BigEndian.PutUint16(grow(2), b.ReductionRatio)
	binary.BigEndian.PutUint16(grow(2), b.Phase)
	binary.BigEndian.PutUint16(grow(2), b.WatchdogFactor)
	binary.BigEndian.PutUint16(grow(2), b.DataHoldFactor)
	binary.BigEndian.PutUint16(grow(2), b.DataLength)
	binary.BigEndian.PutUint16(grow(2), uint16(len(b.IODataObjects)))
	for _, o := range b.IODataObjects {
		binary.BigEndian.PutUint16(grow(2), o.Slot)
		binary.BigEndian.PutUint16(grow(2), o.Subslot)
		binary.BigEndian.PutUint16(grow(2), o.FrameOffset)
	}
	binary.BigEndian.PutUint16(grow(2), uint16(len(b.IOCSs)))
	for _, c := range b.IOCSs {
		binary.BigEndian.PutUint16(grow(2), c.Slot)
		binary.BigEndian.PutUint16(grow(2), c.Subslot)
		binary.BigEndian.PutUint16(grow(2), c.FrameOffset)
	}
	return writeBlock(BlockIOCRBlockReq, payload)
}

// IOCRBlockRes is the device's per-IOCR acknowledgement, most importantly
// carrying the device-assigned frame ID the controller must adopt.
type IOCRBlockRes struct {
	IOCRType      IOCRType
	IOCRReference uint16
	FrameID       uint16
}

func parseIOCRBlockRes(p []byte) (IOCRBlockRes, error) {
	if len(p) < 6 {
		return IOCRBlockRes{}, fmt.Errorf("pnio: IOCR block res too short (%d bytes)", len(p))
	}
	return IOCRBlockRes{
		IOCRType:      IOCRType(binary.BigEndian.Uint16(p[0:2])),
		IOCRReference: binary.BigEndian.Uint16(p[2:4]),
		FrameID:       binary.BigEndian.Uint16(p[4:6]),
	}, nil
}

func parseIOCRBlockReq(p []byte) (IOCRBlockReq, error) {
	if len(p) < 18 {
		return IOCRBlockReq{}, fmt.Errorf("pnio: IOCR block req too short (%d bytes)", len(p))
	}
	var b IOCRBlockReq
	o := 0
	b.IOCRType = IOCRType(binary.BigEndian.Uint16(p[o:]))
	o += 2
	b.IOCRReference = binary.BigEndian.Uint16(p[o:])
	o += 2
	b.FrameID = binary.BigEndian.Uint16(p[o:])
	o += 2
	b.SendClockFactor = binary.BigEndian.Uint16(p[o:])
	o += 2
	b.ReductionRatio = binary.BigEndian.Uint16(p[o:])
	o += 2
	b.Phase = binary.BigEndian.Uint16(p[o:])
	o += 2
	b.WatchdogFactor = binary.BigEndian.Uint16(p[o:])
	o += 2
	b.DataHoldFactor = binary.BigEndian.Uint16(p[o:])
	o += 2
	b.DataLength = binary.BigEndian.Uint16(p[o:])
	o += 2
	numObjs := int(binary.BigEndian.Uint16(p[o:]))
	o += 2
	for i := 0; i < numObjs; i++ {
		if o+6 > len(p) {
			return IOCRBlockReq{}, fmt.Errorf("pnio: IOCR block req truncated IO data object list")
		}
		b.IODataObjects = append(b.IODataObjects, IODataObjectRef{
			Slot:        binary.BigEndian.Uint16(p[o:]),
			Subslot:     binary.BigEndian.Uint16(p[o+2:]),
			FrameOffset: binary.BigEndian.Uint16(p[o+4:]),
		})
		o += 6
	}
	if o+2 > len(p) {
		return IOCRBlockReq{}, fmt.Errorf("pnio: IOCR block req truncated before IOCS count")
	}
	numIOCS := int(binary.BigEndian.Uint16(p[o:]))
	o += 2
	for i := 0; i < numIOCS; i++ {
		if o+6 > len(p) {
			return IOCRBlockReq{}, fmt.Errorf("pnio: IOCR block req truncated IOCS list")
		}
		b.IOCSs = append(b.IOCSs, IOCSRef{
			Slot:        binary.BigEndian.Uint16(p[o:]),
			Subslot:     binary.BigEndian.Uint16(p[o+2:]),
			FrameOffset: binary.BigEndian.Uint16(p[o+4:]),
		})
		o += 6
	}
	return b, nil
}
