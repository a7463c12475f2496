package pnio

import (
	"fmt"

	"github.com/google/uuid"
)

// ControlRequest is a decoded device-originated Control Request (used for
// the inbound AppReady handshake, spec §4.1 READY->RUN transition).
type ControlRequest struct {
	Header  RPCHeader
	Control IODControl
}

// ParseControlRequest decodes an inbound device-originated Control Request
// PDU (PrmEnd acknowledgement or AppReady).
func ParseControlRequest(pdu []byte) (ControlRequest, error) {
	header, err := ParseRPCHeader(pdu)
	if err != nil {
		return ControlRequest{}, err
	}
	if header.Opnum != OpControl {
		return ControlRequest{}, fmt.Errorf("pnio: expected Control opnum, got %d", header.Opnum)
	}
	blocks, err := IterateBlocks(pdu[HeaderLen:])
	if err != nil {
		return ControlRequest{}, err
	}
	for _, blk := range blocks {
		if blk.Type == BlockIODControlReq {
			ctrl, err := parseIODControl(blk.Payload)
			if err != nil {
				return ControlRequest{}, err
			}
			return ControlRequest{Header: header, Control: ctrl}, nil
		}
	}
	return ControlRequest{}, fmt.Errorf("pnio: Control Request carried no IOD Control block")
}

// BuildControlResponse answers a device-originated Control Request. Per
// spec §4.2, the response header's Interface UUID field must carry the
// Controller Interface UUID (DEA00002-...), not the Device UUID — an easy
// mistake since every other outbound PDU in this codec addresses the device.
func BuildControlResponse(seq uint32, activityUUID uuid.UUID, arUUID uuid.UUID, sessionKey uint16, cmd ControlCommand) []byte {
	header := RPCHeader{
		RPCVers:       4,
		PType:         2, // response
		Drep:          [3]byte{DrepLittleEndian, 0, 0},
		ObjectUUID:    DeviceUUID,
		InterfaceUUID: ControllerUUID,
		ActivityUUID:  activityUUID,
		InterfaceVersion: 1,
		SequenceNumber:   seq,
		Opnum:            OpControl,
	}

	status := PNIOStatus{}.Marshal()
	ctrl := IODControl{ARUUID: arUUID, SessionKey: sessionKey, ControlCommand: cmd}.marshalRes()
	ndrLen := uint32(len(ctrl))
	ndr := NDRHeader{ArgsMaximum: ndrLen, ArgsLength: ndrLen, MaxCount: ndrLen, ActualCount: ndrLen}

	body := append(append(append([]byte{}, status...), ndr.Marshal()...), ctrl...)

	header.FragmentLength = uint16(len(body))
	out := header.Marshal()
	out = append(out, body...)
	return out
}

// BuildControlRequest builds a generic IOD Control Request carrying cmd —
// PrmEnd, AppReady, or Release all share this shape, differing only in
// opnum (Release uses its own opcode; everything else is OpControl) and the
// command code itself.
func BuildControlRequest(opnum Opnum, seq uint32, activityUUID uuid.UUID, arUUID uuid.UUID, sessionKey uint16, cmd ControlCommand) []byte {
	header := NewRequestHeader(opnum, seq, activityUUID)
	ctrl := IODControl{ARUUID: arUUID, SessionKey: sessionKey, ControlCommand: cmd}.marshalReq()
	header.FragmentLength = uint16(len(ctrl))
	out := header.Marshal()
	out = append(out, ctrl...)
	return out
}

// BuildReleaseRequest builds a best-effort Release Request (opnum=1). The AR
// manager never fails the AR's CLOSE transition on a missing or malformed
// response to this PDU (spec §4.1 failure semantics).
func BuildReleaseRequest(seq uint32, activityUUID uuid.UUID, arUUID uuid.UUID, sessionKey uint16) []byte {
	return BuildControlRequest(OpRelease, seq, activityUUID, arUUID, sessionKey, ControlCommandRelease)
}

// BuildPrmEndRequest builds the PrmEnd Control Request the controller sends
// once it has finished parameterization (PRMSRV state, spec §4.1).
func BuildPrmEndRequest(seq uint32, activityUUID uuid.UUID, arUUID uuid.UUID, sessionKey uint16) []byte {
	return BuildControlRequest(OpControl, seq, activityUUID, arUUID, sessionKey, ControlCommandPrmEnd)
}

// ParseSimpleStatusResponse decodes a PrmEnd or Release response. Both share
// the Connect Response shape (status + NDR + blocks) but never carry AR/IOCR
// blocks, only a status, so only the PNIOStatus prefix is inspected.
func ParseSimpleStatusResponse(body []byte) (PNIOStatus, error) {
	status, _, err := ParsePNIOStatus(body)
	return status, err
}
