package pnio

import (
	"fmt"

	"github.com/google/uuid"
)

// ConnectRequestParams is everything BuildConnectRequest needs to assemble a
// full Connect Request PDU, and everything ParseConnectRequest recovers from
// one — the codec's round-trip testable property (spec §8) is that building
// from params, then parsing the bytes back, yields an equal params value in
// every field that matters (IOCR set, expected-module list, station name).
type ConnectRequestParams struct {
	ARUUID          uuid.UUID
	SessionKey      uint16
	StationName     string
	CMInitiatorMAC  [6]byte
	IOCRs           []IOCRBlockReq
	ExpectedModules []ExpectedModuleEntry
	AlarmCR         AlarmCRBlockReq
}

// BuildConnectRequest assembles the 80-byte RPC header (no NDR prefix, per
// spec §4.2 request framing) followed by the AR/IOCR*/AlarmCR/ExpectedSubmodule
// blocks, in that order.
func BuildConnectRequest(seq uint32, activityUUID uuid.UUID, p ConnectRequestParams) []byte {
	header := NewRequestHeader(OpConnect, seq, activityUUID)

	arBlock := ARBlockReq{
		ARType:         0x0001,
		ARUUID:         p.ARUUID,
		SessionKey:     p.SessionKey,
		CMInitiatorMAC: p.CMInitiatorMAC,
		CMInitiatorObjectID: ControllerUUID,
		ARProperties:   0,
		TimeoutFactor:  1,
		UDPRTPort:      RPCPort,
		StationName:    p.StationName,
	}.marshal()

	var body []byte
	body = append(body, arBlock...)
	for _, iocr := range p.IOCRs {
		body = append(body, iocr.marshal()...)
	}
	body = append(body, p.AlarmCR.marshal()...)
	body = append(body, ExpectedSubmoduleBlockReq{Entries: p.ExpectedModules}.marshal()...)

	header.FragmentLength = uint16(len(body))
	out := header.Marshal()
	out = append(out, body...)
	return out
}

// ParseConnectRequest recovers ConnectRequestParams from a PDU built by
// BuildConnectRequest (used by tests and by a simulated device's decoder).
func ParseConnectRequest(pdu []byte) (RPCHeader, ConnectRequestParams, error) {
	header, err := ParseRPCHeader(pdu)
	if err != nil {
		return RPCHeader{}, ConnectRequestParams{}, err
	}
	blocks, err := IterateBlocks(pdu[HeaderLen:])
	if err != nil {
		return RPCHeader{}, ConnectRequestParams{}, err
	}
	var params ConnectRequestParams
	for _, blk := range blocks {
		switch blk.Type {
		case BlockARBlockReq:
			ar, err := parseARBlockReq(blk.Payload)
			if err != nil {
				return RPCHeader{}, ConnectRequestParams{}, err
			}
			params.ARUUID = ar.ARUUID
			params.SessionKey = ar.SessionKey
			params.StationName = ar.StationName
			params.CMInitiatorMAC = ar.CMInitiatorMAC
		case BlockIOCRBlockReq:
			iocr, err := parseIOCRBlockReq(blk.Payload)
			if err != nil {
				return RPCHeader{}, ConnectRequestParams{}, err
			}
			params.IOCRs = append(params.IOCRs, iocr)
		case BlockAlarmCRBlockReq:
			acr, err := parseAlarmCRBlockReq(blk.Payload)
			if err != nil {
				return RPCHeader{}, ConnectRequestParams{}, err
			}
			params.AlarmCR = acr
		case BlockExpectedSubmoduleBlock:
			esb, err := parseExpectedSubmoduleBlockReq(blk.Payload)
			if err != nil {
				return RPCHeader{}, ConnectRequestParams{}, err
			}
			params.ExpectedModules = esb.Entries
		default:
			return RPCHeader{}, ConnectRequestParams{}, fmt.Errorf("pnio: unexpected block type 0x%04x in Connect Request", blk.Type)
		}
	}
	return header, params, nil
}

func parseARBlockReq(p []byte) (ARBlockReq, error) {
	const minLen = 2 + 16 + 2 + 6 + 16 + 4 + 2 + 2
	if len(p) < minLen {
		return ARBlockReq{}, errShort("AR block req")
	}
	var b ARBlockReq
	o := 0
	b.ARType = beUint16(p[o:])
	o += 2
	b.ARUUID = getUUIDPNIO(p[o : o+16])
	o += 16
	b.SessionKey = beUint16(p[o:])
	o += 2
	copy(b.CMInitiatorMAC[:], p[o:o+6])
	o += 6
	b.CMInitiatorObjectID = getUUIDPNIO(p[o : o+16])
	o += 16
	b.ARProperties = beUint32(p[o:])
	o += 4
	b.TimeoutFactor = beUint16(p[o:])
	o += 2
	b.UDPRTPort = beUint16(p[o:])
	o += 2
	name, _, err := getStationName(p[o:])
	if err != nil {
		return ARBlockReq{}, err
	}
	b.StationName = name
	return b, nil
}

func parseAlarmCRBlockReq(p []byte) (AlarmCRBlockReq, error) {
	if len(p) < 18 {
		return AlarmCRBlockReq{}, errShort("alarm CR block req")
	}
	return AlarmCRBlockReq{
		AlarmCRType:        beUint16(p[0:]),
		LT:                 beUint16(p[2:]),
		AlarmCRProperties:  beUint32(p[4:]),
		RTATimeoutFactor:   beUint16(p[8:]),
		RTARetries:         beUint16(p[10:]),
		LocalAlarmRef:      beUint16(p[12:]),
		MaxAlarmDataLength: beUint16(p[14:]),
	}, nil
}

// ConnectResponse is what the device sends back: a status, an NDR header
// (response framing only), and the AR/IOCR/AlarmCR response blocks.
type ConnectResponse struct {
	Status     PNIOStatus
	AR         ARBlockRes
	IOCRs      []IOCRBlockRes
	AlarmCR    AlarmCRBlockRes
}

// ParseConnectResponse decodes a device's Connect Response, including the
// leading 4-byte PNIO Status and the 20-byte NDR prefix that only appears on
// responses (spec §4.2). If Status is not OK, blocks may be absent.
func ParseConnectResponse(body []byte) (ConnectResponse, error) {
	status, rest, err := ParsePNIOStatus(body)
	if err != nil {
		return ConnectResponse{}, err
	}
	resp := ConnectResponse{Status: status}
	if !status.OK() {
		return resp, nil
	}
	_, rest, err = ParseNDRHeader(rest)
	if err != nil {
		return ConnectResponse{}, err
	}
	blocks, err := IterateBlocks(rest)
	if err != nil {
		return ConnectResponse{}, err
	}
	for _, blk := range blocks {
		switch blk.Type {
		case BlockARBlockRes:
			ar, err := parseARBlockRes(blk.Payload)
			if err != nil {
				return ConnectResponse{}, err
			}
			resp.AR = ar
		case BlockIOCRBlockRes:
			iocr, err := parseIOCRBlockRes(blk.Payload)
			if err != nil {
				return ConnectResponse{}, err
			}
			resp.IOCRs = append(resp.IOCRs, iocr)
		case BlockAlarmCRBlockRes:
			acr, err := parseAlarmCRBlockRes(blk.Payload)
			if err != nil {
				return ConnectResponse{}, err
			}
			resp.AlarmCR = acr
		default:
			// Module Diff Block or vendor extension: ignored by this core.
		}
	}
	return resp, nil
}
