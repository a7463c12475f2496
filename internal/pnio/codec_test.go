package pnio_test

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/watertreat/scada-core/internal/pnio"
)

func sampleParams() pnio.ConnectRequestParams {
	return pnio.ConnectRequestParams{
		ARUUID:         uuid.New(),
		SessionKey:     1,
		StationName:    "rtu-tank-1",
		CMInitiatorMAC: [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		IOCRs: []pnio.IOCRBlockReq{
			{
				IOCRType:       pnio.IOCRTypeInput,
				IOCRReference:  1,
				FrameID:        0,
				SendClockFactor: 32,
				ReductionRatio: 1,
				Phase:          1,
				WatchdogFactor: 3,
				DataHoldFactor: 3,
				DataLength:     5,
				IODataObjects: []pnio.IODataObjectRef{
					{Slot: 1, Subslot: 1, FrameOffset: 0},
				},
				IOCSs: []pnio.IOCSRef{
					{Slot: 1, Subslot: 1, FrameOffset: 5},
				},
			},
		},
		ExpectedModules: []pnio.ExpectedModuleEntry{
			{Slot: 0, Subslot: 1, ModuleIdent: 0, SubmoduleIdent: 0, DataLength: 0, Direction: 0},
			{Slot: 1, Subslot: 1, ModuleIdent: 0x0040, SubmoduleIdent: 0x0041, DataLength: 5, Direction: 0},
		},
		AlarmCR: pnio.AlarmCRBlockReq{
			AlarmCRType:       1,
			LT:                0x8892,
			RTATimeoutFactor:  1,
			RTARetries:        3,
			LocalAlarmRef:     1,
			MaxAlarmDataLength: 200,
		},
	}
}

func TestConnectRequestRoundTrip(t *testing.T) {
	params := sampleParams()
	activity := uuid.New()
	pdu := pnio.BuildConnectRequest(7, activity, params)

	header, got, err := pnio.ParseConnectRequest(pdu)
	if err != nil {
		t.Fatalf("ParseConnectRequest: %v", err)
	}
	if header.Opnum != pnio.OpConnect {
		t.Fatalf("opnum = %d, want OpConnect", header.Opnum)
	}
	if header.Drep[0] != pnio.DrepLittleEndian {
		t.Fatalf("drep[0] = 0x%02x, want 0x10", header.Drep[0])
	}
	if header.SequenceNumber != 7 {
		t.Fatalf("sequence number = %d, want 7", header.SequenceNumber)
	}
	if header.ActivityUUID != activity {
		t.Fatalf("activity UUID mismatch")
	}
	if header.InterfaceUUID != pnio.ControllerUUID {
		t.Fatalf("interface UUID = %v, want controller UUID", header.InterfaceUUID)
	}

	if got.StationName != params.StationName {
		t.Fatalf("station name = %q, want %q", got.StationName, params.StationName)
	}
	if !reflect.DeepEqual(got.IOCRs, params.IOCRs) {
		t.Fatalf("IOCR set mismatch:\ngot  %+v\nwant %+v", got.IOCRs, params.IOCRs)
	}
	if !reflect.DeepEqual(got.ExpectedModules, params.ExpectedModules) {
		t.Fatalf("expected-module list mismatch:\ngot  %+v\nwant %+v", got.ExpectedModules, params.ExpectedModules)
	}
	if got.ARUUID != params.ARUUID || got.SessionKey != params.SessionKey {
		t.Fatalf("AR identity mismatch")
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status pnio.PNIOStatus
		want   pnio.RecoveryAction
	}{
		{"station name rejected", pnio.PNIOStatus{ErrorDecode: 0x81, ErrorCode1: 0x01, ErrorCode2: 0x01}, pnio.RecoveryTryNameVariation},
		{"resource busy", pnio.PNIOStatus{ErrorDecode: 0x81, ErrorCode1: 0x01, ErrorCode2: 0x03}, pnio.RecoveryWaitAndRetry},
		{"expected submodule rejected", pnio.PNIOStatus{ErrorDecode: 0x81, ErrorCode1: 0x04, ErrorCode2: 0x00}, pnio.RecoveryTryMinimalConfig},
		{"IOCR block length", pnio.PNIOStatus{ErrorDecode: 0x81, ErrorCode1: 0x02, ErrorCode2: 0x02}, pnio.RecoveryTryMinimalConfig},
		{"non-PNIO-CM decode", pnio.PNIOStatus{ErrorDecode: 0x00, ErrorCode1: 0x01, ErrorCode2: 0x01}, pnio.RecoveryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pnio.AnalyzeError(tc.status); got != tc.want {
				t.Fatalf("AnalyzeError(%+v) = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestControlResponseUsesControllerInterfaceUUID(t *testing.T) {
	arUUID := uuid.New()
	pdu := pnio.BuildControlResponse(3, uuid.New(), arUUID, 1, pnio.ControlCommandAppReady)
	header, err := pnio.ParseRPCHeader(pdu)
	if err != nil {
		t.Fatalf("ParseRPCHeader: %v", err)
	}
	if header.InterfaceUUID != pnio.ControllerUUID {
		t.Fatalf("Control Response interface UUID = %v, want controller UUID", header.InterfaceUUID)
	}
	if header.ObjectUUID != pnio.DeviceUUID {
		t.Fatalf("Control Response object UUID = %v, want device UUID", header.ObjectUUID)
	}
}

func TestParseConnectResponseFailureHasNoBlocks(t *testing.T) {
	status := pnio.PNIOStatus{ErrorCode: 0x01, ErrorDecode: 0x81, ErrorCode1: 0x01, ErrorCode2: 0x01}
	body := status.Marshal()
	resp, err := pnio.ParseConnectResponse(body)
	if err != nil {
		t.Fatalf("ParseConnectResponse: %v", err)
	}
	if resp.Status.OK() {
		t.Fatalf("expected failure status")
	}
	if len(resp.IOCRs) != 0 {
		t.Fatalf("expected no IOCR blocks on failure response")
	}
}
