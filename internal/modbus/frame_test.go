package modbus

import (
	"bytes"
	"testing"
)

func TestRTUFrameRoundTrip(t *testing.T) {
	pdu := []byte{byte(FuncReadHoldingRegisters), 0x00, 0x00, 0x00, 0x0A}
	frame := encodeRTUFrame(0x01, pdu)

	slaveAddr, gotPDU, ok := decodeRTUFrame(frame)
	if !ok {
		t.Fatalf("decodeRTUFrame: not ok")
	}
	if slaveAddr != 0x01 {
		t.Fatalf("slaveAddr = %d, want 1", slaveAddr)
	}
	if !bytes.Equal(gotPDU, pdu) {
		t.Fatalf("pdu = % x, want % x", gotPDU, pdu)
	}
}

func TestRTUFrameBadCRCRejected(t *testing.T) {
	frame := encodeRTUFrame(0x01, []byte{byte(FuncReadHoldingRegisters), 0, 0, 0, 0x0A})
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC
	_, _, ok := decodeRTUFrame(frame)
	if ok {
		t.Fatalf("decodeRTUFrame accepted a corrupted frame")
	}
}

func TestMBAPRoundTrip(t *testing.T) {
	pdu := []byte{byte(FuncReadHoldingRegisters), 0x00, 0x64, 0x00, 0x01}
	adu := encodeMBAP(42, 0x01, pdu)

	txn, unit, gotPDU, err := decodeMBAP(adu)
	if err != nil {
		t.Fatalf("decodeMBAP: %v", err)
	}
	if txn != 42 {
		t.Fatalf("transaction id = %d, want 42", txn)
	}
	if unit != 0x01 {
		t.Fatalf("unit id = %d, want 1", unit)
	}
	if !bytes.Equal(gotPDU, pdu) {
		t.Fatalf("pdu = % x, want % x", gotPDU, pdu)
	}
}

func TestMBAPRejectsNonZeroProtocolID(t *testing.T) {
	adu := encodeMBAP(1, 0x01, []byte{0x03, 0, 0, 0, 1})
	adu[3] = 0x01 // protocol_id low byte
	if _, _, _, err := decodeMBAP(adu); err == nil {
		t.Fatalf("decodeMBAP accepted a non-zero protocol id")
	}
}

func TestExceptionPDURoundTrip(t *testing.T) {
	pdu := BuildExceptionPDU(FuncReadHoldingRegisters, ExcIllegalDataAddress)
	fc, exc, ok := IsException(pdu)
	if !ok {
		t.Fatalf("IsException: not ok")
	}
	if fc != FuncReadHoldingRegisters {
		t.Fatalf("fc = 0x%02x, want 0x%02x", fc, FuncReadHoldingRegisters)
	}
	if exc != ExcIllegalDataAddress {
		t.Fatalf("exc = 0x%02x, want 0x%02x", exc, ExcIllegalDataAddress)
	}
}
