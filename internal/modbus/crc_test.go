package modbus

import "testing"

func TestCRC16CanonicalVector(t *testing.T) {
	// spec §8: "CRC16 on the canonical vector 01 03 00 00 00 0A returns
	// 0xCDC5 (low byte 0xC5 on wire first)."
	got := crc16([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})
	if got != 0xCDC5 {
		t.Fatalf("crc16 = 0x%04x, want 0xCDC5", got)
	}
}
