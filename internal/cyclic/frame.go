// Package cyclic is the PROFINET real-time cyclic exchange engine: an output
// send tick that serializes registry actuator state into Ethernet frames for
// RUN-state ARs, and an input receive loop that dispatches inbound frames by
// frame ID and feeds the registry and the AR watchdog (spec §4.3).
package cyclic

import (
	"encoding/binary"
	"math"
)

// frameHeaderLen is dst MAC(6) + src MAC(6) + EtherType(2) + frame ID(2).
const frameHeaderLen = 16

// DataStatusRun is the data-status byte the controller sends while primary,
// valid, and running (spec §4.3). The core never operates as a backup
// controller, so this is the only value it ever transmits.
const DataStatusRun = 0x35

const transferStatusOK = 0x00

// buildFrame assembles dst/src MAC, EtherType 0x8892, frame ID, payload,
// iocsBytes (one per submodule), a 16-bit big-endian cycle counter, the
// data-status byte, and the transfer-status byte, in that order, then
// zero-pads to the Ethernet minimum frame size pre-FCS (spec §4.3).
func buildFrame(dstMAC, srcMAC [6]byte, frameID uint16, payload, iocsBytes []byte, cycleCounter uint16) []byte {
	out := make([]byte, 0, frameHeaderLen+len(payload)+len(iocsBytes)+4)
	out = append(out, dstMAC[:]...)
	out = append(out, srcMAC[:]...)
	var ethertype [2]byte
	binary.BigEndian.PutUint16(ethertype[:], 0x8892)
	out = append(out, ethertype[:]...)
	var fid [2]byte
	binary.BigEndian.PutUint16(fid[:], frameID)
	out = append(out, fid[:]...)
	out = append(out, payload...)
	out = append(out, iocsBytes...)
	var cc [2]byte
	binary.BigEndian.PutUint16(cc[:], cycleCounter)
	out = append(out, cc[:]...)
	out = append(out, DataStatusRun, transferStatusOK)
	if len(out) < minFrameLen {
		padded := make([]byte, minFrameLen)
		copy(padded, out)
		out = padded
	}
	return out
}

// minFrameLen is the Ethernet minimum frame size pre-FCS (spec §4.3).
const minFrameLen = 60

// parseFrame recovers the frame ID and everything after the 16-byte header.
// It deliberately does not try to locate the trailing cycle-counter/status
// bytes by counting back from the end of the slice: a frame zero-padded to
// the Ethernet minimum has padding AFTER those bytes, so only a receiver
// that already knows the IOCR's configured payload and submodule count (as
// engine.go's dispatchInput does) can find them correctly.
func parseFrame(frame []byte) (frameID uint16, body []byte, ok bool) {
	if len(frame) < frameHeaderLen {
		return 0, nil, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != 0x8892 {
		return 0, nil, false
	}
	frameID = binary.BigEndian.Uint16(frame[14:16])
	body = frame[frameHeaderLen:]
	return frameID, body, true
}

// encodeSensorSlot packs a 32-bit IEEE-754 big-endian float followed by a
// 1-byte quality, the fixed 5-byte wire shape for an input submodule
// (spec §4.3).
func encodeSensorSlot(value float64, quality byte) [5]byte {
	var out [5]byte
	binary.BigEndian.PutUint32(out[0:4], math.Float32bits(float32(value)))
	out[4] = quality
	return out
}

func decodeSensorSlot(b []byte) (value float64, quality byte, ok bool) {
	if len(b) < 5 {
		return 0, 0, false
	}
	bits := binary.BigEndian.Uint32(b[0:4])
	return float64(math.Float32frombits(bits)), b[4], true
}

// encodeActuatorSlot packs an actuator's command and PWM duty into its
// configured cyclic slot width: byte 0 is the command code, byte 1 the PWM
// duty, remaining bytes (the typical 4-byte output slot carries 2) are
// reserved and sent as zero.
func encodeActuatorSlot(command byte, pwmDuty byte, width uint16) []byte {
	out := make([]byte, width)
	if width > 0 {
		out[0] = command
	}
	if width > 1 {
		out[1] = pwmDuty
	}
	return out
}

func decodeActuatorSlot(b []byte) (command byte, pwmDuty byte) {
	if len(b) > 0 {
		command = b[0]
	}
	if len(b) > 1 {
		pwmDuty = b[1]
	}
	return command, pwmDuty
}
