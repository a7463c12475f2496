package pnio


// PNIOStatusLen is the fixed 4-byte status every Connect/Control response
// carries first: error_code, error_decode, error_code1, error_code2.
const PNIOStatusLen = 4

const pnioCMErrorDecode = 0x81

// PNIOStatus is the decoded 4-byte status prefix on every response.
type PNIOStatus struct {
	ErrorCode   byte
	ErrorDecode byte
	ErrorCode1  byte
	ErrorCode2  byte
}

func (s PNIOStatus) OK() bool { return s.ErrorCode == 0x00 }

func (s PNIOStatus) IsPNIOCM() bool { return s.ErrorDecode == pnioCMErrorDecode }

func ParsePNIOStatus(buf []byte) (PNIOStatus, []byte, error) {
	if len(buf) < PNIOStatusLen {
		return PNIOStatus{}, nil, errShort("PNIO status")
	}
	return PNIOStatus{
		ErrorCode:   buf[0],
		ErrorDecode: buf[1],
		ErrorCode1:  buf[2],
		ErrorCode2:  buf[3],
	}, buf[PNIOStatusLen:], nil
}

func (s PNIOStatus) Marshal() []byte {
	return []byte{s.ErrorCode, s.ErrorDecode, s.ErrorCode1, s.ErrorCode2}
}

// RecoveryAction is what the resilient-connect policy (internal/armanager)
// should try next in response to a decoded PNIO-CM error.
type RecoveryAction int

const (
	RecoveryNone RecoveryAction = iota
	RecoveryTryNameVariation
	RecoveryTryMinimalConfig
	RecoveryWaitAndRetry // resource busy: back off, try same strategy again
	RecoveryUnknown
)

// errorCode1 block identifiers, per spec §4.2.
const (
	blockIDARBlock              = 0x01
	blockIDIOCRBlock            = 0x02
	blockIDAlarmCRBlock         = 0x03
	blockIDExpectedSubmodule    = 0x04
)

// errorCode2 field identifiers that imply a specific remedy.
const (
	fieldStationName = 0x01
	fieldBlockLength = 0x02
	fieldResourceBusy = 0x03
)

// AnalyzeError maps a PNIO-CM error into the recovery action the resilient
// connect engine should take (spec §4.1, §4.2, testable property in §8).
func AnalyzeError(s PNIOStatus) RecoveryAction {
	if !s.IsPNIOCM() {
		return RecoveryUnknown
	}
	switch s.ErrorCode1 {
	case blockIDARBlock:
		switch s.ErrorCode2 {
		case fieldStationName:
			return RecoveryTryNameVariation
		case fieldResourceBusy:
			return RecoveryWaitAndRetry
		}
	case blockIDExpectedSubmodule:
		return RecoveryTryMinimalConfig
	case blockIDIOCRBlock, blockIDAlarmCRBlock:
		if s.ErrorCode2 == fieldBlockLength {
			return RecoveryTryMinimalConfig
		}
	}
	return RecoveryUnknown
}
