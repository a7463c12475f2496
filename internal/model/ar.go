package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ARState is one node of the AR lifecycle state machine (spec §4.1).
type ARState int

const (
	StateInit ARState = iota
	StateConnectReq
	StateConnectCnf
	StatePrmSrv
	StateReady
	StateRun
	StateAbort
	StateClose
)

func (s ARState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnectReq:
		return "CONNECT_REQ"
	case StateConnectCnf:
		return "CONNECT_CNF"
	case StatePrmSrv:
		return "PRMSRV"
	case StateReady:
		return "READY"
	case StateRun:
		return "RUN"
	case StateAbort:
		return "ABORT"
	case StateClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IOCR is one direction's worth of cyclic data within an AR.
type IOCR struct {
	Direction      Direction
	RefID          uint16
	FrameID        uint16 // device-assigned in Connect Response
	PayloadLength  uint16
	WatchdogFactor uint16
	ReductionRatio uint16
	Phase          uint16

	CycleCounter uint16 // per-IOCR, written only by the cyclic send thread
	Payload      []byte

	// Objects lists the (slot, frame-offset) pairs packed into Payload, in
	// slot-declaration order, excluding zero-length slots (e.g. the DAP).
	Objects []IODataObject

	LastFrameTimeUs int64
}

// IODataObject maps one non-DAP submodule to its byte offset within an
// IOCR's payload and IOCS/IOPS block.
type IODataObject struct {
	Slot         SlotAddress
	DataOffset   uint16
	DataLength   uint16
	IOxSOffset   uint16 // 1 byte per submodule
}

// AR is the central entity: one PROFINET Application Relationship.
type AR struct {
	mu sync.Mutex

	ARUUID     uuid.UUID // generated once, never changes
	SessionKey uint16    // unique across the live AR set

	Device DeviceConfig

	StationNameOnWire string // may differ from Device.StationName after a
	                          // resilient-connect name variation succeeds

	state ARState

	IOCRs []*IOCR

	WatchdogMs     uint32
	LastActivityMs int64
	RetryCount     int
	ConsecErrors   int

	lastAbortMs int64 // when state last entered ABORT, for the 5s ABORT->INIT timer
}

// NewAR constructs an AR in state INIT with a freshly generated UUID.
func NewAR(dev DeviceConfig, sessionKey uint16) *AR {
	return &AR{
		ARUUID:            uuid.New(),
		SessionKey:        sessionKey,
		Device:            dev,
		StationNameOnWire: dev.StationName,
		state:             StateInit,
		WatchdogMs:        dev.WatchdogMs,
	}
}

// State reads the current lifecycle state under lock.
func (ar *AR) State() ARState {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.state
}

// StateUnsafe reads the current lifecycle state without locking. Only the
// cyclic send thread may call this, and only to test for StateRun — the
// locking-discipline rule in spec §5(a) holds because transitions out of RUN
// happen only on the AR manager's own thread.
func (ar *AR) StateUnsafe() ARState {
	return ar.state
}

// SetState transitions the AR and returns the previous state. Callers outside
// package armanager should not call this directly; it is exported so
// armanager (a separate package) can drive it while the state field itself
// stays encapsulated.
func (ar *AR) SetState(next ARState, nowMs int64) ARState {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	prev := ar.state
	ar.state = next
	if next == StateAbort {
		ar.lastAbortMs = nowMs
	}
	return prev
}

// RecordError increments the consecutive-error counter; ResetErrors clears
// it and the retry count after a successful exchange.
func (ar *AR) RecordError() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.ConsecErrors++
}

func (ar *AR) ResetErrors() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.ConsecErrors = 0
	ar.RetryCount = 0
}

func (ar *AR) LastAbortMs() int64 {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.lastAbortMs
}

// TouchActivity refreshes the watchdog-feeding timestamp.
func (ar *AR) TouchActivity(nowMs int64) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.LastActivityMs = nowMs
}

// Lock/Unlock expose the AR's own mutex for multi-field read-modify-write
// sequences the manager needs to perform atomically (e.g. set IOCRs and
// transition state together on a Connect Confirmation).
func (ar *AR) Lock()   { ar.mu.Lock() }
func (ar *AR) Unlock() { ar.mu.Unlock() }

// OutputIOCRs and InputIOCRs partition IOCRs by direction. Callers must hold
// the AR lock if IOCRs may be concurrently replaced (only true during
// CONNECT_CNF handling).
func (ar *AR) OutputIOCRs() []*IOCR { return iocrsByDirection(ar.IOCRs, DirectionOutput) }
func (ar *AR) InputIOCRs() []*IOCR  { return iocrsByDirection(ar.IOCRs, DirectionInput) }

func iocrsByDirection(iocrs []*IOCR, dir Direction) []*IOCR {
	out := make([]*IOCR, 0, len(iocrs))
	for _, c := range iocrs {
		if c.Direction == dir {
			out = append(out, c)
		}
	}
	return out
}

func NowMs() int64 { return time.Now().UnixMilli() }
