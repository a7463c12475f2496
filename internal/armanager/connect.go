package armanager

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/pnio"
	"github.com/watertreat/scada-core/internal/scadaerr"
)

// ConnectStrategy is one of the six resilient-connect name/config variations
// spec §4.1 requires the engine to try, in order, before declaring failure.
type ConnectStrategy int

const (
	StrategyStandard ConnectStrategy = iota
	StrategyLowercase
	StrategyUppercase
	StrategyNoDash
	StrategyMinimalConfig
	StrategyDapOnly
)

func (s ConnectStrategy) String() string {
	switch s {
	case StrategyStandard:
		return "STANDARD"
	case StrategyLowercase:
		return "LOWERCASE"
	case StrategyUppercase:
		return "UPPERCASE"
	case StrategyNoDash:
		return "NO_DASH"
	case StrategyMinimalConfig:
		return "MINIMAL_CONFIG"
	case StrategyDapOnly:
		return "DAP_ONLY"
	default:
		return "UNKNOWN"
	}
}

var strategyOrder = []ConnectStrategy{
	StrategyStandard, StrategyLowercase, StrategyUppercase,
	StrategyNoDash, StrategyMinimalConfig, StrategyDapOnly,
}

const (
	maxTotalAttemptsDefault = 10
	connectResponseTimeout  = 10 * time.Second
	baseBackoff             = 1 * time.Second
	maxBackoff              = 30 * time.Second
	discoverySettle         = 200 * time.Millisecond
)

// backoffFor applies the manager's configured base/max delay (spec §6
// "base_delay_ms, max_delay_ms"), doubling each attempt with +-10% jitter.
func (m *Manager) backoffFor(attempt int) time.Duration {
	d := m.policy.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > m.policy.MaxDelay {
			d = m.policy.MaxDelay
			break
		}
	}
	jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(d))
	d += jitter
	if d < 0 {
		d = 0
	}
	return d
}

func stationNameVariant(name string, strategy ConnectStrategy) string {
	switch strategy {
	case StrategyLowercase:
		return strings.ToLower(name)
	case StrategyUppercase:
		return strings.ToUpper(name)
	case StrategyNoDash:
		return strings.ReplaceAll(name, "-", "")
	default:
		return name
	}
}

// buildExpectedModules and buildIOCRs apply a strategy's config reduction:
// MINIMAL_CONFIG keeps only the DAP in the expected-module list and drops all
// IOCRs (the device is asked to accept a bare connection); DAP_ONLY is
// identical at the wire level — both send no IOCRs, differing only in
// intent/logging. Frame offsets are assigned in slot-declaration order;
// zero-length slots (the DAP) are retained in the expected-module list but
// excluded from IODataObject/IOCS (spec §4.1).
func buildConnectParams(ar *model.AR, strategy ConnectStrategy, controllerMAC [6]byte) pnio.ConnectRequestParams {
	ar.Lock()
	defer ar.Unlock()

	name := stationNameVariant(ar.StationNameOnWire, strategy)
	minimal := strategy == StrategyMinimalConfig || strategy == StrategyDapOnly

	var expected []pnio.ExpectedModuleEntry
	var inputObjs, outputObjs []pnio.IODataObjectRef
	var inputIOCS, outputIOCS []pnio.IOCSRef
	var inOffset, outOffset uint16
	var inIOCSOffset, outIOCSOffset uint16
	var inLen, outLen uint16

	for _, slot := range ar.Device.Slots {
		if minimal && !slot.Address.IsDAP() {
			continue
		}
		dir := uint8(0)
		if slot.Direction == model.DirectionOutput {
			dir = 1
		}
		expected = append(expected, pnio.ExpectedModuleEntry{
			Slot:           slot.Address.Slot,
			Subslot:        slot.Address.Subslot,
			ModuleIdent:    slot.ModuleIdent,
			SubmoduleIdent: slot.SubmoduleIdent,
			DataLength:     slot.CyclicLength,
			Direction:      dir,
		})
		if slot.CyclicLength == 0 {
			continue // DAP: excluded from IODataObject/IOCS (spec §4.1)
		}
		ref := pnio.IODataObjectRef{Slot: slot.Address.Slot, Subslot: slot.Address.Subslot}
		switch slot.Direction {
		case model.DirectionInput:
			ref.FrameOffset = inOffset
			inOffset += slot.CyclicLength
			inputObjs = append(inputObjs, ref)
			inLen += slot.CyclicLength
		case model.DirectionOutput:
			ref.FrameOffset = outOffset
			outOffset += slot.CyclicLength
			outputObjs = append(outputObjs, ref)
			outLen += slot.CyclicLength
		}
	}
	// IOCS frame offsets follow the payload region, one byte per submodule.
	for _, obj := range inputObjs {
		inputIOCS = append(inputIOCS, pnio.IOCSRef{Slot: obj.Slot, Subslot: obj.Subslot, FrameOffset: inLen + inIOCSOffset})
		inIOCSOffset++
	}
	for _, obj := range outputObjs {
		outputIOCS = append(outputIOCS, pnio.IOCSRef{Slot: obj.Slot, Subslot: obj.Subslot, FrameOffset: outLen + outIOCSOffset})
		outIOCSOffset++
	}

	var iocrs []pnio.IOCRBlockReq
	if !minimal {
		if len(inputObjs) > 0 {
			iocrs = append(iocrs, pnio.IOCRBlockReq{
				IOCRType: pnio.IOCRTypeInput, IOCRReference: 1,
				SendClockFactor: 32, ReductionRatio: 1, Phase: 1,
				WatchdogFactor: 3, DataHoldFactor: 3,
				DataLength: inLen, IODataObjects: inputObjs, IOCSs: inputIOCS,
			})
		}
		if len(outputObjs) > 0 {
			iocrs = append(iocrs, pnio.IOCRBlockReq{
				IOCRType: pnio.IOCRTypeOutput, IOCRReference: 2,
				SendClockFactor: 32, ReductionRatio: 1, Phase: 1,
				WatchdogFactor: 3, DataHoldFactor: 3,
				DataLength: outLen, IODataObjects: outputObjs, IOCSs: outputIOCS,
			})
		}
	}

	return pnio.ConnectRequestParams{
		ARUUID:          ar.ARUUID,
		SessionKey:      ar.SessionKey,
		StationName:     name,
		CMInitiatorMAC:  controllerMAC,
		IOCRs:           iocrs,
		ExpectedModules: expected,
		AlarmCR: pnio.AlarmCRBlockReq{
			AlarmCRType: 1, LT: 0x8892, RTATimeoutFactor: 1, RTARetries: 3,
			LocalAlarmRef: 1, MaxAlarmDataLength: 200,
		},
	}
}

// Connect drives the full resilient-connect policy for one AR: a sequence
// of strategies with exponential backoff, strategy promotion on a PNIO-CM
// hint, and a targeted re-identify between full rounds (spec §4.1).
func (m *Manager) Connect(ctx context.Context, station string) error {
	ar, ok := m.Get(station)
	if !ok {
		return scadaerr.New(scadaerr.NotFound, "AR for station "+station)
	}

	strategyIdx := 0
	attempts := 0
	for attempts < m.policy.MaxAttempts {
		strategy := strategyOrder[strategyIdx]
		prev := ar.SetState(model.StateConnectReq, model.NowMs())
		m.announce(station, prev, model.StateConnectReq)

		resp, nameUsed, err := m.attemptConnect(ctx, ar, strategy)
		attempts++
		if err == nil && resp.Status.OK() {
			m.applyConnectResponse(ar, resp, nameUsed)
			ar.ResetErrors()
			prev := ar.SetState(model.StateConnectCnf, model.NowMs())
			m.announce(station, prev, model.StateConnectCnf)
			ar.TouchActivity(model.NowMs())
			return nil
		}

		ar.RecordError()
		if err == nil {
			action := pnio.AnalyzeError(resp.Status)
			switch action {
			case pnio.RecoveryTryNameVariation:
				if m.policy.EnableNameVariations {
					strategyIdx = advanceToward(strategyIdx, StrategyLowercase)
				} else {
					strategyIdx = nextIndex(strategyIdx)
				}
			case pnio.RecoveryTryMinimalConfig:
				if m.policy.EnableMinimalConfig {
					strategyIdx = advanceToward(strategyIdx, StrategyMinimalConfig)
				} else {
					strategyIdx = nextIndex(strategyIdx)
				}
			case pnio.RecoveryWaitAndRetry:
				// same strategy, just back off longer below
			default:
				strategyIdx = nextIndex(strategyIdx)
			}
		} else {
			strategyIdx = nextIndex(strategyIdx)
		}

		if strategyIdx == 0 && m.discovery != nil && m.policy.EnableRediscovery {
			m.tryRediscover(ctx, ar)
		}

		select {
		case <-ctx.Done():
			prev := ar.SetState(model.StateAbort, model.NowMs())
			m.announce(station, prev, model.StateAbort)
			return ctx.Err()
		case <-time.After(m.backoffFor(attempts)):
		}
	}

	prevFinal := ar.SetState(model.StateAbort, model.NowMs())
	m.announce(station, prevFinal, model.StateAbort)
	return scadaerr.New(scadaerr.Timeout, fmt.Sprintf("resilient connect exhausted for %s", station))
}

func nextIndex(i int) int {
	if i+1 >= len(strategyOrder) {
		return 0
	}
	return i + 1
}

func advanceToward(current int, target ConnectStrategy) int {
	for i, s := range strategyOrder {
		if s == target && i > current {
			return i
		}
	}
	return nextIndex(current)
}

func (m *Manager) tryRediscover(ctx context.Context, ar *model.AR) {
	ctx, cancel := context.WithTimeout(ctx, discoverySettle+2*time.Second)
	defer cancel()
	ip, found, err := m.discovery.Identify(ctx, ar.Device.StationName)
	if err != nil || !found {
		return
	}
	time.Sleep(discoverySettle)
	ar.Lock()
	if ip != ar.Device.IP {
		ar.Device.IP = ip
	}
	ar.Unlock()
}

// attemptConnect sends one Connect Request and waits up to
// connectResponseTimeout for a correlated response. It also returns the
// station name variant actually placed on the wire, so a successful caller
// can persist it (spec §8 scenario 2: a successful LOWERCASE retry updates
// the stored name).
func (m *Manager) attemptConnect(ctx context.Context, ar *model.AR, strategy ConnectStrategy) (pnio.ConnectResponse, string, error) {
	params := buildConnectParams(ar, strategy, m.controllerMAC)
	seq := m.nextSeq()
	activity := uuid.New()
	pdu := pnio.BuildConnectRequest(seq, activity, params)

	ch := m.registerPending(seq)
	defer m.unregisterPending(seq)

	ar.Lock()
	dest := ar.Device.IP
	ar.Unlock()

	if err := m.transport.Send(dest, pdu); err != nil {
		return pnio.ConnectResponse{}, params.StationName, scadaerr.Wrap(scadaerr.IO, "send Connect Request", err)
	}

	select {
	case r := <-ch:
		resp, err := pnio.ParseConnectResponse(r.payload[pnio.HeaderLen:])
		return resp, params.StationName, err
	case <-time.After(connectResponseTimeout):
		return pnio.ConnectResponse{}, params.StationName, scadaerr.New(scadaerr.Timeout, "Connect Response")
	case <-ctx.Done():
		return pnio.ConnectResponse{}, params.StationName, ctx.Err()
	}
}

func (m *Manager) applyConnectResponse(ar *model.AR, resp pnio.ConnectResponse, nameUsed string) {
	ar.Lock()
	defer ar.Unlock()
	ar.StationNameOnWire = nameUsed
	for i, iocrRes := range resp.IOCRs {
		if i >= len(ar.IOCRs) {
			dir := model.DirectionInput
			if iocrRes.IOCRType == pnio.IOCRTypeOutput {
				dir = model.DirectionOutput
			}
			ar.IOCRs = append(ar.IOCRs, &model.IOCR{Direction: dir})
		}
		ar.IOCRs[i].FrameID = iocrRes.FrameID // device-assigned; overwrites any proposal
	}
}
