package cyclic

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watertreat/scada-core/internal/armanager"
	"github.com/watertreat/scada-core/internal/ether"
	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/registry"
)

// IOPSGood is the IOxS "good" status byte this core sends for every
// submodule it provides data for; it never models the full IOxS state
// machine (sub-modules it serves are always either good or absent).
const IOPSGood = 0x80

// DefaultCyclePeriod is the default cyclic send interval (spec §4.3/§5
// "cyclic send timer thread ... default 32 ms").
const DefaultCyclePeriod = 32 * time.Millisecond

// Engine owns the output send ticker and the input receive loop. It is the
// generalization of the teacher's NE2000 rx-goroutine and PIT tick model
// (core_engine/devices/ne2000.go receivePacketsLoop, core_engine/devices/pit.go)
// onto PROFINET cyclic data instead of a TAP device and an interrupt timer.
type Engine struct {
	mgr           *armanager.Manager
	reg           registry.Registry
	transport     ether.RawEthernet
	controllerMAC [6]byte
	period        time.Duration
	log           *logrus.Entry

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// Options bundles the collaborators an Engine needs at construction.
type Options struct {
	Manager       *armanager.Manager
	Registry      registry.Registry
	Transport     ether.RawEthernet
	ControllerMAC [6]byte
	CyclePeriod   time.Duration // 0 defaults to DefaultCyclePeriod
	Logger        *logrus.Logger
}

func New(opts Options) *Engine {
	period := opts.CyclePeriod
	if period <= 0 {
		period = DefaultCyclePeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		mgr:           opts.Manager,
		reg:           opts.Registry,
		transport:     opts.Transport,
		controllerMAC: opts.ControllerMAC,
		period:        period,
		log:           logger.WithField("component", "cyclic"),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the output tick and input receive goroutines.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.outputLoop()
	go e.inputLoop()
}

// Stop signals both loops to exit and waits for them, mirroring the
// teacher's StopRxLoop close(stopCh)+select-on-doneCh-with-timeout shape.
func (e *Engine) Stop() {
	close(e.stopCh)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.log.Warn("timeout waiting for cyclic engine goroutines to stop")
	}
}

func (e *Engine) outputLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sendTick()
		}
	}
}

func (e *Engine) sendTick() {
	for _, ar := range e.mgr.Snapshot() {
		if ar.StateUnsafe() != model.StateRun {
			continue
		}
		for _, iocr := range ar.OutputIOCRs() {
			e.sendIOCR(ar, iocr)
		}
	}
}

func (e *Engine) sendIOCR(ar *model.AR, iocr *model.IOCR) {
	ar.Lock()
	dstMAC := ar.Device.MAC
	slotsByAddr := make(map[model.SlotAddress]model.Slot, len(ar.Device.Slots))
	for _, s := range ar.Device.Slots {
		slotsByAddr[s.Address] = s
	}
	station := ar.Device.StationName
	ar.Unlock()

	payload := make([]byte, iocr.PayloadLength)
	iocs := make([]byte, len(iocr.Objects))
	for i, obj := range iocr.Objects {
		slot := slotsByAddr[obj.Slot]
		rec, err := e.reg.GetActuator(model.StationSlot{Station: station, Slot: obj.Slot})
		if err != nil {
			iocs[i] = 0 // bad/absent: leave payload region zeroed
			continue
		}
		enc := encodeActuatorSlot(byte(rec.Command), rec.PWMDuty, slot.CyclicLength)
		copy(payload[obj.DataOffset:obj.DataOffset+obj.DataLength], enc)
		iocs[i] = IOPSGood
	}

	iocr.CycleCounter++
	iocr.Payload = payload
	frame := buildFrame(dstMAC, e.controllerMAC, iocr.FrameID, payload, iocs, iocr.CycleCounter)
	if err := e.transport.WriteFrame(frame); err != nil {
		e.log.WithField("station", station).WithError(err).Warn("cyclic output frame send failed")
	}
}

func (e *Engine) inputLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}
		frame, err := e.transport.ReadFrame()
		if err != nil {
			e.log.WithError(err).Warn("cyclic input read error")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if frame == nil {
			continue // read timeout, nothing available
		}
		e.dispatchInput(frame)
	}
}

type inputTarget struct {
	station string
	ar      *model.AR
	iocr    *model.IOCR
}

func (e *Engine) buildInputIndex() map[uint16]inputTarget {
	idx := make(map[uint16]inputTarget)
	for _, ar := range e.mgr.Snapshot() {
		station := ar.Device.StationName
		for _, iocr := range ar.InputIOCRs() {
			idx[iocr.FrameID] = inputTarget{station: station, ar: ar, iocr: iocr}
		}
	}
	return idx
}

func (e *Engine) dispatchInput(frame []byte) {
	frameID, body, ok := parseFrame(frame)
	if !ok {
		return
	}
	target, found := e.buildInputIndex()[frameID]
	if !found {
		return // frame for an unknown/not-yet-connected IOCR; ignore
	}

	iocr := target.iocr
	if len(body) < int(iocr.PayloadLength)+len(iocr.Objects) {
		return
	}
	payload := body[:iocr.PayloadLength]
	iocs := body[iocr.PayloadLength : iocr.PayloadLength+uint16(len(iocr.Objects))]
	iocr.Payload = payload
	iocr.LastFrameTimeUs = time.Now().UnixMicro()

	for i, obj := range iocr.Objects {
		slotPayload := payload[obj.DataOffset : obj.DataOffset+obj.DataLength]
		value, quality, ok := decodeSensorSlot(slotPayload)
		if !ok {
			continue
		}
		rec := model.SensorRecord{Value: value, Quality: model.Quality(quality), IOPS: iocs[i]}
		_ = e.reg.UpdateSensor(model.StationSlot{Station: target.station, Slot: obj.Slot}, rec)
	}

	target.ar.TouchActivity(model.NowMs())
}
