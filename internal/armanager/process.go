package armanager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/pnio"
	"github.com/watertreat/scada-core/internal/scadaerr"
)

const (
	abortToInitDelay = 5 * time.Second
	prmEndTimeout    = 5 * time.Second
)

// Process drives every AR one tick forward through the state table in
// spec §4.1. It is meant to be called periodically (e.g. every 100ms) by
// the controller's main loop; it never blocks on network I/O itself —
// per-AR work that needs a round trip (Connect, PrmEnd) is handed off to a
// background goroutine guarded against re-entry by inFlight.
func (m *Manager) Process(now time.Time) {
	for _, ar := range m.Snapshot() {
		station := ar.Device.StationName
		switch ar.State() {
		case model.StateInit:
			m.startOnce(station, func() { _ = m.Connect(context.Background(), station) })
		case model.StateConnectCnf:
			m.startOnce(station, func() { m.runPrmEnd(ar, station) })
		case model.StateReady:
			// Nothing to do here; handleInboundControlRequest drives
			// READY -> RUN when the device's AppReady arrives.
		case model.StateRun:
			m.checkWatchdog(ar, station, now)
		case model.StateAbort:
			if now.UnixMilli()-ar.LastAbortMs() >= abortToInitDelay.Milliseconds() {
				prev := ar.SetState(model.StateInit, model.NowMs())
				m.announce(station, prev, model.StateInit)
			}
		case model.StateClose:
			// terminal until DeleteAR or a fresh CreateAR for this station
		}
	}
}

func (m *Manager) startOnce(station string, fn func()) {
	m.inFlightMu.Lock()
	if m.inFlight[station] {
		m.inFlightMu.Unlock()
		return
	}
	m.inFlight[station] = true
	m.inFlightMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.inFlightMu.Lock()
			delete(m.inFlight, station)
			m.inFlightMu.Unlock()
		}()
		fn()
	}()
}

// checkWatchdog aborts an AR whose cyclic partner has gone quiet for longer
// than its configured watchdog (spec §4.1 RUN -> ABORT; §8 watchdog
// property: now - last_activity_ms > watchdog_ms triggers ABORT).
func (m *Manager) checkWatchdog(ar *model.AR, station string, now time.Time) {
	ar.Lock()
	watchdogMs := ar.WatchdogMs
	lastActivity := ar.LastActivityMs
	ar.Unlock()
	if watchdogMs == 0 {
		return
	}
	if now.UnixMilli()-lastActivity > int64(watchdogMs) {
		prev := ar.SetState(model.StateAbort, model.NowMs())
		m.announce(station, prev, model.StateAbort)
		m.log.WithField("station", station).Warn("watchdog expired, AR aborted")
	}
}

// runPrmEnd sends the PrmEnd Control Request once CONNECT_CNF is reached and
// advances the AR to READY on a clean response (spec §4.1 PRMSRV -> READY).
// A timeout or error here demotes the AR back to ABORT rather than retrying
// PrmEnd indefinitely — the resilient-connect policy in connect.go is what
// owns retrying from scratch.
func (m *Manager) runPrmEnd(ar *model.AR, station string) {
	ar.Lock()
	dest := ar.Device.IP
	arUUID := ar.ARUUID
	sessionKey := ar.SessionKey
	ar.Unlock()

	prev := ar.SetState(model.StatePrmSrv, model.NowMs())
	m.announce(station, prev, model.StatePrmSrv)

	seq := m.nextSeq()
	pdu := pnio.BuildPrmEndRequest(seq, uuid.New(), arUUID, sessionKey)

	ch := m.registerPending(seq)
	defer m.unregisterPending(seq)

	if err := m.transport.Send(dest, pdu); err != nil {
		m.failPrmEnd(ar, station, scadaerr.Wrap(scadaerr.IO, "send PrmEnd Request", err))
		return
	}

	select {
	case r := <-ch:
		status, err := pnio.ParseSimpleStatusResponse(r.payload[pnio.HeaderLen:])
		if err != nil || !status.OK() {
			m.failPrmEnd(ar, station, scadaerr.New(scadaerr.Protocol, "PrmEnd rejected"))
			return
		}
		prev := ar.SetState(model.StateReady, model.NowMs())
		m.announce(station, prev, model.StateReady)
		ar.TouchActivity(model.NowMs())
	case <-time.After(prmEndTimeout):
		m.failPrmEnd(ar, station, scadaerr.New(scadaerr.Timeout, "PrmEnd Response"))
	}
}

func (m *Manager) failPrmEnd(ar *model.AR, station string, err error) {
	ar.RecordError()
	prev := ar.SetState(model.StateAbort, model.NowMs())
	m.announce(station, prev, model.StateAbort)
	m.log.WithField("station", station).WithError(err).Warn("PrmEnd failed, AR aborted")
}
