package armanager

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/pnio"
)

// findByARUUID is a linear scan over the AR set; the set is capped at
// MaxARs (64), so this is cheaper than maintaining a second index that only
// the rare inbound Control Request path would use.
func (m *Manager) findByARUUID(arUUID uuid.UUID) (station string, ar *model.AR, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, a := range m.ars {
		a.Lock()
		match := a.ARUUID == arUUID
		a.Unlock()
		if match {
			return name, a, true
		}
	}
	return "", nil, false
}

// handleInboundControlRequest dispatches a device-originated Control Request.
// The only one this core acts on is AppReady: the device announces its
// parameterization is complete and the AR may move READY -> RUN (spec §4.1).
// PrmEnd acknowledgements and anything else are answered but otherwise
// ignored; the core drives PrmEnd itself rather than waiting for an
// acknowledgement to do anything.
func (m *Manager) handleInboundControlRequest(payload []byte, from model.IPv4) {
	req, err := pnio.ParseControlRequest(payload)
	if err != nil {
		m.log.WithError(err).Warn("dropped malformed Control Request")
		return
	}

	station, ar, ok := m.findByARUUID(req.Control.ARUUID)
	if !ok {
		m.log.WithField("from", from).Warn("Control Request for unknown AR UUID")
		return
	}

	resp := pnio.BuildControlResponse(req.Header.SequenceNumber, req.Header.ActivityUUID, req.Control.ARUUID, req.Control.SessionKey, req.Control.ControlCommand)
	if err := m.transport.Send(from, resp); err != nil {
		m.log.WithField("station", station).WithError(err).Warn("Control Response send failed")
	}

	if req.Control.ControlCommand != pnio.ControlCommandAppReady {
		return
	}

	ar.Lock()
	sessionMatches := ar.SessionKey == req.Control.SessionKey
	currentState := ar.StateUnsafe()
	ar.Unlock()
	if !sessionMatches {
		m.log.WithFields(logrus.Fields{"station": station, "got_session_key": req.Control.SessionKey}).Warn("AppReady session key mismatch, ignored")
		return
	}
	if currentState != model.StateReady {
		m.log.WithFields(logrus.Fields{"station": station, "state": currentState}).Debug("AppReady received outside READY, ignored")
		return
	}

	prev := ar.SetState(model.StateRun, model.NowMs())
	ar.TouchActivity(model.NowMs())
	m.announce(station, prev, model.StateRun)
}
