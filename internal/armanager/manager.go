package armanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/pnio"
	"github.com/watertreat/scada-core/internal/registry"
	"github.com/watertreat/scada-core/internal/scadaerr"
)

// MaxARs caps the AR set size (spec §5 resource caps).
const MaxARs = 64

// StateChangeFunc is the optional callback announcing AR transitions.
type StateChangeFunc func(station string, prev, next model.ARState)

// Manager owns every configured AR, the session-key allocator, and the
// pending-request correlation table for in-flight RPCs. One lock covers the
// AR set and the allocator, matching spec §5(a); the per-AR state field may
// be read unlocked by the cyclic send thread via (*model.AR).StateUnsafe.
type Manager struct {
	mu             sync.Mutex
	ars            map[string]*model.AR // keyed by station name
	nextSessionKey uint16

	transport RPCTransport
	discovery DiscoveryHandle
	reg       registry.Registry

	controllerMAC [6]byte
	controllerIP  model.IPv4
	policy        ConnectPolicy

	onStateChange StateChangeFunc

	seqMu sync.Mutex
	seq   uint32

	pending   map[uint32]chan pendingResponse
	pendingMu sync.Mutex

	// inFlight prevents Process from launching a second connect or PrmEnd
	// goroutine for a station while one is already running.
	inFlight   map[string]bool
	inFlightMu sync.Mutex

	log *logrus.Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type pendingResponse struct {
	payload []byte
	from    model.IPv4
}

// ConnectPolicy is the §6 "resilient-connect options" configuration surface:
// max_attempts, base_delay_ms, max_delay_ms, and the three enable flags.
type ConnectPolicy struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	EnableNameVariations bool
	EnableMinimalConfig  bool
	EnableRediscovery    bool
}

// DefaultConnectPolicy matches the values this package used as hardcoded
// constants before the policy became configurable.
func DefaultConnectPolicy() ConnectPolicy {
	return ConnectPolicy{
		MaxAttempts:          maxTotalAttemptsDefault,
		BaseDelay:            baseBackoff,
		MaxDelay:             maxBackoff,
		EnableNameVariations: true,
		EnableMinimalConfig:  true,
		EnableRediscovery:    true,
	}
}

// Options bundles the collaborators a Manager needs at construction.
type Options struct {
	Transport     RPCTransport
	Discovery     DiscoveryHandle // optional; nil disables targeted re-identify
	Registry      registry.Registry
	ControllerMAC [6]byte
	ControllerIP  model.IPv4
	ConnectPolicy *ConnectPolicy // optional; nil uses DefaultConnectPolicy
	OnStateChange StateChangeFunc
	Logger        *logrus.Logger
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy := DefaultConnectPolicy()
	if opts.ConnectPolicy != nil {
		policy = *opts.ConnectPolicy
	}
	return &Manager{
		ars:            make(map[string]*model.AR),
		nextSessionKey: 1,
		transport:      opts.Transport,
		discovery:      opts.Discovery,
		reg:            opts.Registry,
		controllerMAC:  opts.ControllerMAC,
		controllerIP:   opts.ControllerIP,
		policy:         policy,
		onStateChange:  opts.OnStateChange,
		pending:        make(map[uint32]chan pendingResponse),
		inFlight:       make(map[string]bool),
		log:            logger.WithField("component", "armanager"),
		stopCh:         make(chan struct{}),
	}
}

// CreateAR registers a new AR in state INIT for dev.
func (m *Manager) CreateAR(dev model.DeviceConfig) (*model.AR, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ars[dev.StationName]; exists {
		return nil, scadaerr.New(scadaerr.AlreadyExists, "AR for station "+dev.StationName)
	}
	if len(m.ars) >= MaxARs {
		return nil, scadaerr.New(scadaerr.Full, fmt.Sprintf("AR set at capacity (%d)", MaxARs))
	}
	sessionKey := m.nextSessionKey
	m.nextSessionKey++
	ar := model.NewAR(dev, sessionKey)
	m.ars[dev.StationName] = ar
	if m.reg != nil {
		_ = m.reg.SetDeviceState(model.DeviceState{Station: dev.StationName, ARState: ar.State().String()})
	}
	m.log.WithFields(logrus.Fields{"station": dev.StationName, "session_key": sessionKey}).Info("AR created")
	return ar, nil
}

// DeleteAR tears down an AR's IOCR buffers and removes it from the set.
func (m *Manager) DeleteAR(station string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.ars[station]
	if !ok {
		return scadaerr.New(scadaerr.NotFound, "AR for station "+station)
	}
	ar.Lock()
	ar.IOCRs = nil
	ar.Unlock()
	delete(m.ars, station)
	return nil
}

// Get returns the AR for a station, if any.
func (m *Manager) Get(station string) (*model.AR, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.ars[station]
	return ar, ok
}

// Snapshot returns every AR currently known, for the cyclic exchange engine
// to iterate without holding the manager lock across the whole tick.
func (m *Manager) Snapshot() []*model.AR {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.AR, 0, len(m.ars))
	for _, ar := range m.ars {
		out = append(out, ar)
	}
	return out
}

func (m *Manager) announce(station string, prev, next model.ARState) {
	if prev == next {
		return
	}
	m.log.WithFields(logrus.Fields{"station": station, "from": prev, "to": next}).Info("AR state transition")
	if m.reg != nil {
		_ = m.reg.SetDeviceState(model.DeviceState{Station: station, ARState: next.String()})
	}
	if m.onStateChange != nil {
		m.onStateChange(station, prev, next)
	}
}

func (m *Manager) nextSeq() uint32 {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	m.seq++
	return m.seq
}

// registerPending opens a correlation slot for an outbound RPC's response;
// unregisterPending must always follow, typically via defer at the call site.
func (m *Manager) registerPending(seq uint32) chan pendingResponse {
	ch := make(chan pendingResponse, 1)
	m.pendingMu.Lock()
	m.pending[seq] = ch
	m.pendingMu.Unlock()
	return ch
}

func (m *Manager) unregisterPending(seq uint32) {
	m.pendingMu.Lock()
	delete(m.pending, seq)
	m.pendingMu.Unlock()
}

// ServeRPC runs the manager's inbound RPC dispatch loop: PType==2 datagrams
// are routed to whichever goroutine is waiting on that sequence number;
// PType==0 datagrams (device-originated Control Requests, i.e. AppReady) are
// handed to handleInboundControlRequest. It blocks until ctx is done or the
// transport returns an unrecoverable error, and is meant to run in its own
// goroutine for the lifetime of the controller process.
func (m *Manager) ServeRPC(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}
		payload, from, err := m.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.WithError(err).Warn("RPC receive error")
			continue
		}
		m.dispatchInbound(payload, from)
	}
}

func (m *Manager) dispatchInbound(payload []byte, from model.IPv4) {
	header, err := pnio.ParseRPCHeader(payload)
	if err != nil {
		m.log.WithError(err).Warn("dropped malformed RPC datagram")
		return
	}
	if header.PType == 2 { // response
		m.pendingMu.Lock()
		ch, found := m.pending[header.SequenceNumber]
		m.pendingMu.Unlock()
		if !found {
			return // late or unsolicited response; nothing waiting on it
		}
		select {
		case ch <- pendingResponse{payload: payload, from: from}:
		default:
		}
		return
	}
	m.handleInboundControlRequest(payload, from)
}

// Release performs an operator-requested best-effort release: RUN/READY/
// whatever state -> CLOSE. A missing or malformed Release response never
// blocks the transition (spec §4.1 failure semantics).
func (m *Manager) Release(station string) error {
	ar, ok := m.Get(station)
	if !ok {
		return scadaerr.New(scadaerr.NotFound, "AR for station "+station)
	}
	prev := ar.SetState(model.StateClose, model.NowMs())
	m.announce(station, prev, model.StateClose)

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	go m.bestEffortRelease(ctx, ar)
	return nil
}

// Stop shuts down the manager's background correlation bookkeeping. It does
// not own the transport's lifecycle; the caller closes that separately.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

const releaseTimeout = 2 * time.Second

// bestEffortRelease sends a Release Request and waits briefly for a response
// purely for logging purposes; the AR is already in CLOSE regardless of the
// outcome (spec §4.1 failure semantics).
func (m *Manager) bestEffortRelease(ctx context.Context, ar *model.AR) {
	ar.Lock()
	dest := ar.Device.IP
	arUUID := ar.ARUUID
	sessionKey := ar.SessionKey
	station := ar.Device.StationName
	ar.Unlock()

	seq := m.nextSeq()
	pdu := pnio.BuildReleaseRequest(seq, uuid.New(), arUUID, sessionKey)

	ch := m.registerPending(seq)
	defer m.unregisterPending(seq)

	if err := m.transport.Send(dest, pdu); err != nil {
		m.log.WithField("station", station).WithError(err).Warn("Release Request send failed, AR already closed locally")
		return
	}

	select {
	case <-ch:
		m.log.WithField("station", station).Debug("Release Response received")
	case <-ctx.Done():
		m.log.WithField("station", station).Debug("Release Response not received before timeout")
	}
}
