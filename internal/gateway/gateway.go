// Package gateway is the Modbus server dispatch and register-map bridge:
// it decodes function codes, resolves addresses against the register map,
// and routes reads/writes to the registry, PID loops (where wired), or
// downstream Modbus slaves (spec §4.4).
package gateway

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watertreat/scada-core/internal/modbus"
	"github.com/watertreat/scada-core/internal/regmap"
	"github.com/watertreat/scada-core/internal/registry"
)

// Transport tags which wire transport delivered a request, so one
// modbus.RequestHandler (from HandlerFor) can serve both the TCP and RTU servers without
// either side faking the other's context (spec's §9 RTU-vs-TCP handler
// sharing decision).
type Transport uint8

const (
	TransportTCP Transport = iota
	TransportRTU
)

func (t Transport) String() string {
	if t == TransportRTU {
		return "RTU"
	}
	return "TCP"
}

// Function-code quantity limits (spec §4.4).
const (
	maxReadBits          = 2000
	maxReadRegisters     = 125
	maxWriteBits         = 1968
	maxWriteRegisters    = 123
)

// Stats are the gateway-level totals spec §6 asks for ("gateway totals for
// requests and errors; downstream online count").
type Stats struct {
	TotalRequests uint64
	TotalErrors   uint64
}

// Gateway owns the register map pointer, downstream client set, and stats
// under one lock (spec §5: "Gateway has one lock covering downstream
// clients, stats, and register-map pointer").
type Gateway struct {
	mu         sync.Mutex
	regmap     *regmap.RegisterMap
	reg        registry.Registry
	pid        PIDPort
	downstream map[string]*DownstreamClient
	stats      Stats
	log        *logrus.Entry
}

// Options bundles Gateway's collaborators at construction.
type Options struct {
	RegisterMap *regmap.RegisterMap
	Registry    registry.Registry
	PID         PIDPort // optional; nil when no PID subsystem is wired
	Logger      *logrus.Logger
}

func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gateway{
		regmap:     opts.RegisterMap,
		reg:        opts.Registry,
		pid:        opts.PID,
		downstream: make(map[string]*DownstreamClient),
		log:        logger.WithField("component", "gateway"),
	}
}

// HandlerFor returns a modbus.RequestHandler bound to transport t, for
// wiring into a modbus.TCPServer or modbus.RTUServer.
func (g *Gateway) HandlerFor(t Transport) modbus.RequestHandler {
	return func(unitID byte, pdu []byte) []byte {
		return g.Dispatch(t, unitID, pdu)
	}
}

// AddDownstream registers a downstream client under name so the poller
// tick will drive it.
func (g *Gateway) AddDownstream(name string, dc *DownstreamClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downstream[name] = dc
}

// Stats returns a snapshot of the gateway's request/error totals.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// DownstreamOnlineCount reports how many downstream clients are currently
// connected, for the telemetry surface.
func (g *Gateway) DownstreamOnlineCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, dc := range g.downstream {
		if dc.Connected() {
			count++
		}
	}
	return count
}

// Dispatch decodes one request PDU and routes it by function code,
// incrementing total_requests under the gateway lock (spec §4.4 "Server
// dispatch").
func (g *Gateway) Dispatch(t Transport, unitID byte, pdu []byte) []byte {
	g.mu.Lock()
	g.stats.TotalRequests++
	g.mu.Unlock()

	if len(pdu) < 1 {
		g.countError()
		return modbus.BuildExceptionPDU(0, modbus.ExcIllegalFunction)
	}
	fc := modbus.FunctionCode(pdu[0])

	var resp []byte
	switch fc {
	case modbus.FuncReadCoils:
		resp = g.readBits(pdu, regmap.Coil)
	case modbus.FuncReadDiscreteInputs:
		resp = g.readBits(pdu, regmap.DiscreteInput)
	case modbus.FuncReadHoldingRegisters:
		resp = g.readRegisters(pdu, regmap.Holding)
	case modbus.FuncReadInputRegisters:
		resp = g.readRegisters(pdu, regmap.Input)
	case modbus.FuncWriteSingleCoil:
		resp = g.writeSingleCoil(pdu)
	case modbus.FuncWriteSingleRegister:
		resp = g.writeSingleRegister(pdu)
	case modbus.FuncWriteMultipleCoils:
		resp = g.writeMultipleCoils(pdu)
	case modbus.FuncWriteMultipleRegisters:
		resp = g.writeMultipleRegisters(pdu)
	default:
		resp = modbus.BuildExceptionPDU(fc, modbus.ExcIllegalFunction)
	}

	if _, _, isExc := modbus.IsException(resp); isExc {
		g.countError()
	}
	return resp
}

func (g *Gateway) countError() {
	g.mu.Lock()
	g.stats.TotalErrors++
	g.mu.Unlock()
}

// Tick drives the downstream poller/reconnect state machine for every
// registered client. The gateway lock is held only to snapshot the client
// set; each client's own Tick runs unlocked so a slow poll never blocks
// request dispatch (spec §5 locking discipline).
func (g *Gateway) Tick(now time.Time) {
	g.mu.Lock()
	clients := make([]*DownstreamClient, 0, len(g.downstream))
	for _, dc := range g.downstream {
		clients = append(clients, dc)
	}
	g.mu.Unlock()

	for _, dc := range clients {
		dc.Tick(now)
	}
}
