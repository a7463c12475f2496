package gateway

import (
	"sync"
	"time"

	"github.com/watertreat/scada-core/internal/modbus"
	"github.com/watertreat/scada-core/internal/scadaerr"
)

// maxConsecutiveErrors and reconnectBackoff implement spec §4.4's
// downstream cache policy: "A slave with >=3 consecutive errors transitions
// to disconnected; reconnection is attempted no sooner than 5s after the
// last error."
const (
	maxConsecutiveErrors = 3
	reconnectBackoff     = 5 * time.Second
	defaultPollTimeout   = 1 * time.Second
)

// DownstreamConfig is one configured downstream Modbus slave to poll.
type DownstreamConfig struct {
	Name           string
	UnitID         byte
	StartAddr      uint16
	Quantity       uint16
	PollIntervalMs uint32
	Enabled        bool
}

// DownstreamClient wraps a modbus.Client with the per-slave cache and
// reconnect state-machine spec §4.4 describes. One lock covers the cache
// and counters; the poll itself runs unlocked per spec §5's locking
// discipline ("during a downstream poll the gateway lock is released, the
// poll runs unlocked").
type DownstreamClient struct {
	cfg    DownstreamConfig
	client *modbus.Client

	mu               sync.Mutex
	connected        bool
	consecutiveErrs  int
	lastErrorAt      time.Time
	lastPollAt       time.Time
	cache            map[uint16]uint16
	cacheValidSince  time.Time
}

func NewDownstreamClient(cfg DownstreamConfig, client *modbus.Client) *DownstreamClient {
	return &DownstreamClient{
		cfg:    cfg,
		client: client,
		cache:  make(map[uint16]uint16),
	}
}

func (dc *DownstreamClient) Connected() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.connected
}

// CachedValue returns the last polled register value at addr, or an error
// if the slave is disconnected or addr has never been cached (the gateway
// read path treats this the same as any other data-source error, answering
// SLAVE_DEVICE_FAILURE).
func (dc *DownstreamClient) CachedValue(addr uint16) (float64, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if !dc.connected {
		return 0, scadaerr.New(scadaerr.NotConnected, "downstream slave offline")
	}
	v, ok := dc.cache[addr]
	if !ok {
		return 0, scadaerr.New(scadaerr.NotFound, "address not in downstream poll range")
	}
	return float64(v), nil
}

// WriteRemote forwards a write to the downstream slave (spec §4.4 "a
// MODBUS_CLIENT write is forwarded to the named downstream slave").
func (dc *DownstreamClient) WriteRemote(addr uint16, value float64) error {
	body := []byte{byte(addr >> 8), byte(addr), byte(uint16(value) >> 8), byte(uint16(value))}
	_, err := dc.client.Transact(modbus.FuncWriteSingleRegister, body, defaultPollTimeout)
	if err != nil {
		dc.recordFailure()
		return err
	}
	return nil
}

// Tick runs the poller step for one gateway housekeeping cycle: attempt
// reconnect if disconnected and past the backoff window, otherwise poll if
// due (spec §4.4 "Downstream poller").
func (dc *DownstreamClient) Tick(now time.Time) {
	if !dc.cfg.Enabled {
		return
	}
	dc.mu.Lock()
	connected := dc.connected
	dueForReconnect := !connected && now.Sub(dc.lastErrorAt) >= reconnectBackoff
	duePoll := connected && now.Sub(dc.lastPollAt) >= time.Duration(dc.cfg.PollIntervalMs)*time.Millisecond
	dc.mu.Unlock()

	if dueForReconnect {
		if err := dc.client.Connect(defaultPollTimeout); err != nil {
			dc.recordFailure()
			return
		}
		dc.mu.Lock()
		dc.connected = true
		dc.consecutiveErrs = 0
		dc.mu.Unlock()
		return
	}
	if duePoll {
		dc.poll(now)
	}
}

func (dc *DownstreamClient) poll(now time.Time) {
	body := []byte{byte(dc.cfg.StartAddr >> 8), byte(dc.cfg.StartAddr), byte(dc.cfg.Quantity >> 8), byte(dc.cfg.Quantity)}
	resp, err := dc.client.Transact(modbus.FuncReadHoldingRegisters, body, defaultPollTimeout)
	if err != nil {
		dc.recordFailure()
		return
	}
	if _, _, isExc := modbus.IsException(resp); isExc || len(resp) < 2 {
		dc.recordFailure()
		return
	}

	byteCount := int(resp[1])
	if len(resp) < 2+byteCount {
		dc.recordFailure()
		return
	}
	words := make([]uint16, byteCount/2)
	for i := range words {
		words[i] = uint16(resp[2+2*i])<<8 | uint16(resp[2+2*i+1])
	}

	dc.mu.Lock()
	for i, w := range words {
		dc.cache[dc.cfg.StartAddr+uint16(i)] = w
	}
	dc.cacheValidSince = now
	dc.lastPollAt = now
	dc.consecutiveErrs = 0
	dc.mu.Unlock()
}

func (dc *DownstreamClient) recordFailure() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.consecutiveErrs++
	dc.lastErrorAt = time.Now()
	if dc.consecutiveErrs >= maxConsecutiveErrors {
		dc.connected = false
		dc.client.Close()
	}
}
