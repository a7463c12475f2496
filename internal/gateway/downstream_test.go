package gateway_test

import (
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watertreat/scada-core/internal/gateway"
	"github.com/watertreat/scada-core/internal/modbus"
)

// freeTCPPort finds an ephemeral port by briefly binding and releasing it,
// mirroring the modbus package's own test helper.
func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// downstreamFailing toggles a modbus.RequestHandler between echoing back
// holding-register reads/writes and rejecting every request with
// SLAVE_DEVICE_FAILURE, so a test can flip a live slave from healthy to
// failing without restarting the listener.
type downstreamFailing struct {
	failing atomic.Bool
}

func (f *downstreamFailing) handle(unitID byte, pdu []byte) []byte {
	if len(pdu) == 0 {
		return modbus.BuildExceptionPDU(0, modbus.ExcIllegalFunction)
	}
	fc := modbus.FunctionCode(pdu[0])
	if f.failing.Load() {
		return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
	}
	switch fc {
	case modbus.FuncReadHoldingRegisters:
		qty := int(pdu[3])<<8 | int(pdu[4])
		resp := make([]byte, 2+2*qty)
		resp[0] = byte(modbus.FuncReadHoldingRegisters)
		resp[1] = byte(2 * qty)
		for i := 0; i < qty; i++ {
			resp[3+2*i] = byte(100 + i)
		}
		return resp
	case modbus.FuncWriteSingleRegister:
		return append([]byte{}, pdu...)
	default:
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalFunction)
	}
}

func newDownstreamHarness(t *testing.T) (*downstreamFailing, *modbus.TCPServer, *gateway.DownstreamClient) {
	t.Helper()
	port := freeTCPPort(t)
	slave := &downstreamFailing{}
	srv := modbus.NewTCPServer(modbus.TCPConfig{BindAddress: "127.0.0.1", Port: port}, slave.handle, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	client := modbus.NewTCPClient("127.0.0.1:"+strconv.Itoa(port), 0x01)
	dc := gateway.NewDownstreamClient(gateway.DownstreamConfig{
		Name:           "rtu-1",
		UnitID:         0x01,
		StartAddr:      100,
		Quantity:       2,
		PollIntervalMs: 10,
		Enabled:        true,
	}, client)
	return slave, srv, dc
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestDownstreamClientPollsAndCachesThroughReconnect reproduces spec §8
// scenario 6: a freshly wired downstream client dials lazily on its first
// Tick, polls holding registers on its configured interval, and answers
// MODBUS_CLIENT reads from the resulting cache.
func TestDownstreamClientPollsAndCachesThroughReconnect(t *testing.T) {
	_, _, dc := newDownstreamHarness(t)

	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return dc.Connected()
	})

	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		v, err := dc.CachedValue(100)
		return err == nil && v == 100
	})

	v, err := dc.CachedValue(101)
	require.NoError(t, err)
	assert.Equal(t, float64(101), v)

	_, err = dc.CachedValue(999)
	assert.Error(t, err, "an address outside the polled range must not be served from cache")
}

// TestDownstreamClientWriteRemoteForwardsToSlave checks that a MODBUS_CLIENT
// write is forwarded as a real write request to the named downstream slave
// (spec §4.4), not merely absorbed into the local cache.
func TestDownstreamClientWriteRemoteForwardsToSlave(t *testing.T) {
	_, _, dc := newDownstreamHarness(t)
	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return dc.Connected()
	})

	require.NoError(t, dc.WriteRemote(100, 42))
}

// TestDownstreamClientDisconnectsAfterThreeConsecutiveErrors covers spec
// §4.4's cache policy: a slave with >=3 consecutive errors transitions to
// disconnected, and cached reads start failing once it does.
func TestDownstreamClientDisconnectsAfterThreeConsecutiveErrors(t *testing.T) {
	slave, _, dc := newDownstreamHarness(t)

	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return dc.Connected()
	})

	slave.failing.Store(true)
	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return !dc.Connected()
	})

	_, err := dc.CachedValue(100)
	assert.Error(t, err, "reads must fail once the slave is marked disconnected")
}

// TestDownstreamClientReconnectNotAttemptedBeforeBackoff covers the other
// half of spec §4.4's policy: "reconnection is attempted no sooner than 5s
// after the last error." Immediately after tripping the disconnect
// threshold, repeated ticks must not bring the slave back online.
func TestDownstreamClientReconnectNotAttemptedBeforeBackoff(t *testing.T) {
	slave, _, dc := newDownstreamHarness(t)

	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return dc.Connected()
	})

	slave.failing.Store(true)
	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return !dc.Connected()
	})

	slave.failing.Store(false)
	for i := 0; i < 20; i++ {
		dc.Tick(time.Now())
		require.False(t, dc.Connected(), "must not reconnect before the 5s backoff elapses")
		time.Sleep(10 * time.Millisecond)
	}
}

// TestDownstreamClientReconnectsAfterBackoff confirms the slave does come
// back once the 5s backoff has elapsed and the next read finds it healthy.
func TestDownstreamClientReconnectsAfterBackoff(t *testing.T) {
	slave, _, dc := newDownstreamHarness(t)

	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return dc.Connected()
	})

	slave.failing.Store(true)
	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		return !dc.Connected()
	})
	slave.failing.Store(false)

	waitUntil(t, 7*time.Second, func() bool {
		dc.Tick(time.Now())
		return dc.Connected()
	})

	waitUntil(t, time.Second, func() bool {
		dc.Tick(time.Now())
		v, err := dc.CachedValue(100)
		return err == nil && v == 100
	})
}
