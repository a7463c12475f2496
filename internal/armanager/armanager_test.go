package armanager_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/watertreat/scada-core/internal/armanager"
	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/pnio"
)

// loopbackTransport is a fake RPCTransport that answers every Connect or
// PrmEnd Request with a canned success response, queued for the next Recv.
type loopbackTransport struct {
	inbox chan []byte
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{inbox: make(chan []byte, 8)}
}

func (t *loopbackTransport) Send(dest model.IPv4, payload []byte) error {
	header, err := pnio.ParseRPCHeader(payload)
	if err != nil {
		return err
	}
	switch header.Opnum {
	case pnio.OpConnect:
		resp := pnio.PNIOStatus{}.Marshal()
		ndr := pnio.NDRHeader{}.Marshal()
		body := append(append([]byte{}, resp...), ndr...)
		respHeader := header
		respHeader.PType = 2
		respHeader.FragmentLength = uint16(len(body))
		out := respHeader.Marshal()
		out = append(out, body...)
		t.inbox <- out
	case pnio.OpControl:
		status := pnio.PNIOStatus{}.Marshal()
		respHeader := header
		respHeader.PType = 2
		respHeader.FragmentLength = uint16(len(status))
		out := respHeader.Marshal()
		out = append(out, status...)
		t.inbox <- out
	case pnio.OpRelease:
		status := pnio.PNIOStatus{}.Marshal()
		respHeader := header
		respHeader.PType = 2
		respHeader.FragmentLength = uint16(len(status))
		out := respHeader.Marshal()
		out = append(out, status...)
		t.inbox <- out
	}
	return nil
}

func (t *loopbackTransport) Recv(ctx context.Context) ([]byte, model.IPv4, error) {
	select {
	case p := <-t.inbox:
		return p, model.IPv4{192, 168, 1, 50}, nil
	case <-ctx.Done():
		return nil, model.IPv4{}, ctx.Err()
	}
}

func (t *loopbackTransport) Close() error { return nil }

// nameVariationTransport rejects every Connect Request whose station name on
// the wire is not the lowercase variant of wantName, with the PNIO-CM
// station-name error (error_decode 0x81, block AR, field station_name) that
// pnio.AnalyzeError maps to RecoveryTryNameVariation. It accepts the request
// once the resilient-connect policy has advanced to StrategyLowercase, so it
// exercises the STANDARD -> LOWERCASE strategy promotion end to end.
type nameVariationTransport struct {
	inbox    chan []byte
	wantName string
	attempts int32
}

func newNameVariationTransport(wantName string) *nameVariationTransport {
	return &nameVariationTransport{inbox: make(chan []byte, 8), wantName: wantName}
}

func (t *nameVariationTransport) Send(dest model.IPv4, payload []byte) error {
	header, err := pnio.ParseRPCHeader(payload)
	if err != nil {
		return err
	}
	switch header.Opnum {
	case pnio.OpConnect:
		atomic.AddInt32(&t.attempts, 1)
		_, params, err := pnio.ParseConnectRequest(payload)
		if err != nil {
			return err
		}
		var status pnio.PNIOStatus
		if params.StationName == strings.ToLower(t.wantName) {
			status = pnio.PNIOStatus{}
		} else {
			status = pnio.PNIOStatus{ErrorCode: 0xa0, ErrorDecode: 0x81, ErrorCode1: 0x01, ErrorCode2: 0x01}
		}
		body := status.Marshal()
		if status.OK() {
			body = append(body, pnio.NDRHeader{}.Marshal()...)
		}
		respHeader := header
		respHeader.PType = 2
		respHeader.FragmentLength = uint16(len(body))
		out := respHeader.Marshal()
		out = append(out, body...)
		t.inbox <- out
	case pnio.OpControl, pnio.OpRelease:
		status := pnio.PNIOStatus{}.Marshal()
		respHeader := header
		respHeader.PType = 2
		respHeader.FragmentLength = uint16(len(status))
		out := respHeader.Marshal()
		out = append(out, status...)
		t.inbox <- out
	}
	return nil
}

func (t *nameVariationTransport) Recv(ctx context.Context) ([]byte, model.IPv4, error) {
	select {
	case p := <-t.inbox:
		return p, model.IPv4{192, 168, 1, 50}, nil
	case <-ctx.Done():
		return nil, model.IPv4{}, ctx.Err()
	}
}

func (t *nameVariationTransport) Close() error { return nil }

func testDevice(name string) model.DeviceConfig {
	return model.DeviceConfig{
		StationName: name,
		MAC:         [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		IP:          model.IPv4{192, 168, 1, 50},
		WatchdogMs:  300,
		Slots: []model.Slot{
			{Address: model.SlotAddress{Slot: 0, Subslot: 1}},
			{Address: model.SlotAddress{Slot: 1, Subslot: 1}, Direction: model.DirectionInput, CyclicLength: 4, ModuleIdent: 0x40, SubmoduleIdent: 0x41},
		},
	}
}

func TestCreateARRejectsDuplicateStation(t *testing.T) {
	m := armanager.NewManager(armanager.Options{Transport: newLoopbackTransport()})
	if _, err := m.CreateAR(testDevice("line-1")); err != nil {
		t.Fatalf("first CreateAR: %v", err)
	}
	if _, err := m.CreateAR(testDevice("line-1")); err == nil {
		t.Fatalf("expected AlreadyExists error for duplicate station")
	}
}

func TestConnectDrivesARToConnectCnf(t *testing.T) {
	transport := newLoopbackTransport()
	m := armanager.NewManager(armanager.Options{
		Transport:     transport,
		ControllerMAC: [6]byte{0x02, 0, 0, 0, 0, 1},
	})
	if _, err := m.CreateAR(testDevice("tank-1")); err != nil {
		t.Fatalf("CreateAR: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go m.ServeRPC(ctx)

	if err := m.Connect(ctx, "tank-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ar, ok := m.Get("tank-1")
	if !ok {
		t.Fatalf("AR not found after Connect")
	}
	if ar.State() != model.StateConnectCnf {
		t.Fatalf("state = %v, want CONNECT_CNF", ar.State())
	}
}

func TestProcessAdvancesConnectCnfToReady(t *testing.T) {
	transport := newLoopbackTransport()
	m := armanager.NewManager(armanager.Options{Transport: transport})
	ar, err := m.CreateAR(testDevice("tank-2"))
	if err != nil {
		t.Fatalf("CreateAR: %v", err)
	}
	ar.SetState(model.StateConnectCnf, model.NowMs())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go m.ServeRPC(ctx)

	deadline := time.After(2 * time.Second)
	for {
		m.Process(time.Now())
		if ar.State() == model.StateReady {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("AR never reached READY, stuck at %v", ar.State())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestReleaseTransitionsToCloseImmediately(t *testing.T) {
	transport := newLoopbackTransport()
	m := armanager.NewManager(armanager.Options{Transport: transport})
	ar, err := m.CreateAR(testDevice("tank-3"))
	if err != nil {
		t.Fatalf("CreateAR: %v", err)
	}
	ar.SetState(model.StateRun, model.NowMs())

	if err := m.Release("tank-3"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ar.State() != model.StateClose {
		t.Fatalf("state = %v, want CLOSE immediately after Release", ar.State())
	}
}

func TestAppReadyMovesReadyToRun(t *testing.T) {
	transport := newLoopbackTransport()
	m := armanager.NewManager(armanager.Options{Transport: transport})
	ar, err := m.CreateAR(testDevice("tank-4"))
	if err != nil {
		t.Fatalf("CreateAR: %v", err)
	}
	ar.SetState(model.StateReady, model.NowMs())

	req := pnio.BuildControlRequest(pnio.OpControl, 1, uuid.New(), ar.ARUUID, ar.SessionKey, pnio.ControlCommandAppReady)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go m.ServeRPC(ctx)

	transport.inbox <- req

	deadline := time.After(1 * time.Second)
	for ar.State() != model.StateRun {
		select {
		case <-deadline:
			t.Fatalf("AR never reached RUN after AppReady, stuck at %v", ar.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestConnectPromotesToLowercaseAndPersistsStationName drives the six-strategy
// resilient-connect sequence (spec §8 scenario 2): the device rejects the
// STANDARD station name with a PNIO-CM station-name error, the policy
// promotes straight to LOWERCASE, the device accepts that variant, and the
// AR's StationNameOnWire must end up holding the variant that actually won.
func TestConnectPromotesToLowercaseAndPersistsStationName(t *testing.T) {
	transport := newNameVariationTransport("TANK-5")
	policy := armanager.ConnectPolicy{
		MaxAttempts:          10,
		BaseDelay:            5 * time.Millisecond,
		MaxDelay:             20 * time.Millisecond,
		EnableNameVariations: true,
		EnableMinimalConfig:  true,
	}
	m := armanager.NewManager(armanager.Options{Transport: transport, ConnectPolicy: &policy})
	if _, err := m.CreateAR(testDevice("TANK-5")); err != nil {
		t.Fatalf("CreateAR: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go m.ServeRPC(ctx)

	if err := m.Connect(ctx, "TANK-5"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ar, ok := m.Get("TANK-5")
	if !ok {
		t.Fatalf("AR not found after Connect")
	}
	if ar.State() != model.StateConnectCnf {
		t.Fatalf("state = %v, want CONNECT_CNF", ar.State())
	}

	ar.Lock()
	nameOnWire := ar.StationNameOnWire
	ar.Unlock()
	if want := "tank-5"; nameOnWire != want {
		t.Fatalf("StationNameOnWire = %q, want %q (lowercase variant persisted after resilient retry)", nameOnWire, want)
	}

	if got := atomic.LoadInt32(&transport.attempts); got < 2 {
		t.Fatalf("expected at least 2 Connect attempts (STANDARD rejected, LOWERCASE accepted), got %d", got)
	}
}
