package cyclic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/watertreat/scada-core/internal/armanager"
	"github.com/watertreat/scada-core/internal/cyclic"
	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/registry"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  [][]byte
	inbox chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan []byte, 8)}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), frame...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case p := <-f.inbox:
		return p, nil
	case <-time.After(30 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func runningAR(station string) *model.AR {
	dev := model.DeviceConfig{
		StationName: station,
		MAC:         [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		IP:          model.IPv4{10, 0, 0, 5},
		WatchdogMs:  1000,
		Slots: []model.Slot{
			{Address: model.SlotAddress{Slot: 0, Subslot: 1}},
			{Address: model.SlotAddress{Slot: 1, Subslot: 1}, Direction: model.DirectionOutput, CyclicLength: 4},
		},
	}
	ar := model.NewAR(dev, 1)
	ar.SetState(model.StateRun, model.NowMs())
	ar.IOCRs = []*model.IOCR{
		{
			Direction:     model.DirectionOutput,
			FrameID:       0x8001,
			PayloadLength: 4,
			Objects: []model.IODataObject{
				{Slot: model.SlotAddress{Slot: 1, Subslot: 1}, DataOffset: 0, DataLength: 4},
			},
		},
	}
	return ar
}

func TestEngineSendTickEncodesActuatorCommand(t *testing.T) {
	mgr := armanager.NewManager(armanager.Options{Transport: fakeRPCTransport{}})
	ar := runningAR("line-1")
	mgr.CreateAR(ar.Device) // registers a fresh AR; we overwrite its state/IOCRs below via Get
	registered, _ := mgr.Get("line-1")
	registered.SetState(model.StateRun, model.NowMs())
	registered.IOCRs = ar.IOCRs

	reg := registry.NewStore()
	if err := reg.UpdateActuator(model.StationSlot{Station: "line-1", Slot: model.SlotAddress{Slot: 1, Subslot: 1}}, model.ActuatorRecord{Command: model.ActuatorOn, PWMDuty: 50}); err != nil {
		t.Fatalf("UpdateActuator: %v", err)
	}

	transport := newFakeTransport()
	eng := cyclic.New(cyclic.Options{
		Manager:       mgr,
		Registry:      reg,
		Transport:     transport,
		ControllerMAC: [6]byte{0x02, 0, 0, 0, 0, 1},
		CyclePeriod:   10 * time.Millisecond,
	})
	eng.Start()
	defer eng.Stop()

	time.Sleep(60 * time.Millisecond)

	frame := transport.lastSent()
	if frame == nil {
		t.Fatalf("expected at least one cyclic output frame to be sent")
	}
	if len(frame) < 60 {
		t.Fatalf("frame length = %d, want >= 60 (Ethernet minimum)", len(frame))
	}
	// dst MAC, src MAC, ethertype, frame id, then payload: command byte, pwm byte
	if frame[16] != byte(model.ActuatorOn) {
		t.Fatalf("command byte = %d, want %d (ON)", frame[16], model.ActuatorOn)
	}
	if frame[17] != 50 {
		t.Fatalf("pwm duty byte = %d, want 50", frame[17])
	}
}

// fakeRPCTransport satisfies armanager.RPCTransport for tests that never
// exercise the AR's RPC lifecycle, only its state/IOCR fields.
type fakeRPCTransport struct{}

func (fakeRPCTransport) Send(model.IPv4, []byte) error { return nil }
func (fakeRPCTransport) Recv(ctx context.Context) ([]byte, model.IPv4, error) {
	<-ctx.Done()
	return nil, model.IPv4{}, ctx.Err()
}
func (fakeRPCTransport) Close() error { return nil }
