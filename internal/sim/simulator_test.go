package sim_test

import (
	"testing"
	"time"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/registry"
	"github.com/watertreat/scada-core/internal/sim"
)

func TestTickWritesSensorWithinConfiguredBounds(t *testing.T) {
	reg := registry.NewStore()
	s := sim.New(sim.Options{Registry: reg})
	key := model.StationSlot{Station: "sim-tank-1", Slot: model.SlotAddress{Slot: 1, Subslot: 1}}
	s.AddSignal(sim.SignalConfig{
		Key:       key,
		Bias:      7,
		Amplitude: 2,
		Period:    10 * time.Second,
		Min:       0,
		Max:       14,
		AlarmLow:  1,
		AlarmHigh: 13,
	}, 42)

	now := time.Now()
	s.Tick(now)

	rec, err := reg.GetSensor(key)
	if err != nil {
		t.Fatalf("GetSensor: %v", err)
	}
	if rec.Value < 0 || rec.Value > 14 {
		t.Fatalf("value %v outside configured [0,14] clamp", rec.Value)
	}
	if rec.IOPS != sim.IOPSGood {
		t.Fatalf("IOPS = 0x%x, want 0x%x", rec.IOPS, sim.IOPSGood)
	}
}

func TestTickReportsUncertainOutsideAlarmBand(t *testing.T) {
	reg := registry.NewStore()
	s := sim.New(sim.Options{Registry: reg})
	key := model.StationSlot{Station: "sim-tank-1", Slot: model.SlotAddress{Slot: 1, Subslot: 1}}
	s.AddSignal(sim.SignalConfig{
		Key:       key,
		Bias:      0, // sits below the low alarm limit with no amplitude/noise/trend to move it
		Min:       -100,
		Max:       100,
		AlarmLow:  1,
		AlarmHigh: 13,
	}, 7)

	s.Tick(time.Now())

	rec, err := reg.GetSensor(key)
	if err != nil {
		t.Fatalf("GetSensor: %v", err)
	}
	if rec.Quality != model.QualityUncertain {
		t.Fatalf("quality = %v, want UNCERTAIN for a value below the alarm band", rec.Quality)
	}
}

func TestActuatorLinkedSignalRespondsToCommand(t *testing.T) {
	reg := registry.NewStore()
	s := sim.New(sim.Options{Registry: reg})
	sensorKey := model.StationSlot{Station: "sim-tank-1", Slot: model.SlotAddress{Slot: 1, Subslot: 1}}
	pumpKey := model.StationSlot{Station: "sim-tank-1", Slot: model.SlotAddress{Slot: 9, Subslot: 1}}

	s.AddSignal(sim.SignalConfig{
		Key:            sensorKey,
		Bias:           5,
		Min:            0,
		Max:            1000,
		ActuatorKey:    &pumpKey,
		ActuatorEffect: 100, // large effect so the boost dominates over the tick's elapsed seconds
	}, 1)

	start := time.Now()
	s.Tick(start)
	recOff, err := reg.GetSensor(sensorKey)
	if err != nil {
		t.Fatalf("GetSensor: %v", err)
	}

	if err := reg.UpdateActuator(pumpKey, model.ActuatorRecord{Command: model.ActuatorOn, PWMDuty: 255}); err != nil {
		t.Fatalf("UpdateActuator: %v", err)
	}
	s.Tick(start.Add(2 * time.Second))
	recOn, err := reg.GetSensor(sensorKey)
	if err != nil {
		t.Fatalf("GetSensor: %v", err)
	}

	if recOn.Value <= recOff.Value {
		t.Fatalf("expected actuator-on sample (%v) to exceed actuator-off sample (%v)", recOn.Value, recOff.Value)
	}
}

func TestStartStopDrivesTickerWithoutDeadlock(t *testing.T) {
	reg := registry.NewStore()
	s := sim.New(sim.Options{Registry: reg, TickPeriod: 5 * time.Millisecond})
	key := model.StationSlot{Station: "sim-tank-2", Slot: model.SlotAddress{Slot: 1, Subslot: 1}}
	s.AddSignal(sim.SignalConfig{Key: key, Bias: 3, Min: 0, Max: 10}, 99)

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if _, err := reg.GetSensor(key); err != nil {
		t.Fatalf("expected at least one tick to have populated the registry: %v", err)
	}
}
