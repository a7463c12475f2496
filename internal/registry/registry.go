// Package registry is the shared store of current sensor readings and
// commanded actuator outputs that the PROFINET cyclic exchange and the
// Modbus gateway both consume. The core owns one Registry; ARs and the
// gateway hold a non-owning handle to it (spec §9).
package registry

import (
	"sync"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/scadaerr"
)

// Registry is the collaborator interface the core consumes. A production
// deployment backs it with the in-memory Store below; tests and the
// simulation mode (internal/sim) can supply their own implementation.
type Registry interface {
	GetSensor(key model.StationSlot) (model.SensorRecord, error)
	GetActuator(key model.StationSlot) (model.ActuatorRecord, error)
	UpdateSensor(key model.StationSlot, rec model.SensorRecord) error
	UpdateActuator(key model.StationSlot, rec model.ActuatorRecord) error
	SetDeviceState(st model.DeviceState) error
	ListDevices() []model.DeviceState
}

// Store is the default in-memory Registry implementation: one lock guarding
// three maps, matching the single-lock-per-collaborator discipline spec §5
// asks for elsewhere in the system.
type Store struct {
	mu        sync.RWMutex
	sensors   map[model.StationSlot]model.SensorRecord
	actuators map[model.StationSlot]model.ActuatorRecord
	devices   map[string]model.DeviceState
}

func NewStore() *Store {
	return &Store{
		sensors:   make(map[model.StationSlot]model.SensorRecord),
		actuators: make(map[model.StationSlot]model.ActuatorRecord),
		devices:   make(map[string]model.DeviceState),
	}
}

func (s *Store) GetSensor(key model.StationSlot) (model.SensorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sensors[key]
	if !ok {
		return model.SensorRecord{}, scadaerr.New(scadaerr.NotFound, "sensor "+key.Station)
	}
	return rec, nil
}

func (s *Store) GetActuator(key model.StationSlot) (model.ActuatorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.actuators[key]
	if !ok {
		return model.ActuatorRecord{}, scadaerr.New(scadaerr.NotFound, "actuator "+key.Station)
	}
	return rec, nil
}

func (s *Store) UpdateSensor(key model.StationSlot, rec model.SensorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[key] = rec
	return nil
}

func (s *Store) UpdateActuator(key model.StationSlot, rec model.ActuatorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actuators[key] = rec
	return nil
}

func (s *Store) SetDeviceState(st model.DeviceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[st.Station] = st
	return nil
}

func (s *Store) ListDevices() []model.DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DeviceState, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}
