package regmap

import (
	"sync"

	"github.com/watertreat/scada-core/internal/scadaerr"
)

// initialCapacity and the geometric growth factor match spec §6's resource
// caps: "Register map grows geometrically (x2) from an initial capacity of
// 256 for both registers and coils."
const initialCapacity = 256

// RegisterMap is the ordered collection of register and coil mappings. One
// lock covers both slices, per spec §5's locking discipline ("Register Map
// has one lock covering registers, coils, and capacity vectors").
type RegisterMap struct {
	mu               sync.RWMutex
	registers        []RegisterMapping
	coils            []CoilMapping
	strictAddressing bool
}

func New() *RegisterMap {
	return &RegisterMap{
		registers: make([]RegisterMapping, 0, initialCapacity),
		coils:     make([]CoilMapping, 0, initialCapacity),
	}
}

// SetStrictAddressing toggles §9's open-question resolution: by default an
// unmapped address within a requested range is lenient (reads as zero, no
// exception); when strict is enabled it instead raises ILLEGAL_DATA_ADDRESS.
func (m *RegisterMap) SetStrictAddressing(strict bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strictAddressing = strict
}

func (m *RegisterMap) StrictAddressing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strictAddressing
}

// AddRegister appends a mapping, enforcing the (address, register_type)
// uniqueness invariant (spec §4.4). Growth beyond the current slice
// capacity happens via Go's native append doubling, the idiomatic
// equivalent of the source's explicit x2 geometric-growth vectors.
func (m *RegisterMap) AddRegister(reg RegisterMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.registers {
		if existing.Address == reg.Address && existing.RegisterType == reg.RegisterType {
			return scadaerr.New(scadaerr.AlreadyExists, "duplicate register mapping")
		}
	}
	m.registers = append(m.registers, reg)
	return nil
}

func (m *RegisterMap) AddCoil(coil CoilMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.coils {
		if existing.Address == coil.Address && existing.CoilType == coil.CoilType {
			return scadaerr.New(scadaerr.AlreadyExists, "duplicate coil mapping")
		}
	}
	m.coils = append(m.coils, coil)
	return nil
}

// FindRegister returns the mapping at addr of the given type, if any.
func (m *RegisterMap) FindRegister(addr uint16, rt RegisterType) (RegisterMapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, reg := range m.registers {
		if reg.Address == addr && reg.RegisterType == rt {
			return reg, true
		}
	}
	return RegisterMapping{}, false
}

func (m *RegisterMap) FindCoil(addr uint16, ct CoilType) (CoilMapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, coil := range m.coils {
		if coil.Address == addr && coil.CoilType == ct {
			return coil, true
		}
	}
	return CoilMapping{}, false
}

// UpdateRegister overwrites the mapping with the same (Address,
// RegisterType) in place. Returns NotFound if no such mapping exists.
func (m *RegisterMap) UpdateRegister(reg RegisterMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.registers {
		if m.registers[i].Address == reg.Address && m.registers[i].RegisterType == reg.RegisterType {
			m.registers[i] = reg
			return nil
		}
	}
	return scadaerr.New(scadaerr.NotFound, "register mapping not found")
}

// Registers returns a copy of the register collection for iteration/telemetry.
func (m *RegisterMap) Registers() []RegisterMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RegisterMapping, len(m.registers))
	copy(out, m.registers)
	return out
}

// Coils returns a copy of the coil collection for iteration/telemetry.
func (m *RegisterMap) Coils() []CoilMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CoilMapping, len(m.coils))
	copy(out, m.coils)
	return out
}

// Counts returns (holding, input, coil) mapping counts for the telemetry
// surface (spec §6 "register-map counts by type").
func (m *RegisterMap) Counts() (holding, input, coils int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, reg := range m.registers {
		if reg.RegisterType == Holding {
			holding++
		} else {
			input++
		}
	}
	return holding, input, len(m.coils)
}
