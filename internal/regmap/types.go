// Package regmap is the register map: the ordered collection of register
// and coil mappings that bridges Modbus addresses to PROFINET sensor/
// actuator data, downstream Modbus slaves, and (where wired) PID loop
// fields (spec §4.4).
package regmap

import "github.com/watertreat/scada-core/internal/model"

// RegisterType distinguishes the two 16-bit register address spaces.
type RegisterType uint8

const (
	Holding RegisterType = iota
	Input
)

func (t RegisterType) String() string {
	if t == Input {
		return "INPUT"
	}
	return "HOLDING"
}

// CoilType distinguishes the two single-bit address spaces, mirroring
// RegisterType for the coil collection (spec §4.4 dispatch table: FC 0x01
// reads COIL-type mappings, FC 0x02 reads DISCRETE_INPUT-type mappings).
type CoilType uint8

const (
	Coil CoilType = iota
	DiscreteInput
)

func (t CoilType) String() string {
	if t == DiscreteInput {
		return "DISCRETE_INPUT"
	}
	return "COIL"
}

// DataType is the on-the-wire encoding of one mapping's engineering value.
type DataType uint8

const (
	UInt16 DataType = iota
	Int16
	UInt32BE
	UInt32LE
	Int32BE
	Int32LE
	Float32BE
	Float32LE
	Float64BE
	Float64LE
	String
	Bit
)

// RegisterCount is the number of consecutive 16-bit registers a DataType
// occupies (spec §4.4 "register count (1 or 2)"; the 64-bit floats take 4).
// String reports 1: the mapping's Count field is not consulted, and
// EncodeValue/DecodeValue reject String.
func (t DataType) RegisterCount() int {
	switch t {
	case UInt32BE, UInt32LE, Int32BE, Int32LE, Float32BE, Float32LE:
		return 2
	case Float64BE, Float64LE:
		return 4
	default:
		return 1
	}
}

// DataSource names where a mapping's raw value comes from or goes to.
type DataSource uint8

const (
	ProfinetSensor DataSource = iota
	ProfinetActuator
	PIDSetpoint
	PIDPV
	PIDCV
	ModbusClient
)

// Linkage carries the source-specific keys a mapping resolves through
// (spec §4.4 "linkage keys for that source").
type Linkage struct {
	Station         string          // PROFINET_SENSOR / PROFINET_ACTUATOR
	Slot            model.SlotAddress
	DownstreamSlave string          // MODBUS_CLIENT
	RemoteAddr      uint16          // MODBUS_CLIENT
	PIDLoopID       string          // PID_SETPOINT / PID_PV / PID_CV
}

// Scaling is the linear raw<->engineering transform (spec §4.4).
type Scaling struct {
	Enabled bool
	RawMin  float64
	RawMax  float64
	EngMin  float64
	EngMax  float64
	Offset  float64
}

// ToEngineering applies `eng = (raw-raw_min)/(raw_max-raw_min)*(eng_max-eng_min)+eng_min+offset`,
// guarded against a zero raw range (spec §4.4).
func (s Scaling) ToEngineering(raw float64) float64 {
	if !s.Enabled || s.RawMax == s.RawMin {
		return raw
	}
	return (raw-s.RawMin)/(s.RawMax-s.RawMin)*(s.EngMax-s.EngMin) + s.EngMin + s.Offset
}

// ToRaw reverses ToEngineering for the write path.
func (s Scaling) ToRaw(eng float64) float64 {
	if !s.Enabled || s.EngMax == s.EngMin {
		return eng
	}
	return (eng-s.Offset-s.EngMin)/(s.EngMax-s.EngMin)*(s.RawMax-s.RawMin) + s.RawMin
}

// RegisterMapping is one entry in the register collection.
type RegisterMapping struct {
	Address      uint16
	RegisterType RegisterType
	DataType     DataType
	Count        uint8
	Source       DataSource
	Linkage      Linkage
	Scaling      Scaling
	ReadOnly     bool
	Enabled      bool
	Description  string
}

// CoilMapping is one entry in the coil collection: analogous to
// RegisterMapping but carrying the on/off command values a write drives
// (spec §4.4 "analogous with on/off command values").
type CoilMapping struct {
	Address     uint16
	CoilType    CoilType
	Source      DataSource
	Linkage     Linkage
	OnValue     float64
	OffValue    float64
	ReadOnly    bool
	Enabled     bool
	Description string
}
