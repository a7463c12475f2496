package regmap

import "github.com/watertreat/scada-core/internal/model"

// GenerateOptions parameterizes the auto-generation algorithm (spec §4.4):
// one FLOAT32_BE input register per sensor slot starting at SensorBase,
// one UINT16 holding register plus one on/off coil per actuator slot
// starting at ActuatorBase (coils always from address 0).
type GenerateOptions struct {
	SensorBase   uint16
	ActuatorBase uint16
}

// genCursor tracks the next free address in each of the three address
// spaces as devices are folded in one after another.
type genCursor struct {
	sensor   uint16
	actuator uint16
	coil     uint16
}

func addDevice(m *RegisterMap, dev model.DeviceConfig, c *genCursor) {
	for _, slot := range dev.Slots {
		if slot.Address.IsDAP() {
			continue
		}
		switch slot.Direction {
		case model.DirectionInput:
			_ = m.AddRegister(RegisterMapping{
				Address:      c.sensor,
				RegisterType: Input,
				DataType:     Float32BE,
				Count:        2,
				Source:       ProfinetSensor,
				Linkage:      Linkage{Station: dev.StationName, Slot: slot.Address},
				Enabled:      true,
				Description:  "auto-generated sensor " + dev.StationName,
			})
			c.sensor += 2
		case model.DirectionOutput:
			_ = m.AddRegister(RegisterMapping{
				Address:      c.actuator,
				RegisterType: Holding,
				DataType:     UInt16,
				Count:        1,
				Source:       ProfinetActuator,
				Linkage:      Linkage{Station: dev.StationName, Slot: slot.Address},
				Enabled:      true,
				Description:  "auto-generated actuator " + dev.StationName,
			})
			c.actuator++

			_ = m.AddCoil(CoilMapping{
				Address:     c.coil,
				Source:      ProfinetActuator,
				Linkage:     Linkage{Station: dev.StationName, Slot: slot.Address},
				OnValue:     1,
				OffValue:    0,
				Enabled:     true,
				Description: "auto-generated on/off coil " + dev.StationName,
			})
			c.coil++
		}
	}
}

// Generate builds a RegisterMap from a single device's configured slots.
func Generate(dev model.DeviceConfig, opts GenerateOptions) *RegisterMap {
	m := New()
	c := genCursor{sensor: opts.SensorBase, actuator: opts.ActuatorBase}
	addDevice(m, dev, &c)
	return m
}

// GenerateAll folds every configured device into one shared RegisterMap,
// continuing each address space's cursor across devices so no two devices
// collide.
func GenerateAll(devices []model.DeviceConfig, opts GenerateOptions) *RegisterMap {
	m := New()
	c := genCursor{sensor: opts.SensorBase, actuator: opts.ActuatorBase}
	for _, dev := range devices {
		addDevice(m, dev, &c)
	}
	return m
}
