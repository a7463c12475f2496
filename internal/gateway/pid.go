package gateway

// PIDPort is the collaborator interface the gateway calls into for
// PID_SETPOINT/PID_PV/PID_CV register mappings. PID control loops
// themselves are out of scope for this core (spec.md's Non-goals); when no
// PID subsystem is wired, Gateway.pid is nil and any mapping referencing a
// PID data source answers SLAVE_DEVICE_FAILURE, the same as any other
// unreachable data source (spec §4.4 exception policy).
type PIDPort interface {
	GetSetpoint(loopID string) (float64, error)
	GetPV(loopID string) (float64, error)
	GetCV(loopID string) (float64, error)
	SetSetpoint(loopID string, value float64) error
}
