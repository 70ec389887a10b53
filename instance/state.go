package instance

// State is one point in an instance's lifecycle. Transitions only happen on
// the goroutine driving the instance; State() may be read from anywhere.
type State int

const (
	// StateNotStarted means the instance has fresh memory but its start
	// routine has not run.
	StateNotStarted State = iota
	// StateReady means the instance can accept a Run call. The previous
	// run's return value, if any, has been extracted.
	StateReady
	// StateRunning means guest code is executing.
	StateRunning
	// StateFaulted means the last run ended in a trap or memory fault. The
	// fault details record whether it was fatal; non-fatal faults can be
	// cleared with Reset.
	StateFaulted
	// StateTerminating is the transient window where a termination is
	// being extracted from the guest.
	StateTerminating
	// StateTerminated means the last run was ended by Terminate or a kill
	// switch. Reset returns the instance to service.
	StateTerminated
	// StateYielding is the transient window where a yielded value is being
	// extracted from the guest.
	StateYielding
	// StateYielded means the guest is suspended waiting for Resume.
	StateYielded
	// StateBoundExpired means the guest exhausted its instruction bound
	// and is suspended waiting for Resume.
	StateBoundExpired
	// StateTransitioning marks the instant between extracting one state
	// and installing the next. Observers treat it as "busy".
	StateTransitioning
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateFaulted:
		return "faulted"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	case StateYielding:
		return "yielding"
	case StateYielded:
		return "yielded"
	case StateBoundExpired:
		return "bound expired"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}
