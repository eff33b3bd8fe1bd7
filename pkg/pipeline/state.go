package pipeline

// State is the executor's position in a run.
type State int32

const (
	StateIdle State = iota
	StateExtracting
	StateTransforming
	StateLoading
	StateDone
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateTransforming:
		return "transforming"
	case StateLoading:
		return "loading"
	case StateDone:
		return "done"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}
