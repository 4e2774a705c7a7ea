package pipeline

// State is the build state of one program slot.
type State uint8

const (
	// StateIdle means no build is running. The slot may or may not have a
	// current pipeline.
	StateIdle State = iota

	// StateCompiling means shader sources are being loaded and compiled.
	StateCompiling

	// StateLinking means both stages compiled and the GPU pipeline is being
	// created against the current target format.
	StateLinking

	// StateSwapping is held for the duration of the pointer exchange.
	StateSwapping

	// StateFailed means the latest build failed. The previous pipeline, if
	// any, is still current.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompiling:
		return "compiling"
	case StateLinking:
		return "linking"
	case StateSwapping:
		return "swapping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the lifecycle of a single Pipeline object.
type Status uint8

const (
	StatusBuilding Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusBuilding:
		return "building"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
