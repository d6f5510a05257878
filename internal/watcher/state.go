package watcher

type State int32

const (
	Stopped State = iota
	Running
	AwaitingRestart
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case AwaitingRestart:
		return "awaiting_restart"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
