package devnet

// NodeRunState describes the node lifecycle state.
type NodeRunState uint8

const (
	NodeStopped NodeRunState = iota
	NodeStarting
	NodeRunning
	NodeStopping
)

func (s NodeRunState) String() string {
	switch s {
	case NodeStopped:
		return "stopped"
	case NodeStarting:
		return "starting"
	case NodeRunning:
		return "running"
	case NodeStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
