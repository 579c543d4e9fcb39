package training

// State is the lifecycle of one training run. Transitions: NotStarted →
// Running → (Evaluating → Running)* → Completed | Failed.
type State int

const (
	NotStarted State = iota
	Running
	Evaluating
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Evaluating:
		return "evaluating"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
