package lifecycle

// State is the lifecycle state of one runner.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
)

func (s State) gauge() float64 {
	switch s {
	case StateLoading:
		return 1
	case StateLoaded:
		return 2
	case StateUnloading:
		return 3
	}
	return 0
}
