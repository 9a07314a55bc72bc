package apphost

// AppState is the lifecycle state of a hosted application
type AppState string

const (
	StateBuilding            AppState = "building"
	StateStarting            AppState = "starting"
	StateWaitingForReadiness AppState = "waiting_for_readiness"
	StateReady               AppState = "ready"
	StateFailed              AppState = "failed"
	StateDisposed            AppState = "disposed"
)

// canTransition validates a lifecycle transition. Disposed is reachable from
// everywhere and final; failed only leads to disposed.
func canTransition(from, to AppState) bool {
	if from == StateDisposed {
		return false
	}
	switch to {
	case StateDisposed, StateFailed:
		return from != StateFailed || to == StateDisposed
	case StateStarting:
		return from == StateBuilding
	case StateWaitingForReadiness:
		return from == StateStarting
	case StateReady:
		return from == StateWaitingForReadiness
	default:
		return false
	}
}

// IsTerminal reports whether no further progress is possible
func (s AppState) IsTerminal() bool {
	return s == StateFailed || s == StateDisposed
}
