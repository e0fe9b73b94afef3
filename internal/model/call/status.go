package call

// Status is the lifecycle phase of a call.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// CanStart reports whether a new call may be initiated from this status.
func (s Status) CanStart() bool {
	switch s {
	case StatusIdle, StatusDisconnected, StatusError:
		return true
	default:
		return false
	}
}

// Label returns the short text shown next to the call button.
func (s Status) Label(agentSpeaking, userSpeaking bool) string {
	switch s {
	case StatusIdle:
		return "Ready to Connect"
	case StatusConnecting:
		return "Connecting..."
	case StatusActive:
		if agentSpeaking {
			return "Agent Speaking"
		}
		if userSpeaking {
			return "Listening..."
		}
		return "Connected"
	case StatusDisconnected:
		return "Call Ended"
	case StatusError:
		return "Connection Error"
	default:
		return ""
	}
}
