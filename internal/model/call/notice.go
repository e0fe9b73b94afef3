package call

// Severity grades a user-visible notice.
type Severity string

const (
	SeverityInfo        Severity = "info"
	SeveritySuccess     Severity = "success"
	SeverityWarning     Severity = "warning"
	SeverityDestructive Severity = "destructive"
)

// Notice is a transient user-visible notification.
type Notice struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}
