package model

// HealthStatus is the outcome of one health check.
type HealthStatus string

const (
	HealthPass HealthStatus = "pass"
	HealthFail HealthStatus = "fail"
)

// HealthCheck is one named check in a health report.
type HealthCheck struct {
	Name       string       `json:"name"`
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message"`
	Reason     string       `json:"reason,omitempty"`
	Suggestion string       `json:"suggestion,omitempty"`
}

// HealthReport aggregates the checks run by the status service.
type HealthReport struct {
	Status HealthStatus  `json:"status"`
	Checks []HealthCheck `json:"checks"`
}
