package models

// Health is the liveness body.
type Health struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Components []ComponentStatus `json:"components,omitempty"`
	Details    map[string]any    `json:"details,omitempty"`
}

// ComponentStatus is the state of one agent subsystem.
type ComponentStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	State  string       `json:"state,omitempty"`
}
