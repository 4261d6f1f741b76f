package models

// StartRequest is the payload for starting a sandbox instance
type StartRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// StartResponse is returned when an instance has been provisioned
type StartResponse struct {
	InstanceID      string `json:"instanceId"`
	WSPath          string `json:"wsPath"`
	ScenarioID      string `json:"scenarioId"`
	WebUIPort       int    `json:"webUIPort,omitempty"`
	SetupInProgress bool   `json:"setupInProgress,omitempty"`
	Message         string `json:"message"`
}

// StopRequest is the payload for stopping a sandbox instance
type StopRequest struct {
	InstanceID string `json:"instanceId"`
}

// StopResponse acknowledges a stop, including the already-stopped case
type StopResponse struct {
	Message    string `json:"message"`
	InstanceID string `json:"instanceId"`
}

// WebUIRequest is the payload for launching the analysis web UI
type WebUIRequest struct {
	InstanceID string `json:"instanceId"`
	FilePath   string `json:"filePath,omitempty"`
}

// WebUIResponse reports the outcome of a web UI launch attempt.
// IsRunning false with a log tail and suggestion is a valid outcome:
// the launch command can succeed while the tool itself exits immediately.
type WebUIResponse struct {
	Success    bool   `json:"success"`
	InstanceID string `json:"instanceId"`
	WebUIPort  int    `json:"webUIPort"`
	WebUIURL   string `json:"webUIUrl"`
	IsRunning  bool   `json:"isRunning"`
	Log        string `json:"log,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ErrorResponse is the uniform error payload
type ErrorResponse struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	ScenarioID string `json:"scenarioId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
}
