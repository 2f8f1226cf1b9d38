package model

// WebSocket message types pushed to task subscribers.
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
)

// WSProgressMessage reports pipeline progress for one task.
type WSProgressMessage struct {
	Type     string `json:"type"`
	TaskUUID string `json:"taskUuid"`
	Progress int    `json:"progress"`
	Status   Status `json:"status"`
	Stage    string `json:"stage,omitempty"`
}

// WSCompleteMessage announces a finished task.
type WSCompleteMessage struct {
	Type     string `json:"type"`
	TaskUUID string `json:"taskUuid"`
	Status   Status `json:"status"`
	Epitopes int    `json:"epitopes"`
}

// WSErrorMessage announces a failed task.
type WSErrorMessage struct {
	Type     string `json:"type"`
	TaskUUID string `json:"taskUuid"`
	Message  string `json:"message"`
}
