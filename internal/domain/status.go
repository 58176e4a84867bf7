package domain

// StatusState is one of the four generation states.
type StatusState string

const (
	StatusPending    StatusState = "pending"
	StatusProcessing StatusState = "processing"
	StatusCompleted  StatusState = "completed"
	StatusFailed     StatusState = "failed"
)

// GenerationStatus is derived per poll and never stored.
type GenerationStatus struct {
	Status   StatusState `json:"status"`
	MediaURL string      `json:"mediaUrl,omitempty"`
	MediaID  string      `json:"mediaId,omitempty"`
	Message  string      `json:"message,omitempty"`
	TaskID   string      `json:"taskId,omitempty"`
	SceneID  string      `json:"sceneId,omitempty"`
}

// Processing builds a processing status.
func Processing() GenerationStatus {
	return GenerationStatus{Status: StatusProcessing}
}

// Failed builds a failed status with a message.
func Failed(message string) GenerationStatus {
	return GenerationStatus{Status: StatusFailed, Message: message}
}

// Valid reports whether s is one of the mapped states.
func (s StatusState) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
