package domain

// InputImage is a named reference image used for conditioned generation.
type InputImage struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// TaskHandle identifies submitted generation work for later polling.
type TaskHandle struct {
	TaskID    string `json:"taskId"`
	SceneID   string `json:"sceneId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	AccountID string `json:"-"`
	Seed      int64  `json:"seed,omitempty"`
}
