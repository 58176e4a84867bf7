package flow

import "mediagateway/internal/domain"

var statusMap = map[string]domain.StatusState{
	"MEDIA_GENERATION_STATUS_PENDING":    domain.StatusPending,
	"MEDIA_GENERATION_STATUS_ACTIVE":     domain.StatusProcessing,
	"MEDIA_GENERATION_STATUS_PROCESSING": domain.StatusProcessing,
	"MEDIA_GENERATION_STATUS_SUCCESSFUL": domain.StatusCompleted,
	"MEDIA_GENERATION_STATUS_COMPLETE":   domain.StatusCompleted,
	"MEDIA_GENERATION_STATUS_FAILED":     domain.StatusFailed,
}

// MapStatus converts a provider status string. Unknown values are processing.
func MapStatus(raw string) domain.StatusState {
	if s, ok := statusMap[raw]; ok {
		return s
	}
	return domain.StatusProcessing
}
