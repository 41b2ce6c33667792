package store

import "servicelane/queue-service/internal/models"

var transitionMap = map[string][]string{
	"start":    {models.StatusQueued},
	"complete": {models.StatusInService},
	"cancel":   {models.StatusQueued, models.StatusInService},
	"move":     {models.StatusQueued},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
