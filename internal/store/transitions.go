package store

import "optiq/internal/models"

// transitionMap lists the statuses each queue action may start from.
// completed and cancelled are terminal and appear in no value set.
var transitionMap = map[string][]string{
	"call":     {models.StatusWaiting},
	"complete": {models.StatusServing},
	"cancel":   {models.StatusWaiting, models.StatusServing},
	"reorder":  {models.StatusWaiting},
	"reset":    {models.StatusWaiting, models.StatusServing},
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
