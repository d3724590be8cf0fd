package store

import "github.com/valayash/qwaitfront/internal/models"

const (
	ActionEdit   = "edit"
	ActionCancel = "cancel"
	ActionServe  = "serve"
	ActionNotify = "notify"
)

var transitionMap = map[string][]string{
	ActionEdit:   {models.StatusWaiting},
	ActionCancel: {models.StatusWaiting},
	ActionServe:  {models.StatusWaiting},
	ActionNotify: {models.StatusWaiting},
}

var targetStatus = map[string]string{
	ActionCancel: models.StatusRemoved,
	ActionServe:  models.StatusServed,
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

// TargetStatus returns the terminal status an action moves an entry into.
func TargetStatus(action string) (string, bool) {
	status, ok := targetStatus[action]
	return status, ok
}
