package core

// ItemStatus is the processing state of a ContentItem.
type ItemStatus string

const (
	StatusPending      ItemStatus = "pending"
	StatusProcessing   ItemStatus = "processing"
	StatusCompleted    ItemStatus = "completed"
	StatusFailed       ItemStatus = "failed"
	StatusManualReview ItemStatus = "manual_review"
)

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusManualReview:
		return true
	}
	return false
}

// Terminal reports whether s ends a classification attempt.
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusManualReview:
		return true
	}
	return false
}

// TransitionSources returns the statuses an item may move to `to` from.
// Terminal statuses are only left when override is set.
func TransitionSources(to ItemStatus, override bool) []ItemStatus {
	switch to {
	case StatusProcessing:
		if override {
			return []ItemStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusManualReview}
		}
		// processing re-entry covers runs interrupted mid-attempt
		return []ItemStatus{StatusPending, StatusProcessing}
	case StatusCompleted, StatusFailed, StatusManualReview:
		return []ItemStatus{StatusProcessing}
	}
	return nil
}

// CanTransition reports whether moving from s to `to` is allowed.
func (s ItemStatus) CanTransition(to ItemStatus, override bool) bool {
	for _, from := range TransitionSources(to, override) {
		if from == s {
			return true
		}
	}
	return false
}

// StatusUpdate describes a guarded status change of a ContentItem.
// Category and Confidence are written only when Category is non-empty.
type StatusUpdate struct {
	From       []ItemStatus
	To         ItemStatus
	Category   string
	Confidence float64
}
