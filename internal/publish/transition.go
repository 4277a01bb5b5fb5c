package publish

// allowedTransitions is the lifecycle graph enforced by every ListingStore.
// posted is terminal.
var allowedTransitions = map[Status][]Status{
	StatusWaiting:    {StatusProcessing},
	StatusProcessing: {StatusPosted, StatusError, StatusWaiting},
	StatusError:      {StatusProcessing, StatusWaiting},
	StatusPosted:     nil,
}

// CanTransition reports whether a listing may move from one status to another.
// Self-transitions are always allowed.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a TransitionError when the change is not allowed.
func CheckTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}
