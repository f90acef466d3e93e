package models

var statusRank = map[string]int{
	StatusWaiting:   0,
	StatusServing:   1,
	StatusCompleted: 2,
}

// StatusRank orders ticket statuses along the waiting → serving → completed
// machine. Unknown statuses rank below waiting.
func StatusRank(status string) int {
	if rank, ok := statusRank[status]; ok {
		return rank
	}
	return -1
}

// ValidTransition reports whether a ticket may move from one status to
// another. Skipping serving is legal; moving backward never is.
func ValidTransition(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}
