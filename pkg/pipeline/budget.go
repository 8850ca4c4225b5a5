package pipeline

// ErrorBudget bounds consecutive fetch failures within one batch. Each
// worker owns exactly one budget; it is reset at batch start and on
// every successful fetch, so only uninterrupted failure streaks count.
// When the budget is exceeded the worker discards the remainder of the
// current batch and starts the next one with a fresh budget.
type ErrorBudget struct {
	limit int
	count int
}

// NewErrorBudget creates a budget tolerating up to limit consecutive
// failures; the failure after that exceeds the budget.
func NewErrorBudget(limit int) *ErrorBudget {
	return &ErrorBudget{limit: limit}
}

// Record counts one failed fetch.
func (b *ErrorBudget) Record() {
	b.count++
}

// Reset clears the failure streak. A success is evidence the prior
// failures were transient or unrelated.
func (b *ErrorBudget) Reset() {
	b.count = 0
}

// Exceeded reports whether the failure streak has passed the limit.
func (b *ErrorBudget) Exceeded() bool {
	return b.count > b.limit
}

// Count returns the current failure streak length.
func (b *ErrorBudget) Count() int {
	return b.count
}
