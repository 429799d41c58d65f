package forgemodel

// UsageAggregate accumulates token counts for one (project, role, model)
// triple. Role separates traffic from different callers against the
// same model; the orchestrator records its Subtask calls as "implementer".
type UsageAggregate struct {
	ProjectID    string `json:"project_id"`
	Role         string `json:"role"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Calls        int64  `json:"calls"`
}

// TotalTokens returns the combined input and output token count.
func (u *UsageAggregate) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add folds another sample's token counts into this aggregate.
func (u *UsageAggregate) Add(inputTokens, outputTokens int64) {
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.Calls++
}
