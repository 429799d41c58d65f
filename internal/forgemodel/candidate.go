package forgemodel

// Candidate is one sampled generation produced during a voting round.
// Candidates are transient: they live only for the duration of a
// VotingEngine round and are persisted only in summarized form.
type Candidate struct {
	Model       string   `json:"model"`
	Output      string   `json:"output"`
	RedFlags    []string `json:"red_flags,omitempty"`
	SampleIndex int      `json:"sample_index"`
	Temperature float64  `json:"temperature"`
	VoteCount   int      `json:"vote_count"`
}

// Flagged reports whether the candidate tripped any red-flag rule and
// should be excluded from the voting pool.
func (c *Candidate) Flagged() bool {
	return len(c.RedFlags) > 0
}
