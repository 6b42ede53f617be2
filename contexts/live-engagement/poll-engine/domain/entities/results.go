package entities

import "time"

// OptionTally is the per-option slice of an aggregation pass. VoteCount is
// the number of ballots that include the option, not the number of ballots
// overall, so multi-select polls can tally above TotalVotes in sum.
type OptionTally struct {
	OptionID   string
	Label      string
	VoteCount  int
	Percentage float64
}

// PollResults is computed on demand and never cached; it reflects whatever
// ballots were committed at computation time.
type PollResults struct {
	PollID            string
	TotalVotes        int
	AnonymousVotes    int
	IdentifiedVotes   int
	Options           []OptionTally
	TicketHolderCount int
	ParticipationRate float64
	ComputedAt        time.Time
}
