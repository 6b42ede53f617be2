package entities

import "time"

// Vote is one voter's ballot for a poll. Exactly one row exists per
// (poll, user) pair for identified ballots and per (poll, anonymous token
// hash) pair for anonymous ballots; the repository's identity-key uniqueness
// constraint is what guarantees this under concurrent submission.
type Vote struct {
	VoteID    string
	PollID    string
	UserID    string // empty iff anonymous
	OptionIDs []string

	IsAnonymous        bool
	AnonymousTokenHash string // present iff anonymous

	IPAddress string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityKey is the uniqueness key a ballot is persisted under.
func (v Vote) IdentityKey() string {
	if v.IsAnonymous {
		return v.PollID + ":anon:" + v.AnonymousTokenHash
	}
	return v.PollID + ":user:" + v.UserID
}
