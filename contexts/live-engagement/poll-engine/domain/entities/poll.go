package entities

import (
	"strings"
	"time"
)

type PollType string

const (
	PollTypeGeneral          PollType = "general"
	PollTypeSingleChoice     PollType = "single_choice"
	PollTypeMultipleChoice   PollType = "multiple_choice"
	PollTypeArtistSelection  PollType = "artist_selection"
	PollTypeThemeSelection   PollType = "theme_selection"
	PollTypeFeatureSelection PollType = "feature_selection"
)

type PollStatus string

const (
	PollStatusDraft  PollStatus = "draft"
	PollStatusActive PollStatus = "active"
	PollStatusClosed PollStatus = "closed"
)

type CloseReason string

const (
	CloseReasonManual  CloseReason = "manual"
	CloseReasonExpired CloseReason = "expired"
)

// Option is one selectable choice in a poll. The type-specific fields are
// only populated for the matching poll type.
type Option struct {
	OptionID    string
	Label       string
	Description string
	ImageURL    string

	ArtistName    string
	ArtistGenre   string
	ThemeColorHex string
	FeatureCost   float64
}

// Poll is a plain data record; all lifecycle and validation rules live in
// the application layer.
type Poll struct {
	PollID      string
	EventID     string
	OrganizerID string

	Question    string
	Description string
	Options     []Option
	PollType    PollType
	MaxVotes    int

	AllowAnonymous        bool
	AllowVoteChanges      bool
	ShowResultsBeforeVote bool

	ClosesAt    time.Time
	Status      PollStatus
	ClosedAt    *time.Time
	CloseReason CloseReason
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Open reports whether the poll currently accepts ballots.
func (p Poll) Open(now time.Time) bool {
	return p.Status == PollStatusActive && p.DeletedAt == nil && now.Before(p.ClosesAt)
}

func (p Poll) Deleted() bool {
	return p.DeletedAt != nil
}

func (p Poll) HasOption(optionID string) bool {
	for _, option := range p.Options {
		if option.OptionID == strings.TrimSpace(optionID) {
			return true
		}
	}
	return false
}

func (p Poll) OptionIDs() []string {
	ids := make([]string, 0, len(p.Options))
	for _, option := range p.Options {
		ids = append(ids, option.OptionID)
	}
	return ids
}
