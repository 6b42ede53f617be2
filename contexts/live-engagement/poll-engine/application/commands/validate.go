package commands

import (
	"fmt"
	"strings"
	"time"

	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
)

const (
	questionMaxLen    = 500
	descriptionMaxLen = 1000
	labelMaxLen       = 200
	optionsMin        = 2
	optionsMax        = 10
	maxVotesCeiling   = 10
)

// OptionSpec is the inbound shape of one poll option before normalization.
type OptionSpec struct {
	OptionID      string
	Label         string
	Description   string
	ImageURL      string
	ArtistName    string
	ArtistGenre   string
	ThemeColorHex string
	FeatureCost   float64
}

var pollTypes = map[entities.PollType]bool{
	entities.PollTypeGeneral:          true,
	entities.PollTypeSingleChoice:     true,
	entities.PollTypeMultipleChoice:   true,
	entities.PollTypeArtistSelection:  true,
	entities.PollTypeThemeSelection:   true,
	entities.PollTypeFeatureSelection: true,
}

// normalizeOptions trims fields and auto-assigns opt_N ids where absent.
// Assigned ids are positional, matching the order options were submitted in.
func normalizeOptions(specs []OptionSpec) []entities.Option {
	options := make([]entities.Option, 0, len(specs))
	for i, spec := range specs {
		optionID := strings.TrimSpace(spec.OptionID)
		if optionID == "" {
			optionID = fmt.Sprintf("opt_%d", i+1)
		}
		options = append(options, entities.Option{
			OptionID:      optionID,
			Label:         strings.TrimSpace(spec.Label),
			Description:   strings.TrimSpace(spec.Description),
			ImageURL:      strings.TrimSpace(spec.ImageURL),
			ArtistName:    strings.TrimSpace(spec.ArtistName),
			ArtistGenre:   strings.TrimSpace(spec.ArtistGenre),
			ThemeColorHex: strings.TrimSpace(spec.ThemeColorHex),
			FeatureCost:   spec.FeatureCost,
		})
	}
	return options
}

// validatePoll checks every structural invariant of a poll before it is
// persisted: question/description lengths, option count and uniqueness,
// type-specific required fields, maxVotes bounds and a strictly-future
// closing time. Called at the top of create and update.
func validatePoll(poll entities.Poll, now time.Time) error {
	question := strings.TrimSpace(poll.Question)
	if question == "" {
		return domainerrors.NewValidation("question is required")
	}
	if len(question) > questionMaxLen {
		return domainerrors.NewValidation("question must be at most %d characters", questionMaxLen)
	}
	if len(poll.Description) > descriptionMaxLen {
		return domainerrors.NewValidation("description must be at most %d characters", descriptionMaxLen)
	}
	if !pollTypes[poll.PollType] {
		return domainerrors.NewValidation("unknown poll type %q", string(poll.PollType))
	}

	if len(poll.Options) < optionsMin || len(poll.Options) > optionsMax {
		return domainerrors.NewValidation("a poll requires between %d and %d options", optionsMin, optionsMax)
	}
	seenIDs := make(map[string]bool, len(poll.Options))
	seenLabels := make(map[string]bool, len(poll.Options))
	for _, option := range poll.Options {
		if option.Label == "" {
			return domainerrors.NewValidation("every option requires a label")
		}
		if len(option.Label) > labelMaxLen {
			return domainerrors.NewValidation("option labels must be at most %d characters", labelMaxLen)
		}
		if seenIDs[option.OptionID] {
			return domainerrors.NewValidation("duplicate option id %q", option.OptionID)
		}
		seenIDs[option.OptionID] = true
		labelKey := strings.ToLower(option.Label)
		if seenLabels[labelKey] {
			return domainerrors.NewValidation("duplicate option label %q", option.Label)
		}
		seenLabels[labelKey] = true

		switch poll.PollType {
		case entities.PollTypeArtistSelection:
			if option.ArtistName == "" {
				return domainerrors.NewValidation("artist selection options require an artist name")
			}
		case entities.PollTypeThemeSelection:
			if option.ThemeColorHex == "" {
				return domainerrors.NewValidation("theme selection options require a theme color")
			}
		case entities.PollTypeFeatureSelection:
			if option.FeatureCost < 0 {
				return domainerrors.NewValidation("feature cost cannot be negative")
			}
		}
	}

	if poll.MaxVotes < 1 || poll.MaxVotes > maxVotesCeiling {
		return domainerrors.NewValidation("maxVotes must be between 1 and %d", maxVotesCeiling)
	}
	switch poll.PollType {
	case entities.PollTypeSingleChoice:
		if poll.MaxVotes != 1 {
			return domainerrors.NewValidation("single choice polls allow exactly one vote")
		}
	case entities.PollTypeMultipleChoice:
		if poll.MaxVotes > len(poll.Options) {
			return domainerrors.NewValidation("maxVotes cannot exceed the option count")
		}
	}

	if !poll.ClosesAt.After(now) {
		return domainerrors.NewValidation("closesAt must be in the future")
	}
	return nil
}

// validateSelection checks a ballot's option selection against the poll.
func validateSelection(poll entities.Poll, optionIDs []string) error {
	if len(optionIDs) == 0 {
		return domainerrors.NewValidation("at least one option must be selected")
	}
	if poll.PollType == entities.PollTypeSingleChoice && len(optionIDs) != 1 {
		return domainerrors.NewValidation("only one option can be selected")
	}
	if len(optionIDs) > poll.MaxVotes {
		return domainerrors.NewValidation("at most %d options can be selected", poll.MaxVotes)
	}
	seen := make(map[string]bool, len(optionIDs))
	for _, optionID := range optionIDs {
		if seen[optionID] {
			return domainerrors.NewValidation("option %q selected more than once", optionID)
		}
		seen[optionID] = true
		if !poll.HasOption(optionID) {
			return domainerrors.NewValidation("option %q does not belong to this poll", optionID)
		}
	}
	return nil
}
