package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
	Current           int `json:"current,omitempty"`
	Limit             int `json:"limit,omitempty"`
}

type OptionPayload struct {
	OptionID    string `json:"option_id,omitempty"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`

	ArtistName    string  `json:"artist_name,omitempty"`
	ArtistGenre   string  `json:"artist_genre,omitempty"`
	ThemeColorHex string  `json:"theme_color_hex,omitempty"`
	FeatureCost   float64 `json:"feature_cost,omitempty"`
}

type CreatePollRequest struct {
	Question    string          `json:"question"`
	Description string          `json:"description,omitempty"`
	Options     []OptionPayload `json:"options"`
	PollType    string          `json:"poll_type"`
	MaxVotes    int             `json:"max_votes"`

	AllowAnonymous        bool   `json:"allow_anonymous"`
	AllowVoteChanges      bool   `json:"allow_vote_changes"`
	ShowResultsBeforeVote bool   `json:"show_results_before_vote"`
	ClosesAt              string `json:"closes_at"`
}

type UpdatePollRequest struct {
	Question    *string         `json:"question,omitempty"`
	Description *string         `json:"description,omitempty"`
	Options     []OptionPayload `json:"options,omitempty"`
	MaxVotes    *int            `json:"max_votes,omitempty"`

	AllowAnonymous        *bool   `json:"allow_anonymous,omitempty"`
	AllowVoteChanges      *bool   `json:"allow_vote_changes,omitempty"`
	ShowResultsBeforeVote *bool   `json:"show_results_before_vote,omitempty"`
	ClosesAt              *string `json:"closes_at,omitempty"`
}

type PollResponse struct {
	PollID      string          `json:"poll_id"`
	EventID     string          `json:"event_id"`
	OrganizerID string          `json:"organizer_id"`
	Question    string          `json:"question"`
	Description string          `json:"description,omitempty"`
	Options     []OptionPayload `json:"options"`
	PollType    string          `json:"poll_type"`
	MaxVotes    int             `json:"max_votes"`

	AllowAnonymous        bool `json:"allow_anonymous"`
	AllowVoteChanges      bool `json:"allow_vote_changes"`
	ShowResultsBeforeVote bool `json:"show_results_before_vote"`

	Status      string `json:"status"`
	ClosesAt    string `json:"closes_at"`
	ClosedAt    string `json:"closed_at,omitempty"`
	CloseReason string `json:"close_reason,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`

	HasVoted bool   `json:"has_voted"`
	VoteID   string `json:"vote_id,omitempty"`
}

type PollListResponse struct {
	Items []PollResponse `json:"items"`
}

type PollDetailResponse struct {
	Poll    PollResponse     `json:"poll"`
	Vote    *VoteResponse    `json:"vote,omitempty"`
	Results *ResultsResponse `json:"results,omitempty"`
}

type DeletePollResponse struct {
	PollID    string `json:"poll_id"`
	DeletedAt string `json:"deleted_at"`
}

type ClosePollResponse struct {
	Poll    PollResponse    `json:"poll"`
	Results ResultsResponse `json:"results"`
}

type SubmitVoteRequest struct {
	OptionIDs      []string `json:"option_ids"`
	AnonymousToken string   `json:"anonymous_token,omitempty"`
}

type VoteResponse struct {
	VoteID         string   `json:"vote_id"`
	PollID         string   `json:"poll_id"`
	OptionIDs      []string `json:"option_ids"`
	IsAnonymous    bool     `json:"is_anonymous"`
	CanViewResults bool     `json:"can_view_results"`
	WasUpdate      bool     `json:"was_update"`
}

type OptionTallyPayload struct {
	OptionID   string  `json:"option_id"`
	Label      string  `json:"label"`
	VoteCount  int     `json:"vote_count"`
	Percentage float64 `json:"percentage"`
}

type ResultsResponse struct {
	PollID            string               `json:"poll_id"`
	TotalVotes        int                  `json:"total_votes"`
	AnonymousVotes    int                  `json:"anonymous_votes"`
	IdentifiedVotes   int                  `json:"identified_votes"`
	Options           []OptionTallyPayload `json:"options"`
	TicketHolderCount int                  `json:"ticket_holder_count"`
	ParticipationRate float64              `json:"participation_rate"`
	ComputedAt        string               `json:"computed_at"`
}

type AnonymousTokenResponse struct {
	Token string `json:"token"`
}

type AutoCloseResponse struct {
	ClosedCount int `json:"closed_count"`
}
