package campaigns

import "time"

// Campaign is an outbound AI-voice calling campaign owned by a single user.
//
// Number-selection invariant: exactly one of OutboundNumber / LocalTouch is
// active. OutboundNumber is empty iff LocalTouch is true.
//
// Lifecycle: Scheduled -> InProgress <-> Paused -> Completed. Completed is
// terminal; HasRun is sticky and never resets, so a completed campaign can
// never restart fresh.
type Campaign struct {
	ID          int64  `json:"id" db:"id"`
	UserID      string `json:"user_id" db:"user_id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`

	// AgentID selects the voice agent used for every call in the campaign.
	AgentID string `json:"agent_id" db:"agent_id"`

	// OutboundNumber is the caller ID; empty when LocalTouch is enabled.
	OutboundNumber string `json:"outbound_number,omitempty" db:"outbound_number"`
	LocalTouch     bool   `json:"local_touch" db:"local_touch"`

	Status Status `json:"status" db:"status"`

	// Progress is 0..100 and non-decreasing while a run is live.
	Progress int  `json:"progress" db:"progress"`
	HasRun   bool `json:"has_run" db:"has_run"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// Contact is one callee in a campaign's queue.
//
// CallID is empty until a call has been placed; once set the contact is
// permanently excluded from redialing within this campaign. A redial campaign
// gets fresh contact rows with no CallID.
type Contact struct {
	ID         int64  `json:"id" db:"id"`
	CampaignID int64  `json:"campaign_id" db:"campaign_id"`

	// PhoneNumber is digits-only E.164 without the leading plus.
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	FirstName   string `json:"first_name" db:"first_name"`

	// DynamicVars are per-contact template values merged into the call.
	DynamicVars map[string]string `json:"dynamic_variables,omitempty" db:"dynamic_variables"`

	// CallID is the provider call identifier, empty when not yet dialed.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Called reports whether a call has already been placed for this contact.
func (c Contact) Called() bool { return c.CallID != "" }

// CallLog is the durable record of a placed call. It is created with the
// minimal placement fields; the analysis fields (transcript, summary,
// sentiment, ...) are filled in later by an asynchronous enrichment step.
type CallLog struct {
	ID         string `json:"id" db:"id"`
	CampaignID int64  `json:"campaign_id" db:"campaign_id"`
	ContactID  int64  `json:"contact_id" db:"contact_id"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`
	FirstName   string `json:"first_name" db:"first_name"`

	// CallID is the provider call identifier.
	CallID string `json:"call_id" db:"call_id"`

	DisconnectionReason string `json:"disconnection_reason,omitempty" db:"disconnection_reason"`
	Transcript          string `json:"transcript,omitempty" db:"transcript"`
	Summary             string `json:"summary,omitempty" db:"summary"`
	RecordingURL        string `json:"recording_url,omitempty" db:"recording_url"`
	Sentiment           string `json:"sentiment,omitempty" db:"sentiment"`
	DurationSeconds     int    `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Direction           string `json:"direction,omitempty" db:"direction"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the number-selection invariant.
func (c Campaign) Validate() error {
	if c.LocalTouch && c.OutboundNumber != "" {
		return ErrNumberSelection
	}
	if !c.LocalTouch && c.OutboundNumber == "" {
		return ErrNumberSelection
	}
	return nil
}
