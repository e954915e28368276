package campaigns

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("campaigns: not found")

	// ErrNumberSelection means neither or both of explicit outbound number and
	// local touch are active on a campaign.
	ErrNumberSelection = errors.New("campaigns: exactly one of outbound number or local touch must be set")
)

// CampaignPatch is a partial update. Nil fields are left untouched.
//
// Progress updates are applied monotonically by implementations: a stored
// progress value never decreases, so concurrently completing workers may
// persist in any order without regressing the visible progress.
type CampaignPatch struct {
	Title          *string
	Description    *string
	AgentID        *string
	OutboundNumber *string
	LocalTouch     *bool
	Status         *Status
	Progress       *int
	HasRun         *bool
}

// PlacedCall is the success-path write unit: the campaign's new progress, the
// contact's provider call id, and the initial call-log row. Implementations
// must commit all three together or not at all.
type PlacedCall struct {
	CampaignID  int64
	ContactID   int64
	PhoneNumber string
	FirstName   string
	CallID      string
	Progress    int
}

// Store is the persistence contract for campaigns, contacts and call logs.
//
// Reads are always fresh: the dialing loop re-reads the campaign row every
// iteration to observe operator pause/resume and settings edits, so
// implementations must not serve stale cached rows.
type Store interface {
	Campaign(ctx context.Context, id int64) (Campaign, error)
	CreateCampaign(ctx context.Context, c Campaign) (int64, error)
	UpdateCampaign(ctx context.Context, id int64, patch CampaignPatch) error
	DeleteCampaign(ctx context.Context, id int64) error

	Contact(ctx context.Context, id int64) (Contact, error)
	Contacts(ctx context.Context, campaignID int64) ([]Contact, error)
	ContactsByIDs(ctx context.Context, campaignID int64, ids []int64) ([]Contact, error)
	AddContacts(ctx context.Context, campaignID int64, contacts []Contact) error

	// CalledContactIDs returns the ids of contacts that already have a
	// call-log row for the campaign. Used on resume as a second
	// de-duplication check independent of the contact's CallID field.
	CalledContactIDs(ctx context.Context, campaignID int64) ([]int64, error)

	CallLogs(ctx context.Context, campaignID int64) ([]CallLog, error)

	// RecordPlacedCall durably persists a successful placement as one unit.
	RecordPlacedCall(ctx context.Context, pc PlacedCall) error
}
