package campaigns

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests.
// It is not intended for production use.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	campaigns map[int64]Campaign
	contacts  map[int64]Contact
	logs      []CallLog
	clock     func() time.Time

	// OnUpdate, when set, runs after every campaign patch while holding no
	// locks. Tests use it to simulate operator edits racing the loop.
	OnUpdate func(Campaign)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		campaigns: map[int64]Campaign{},
		contacts:  map[int64]Contact{},
		clock:     time.Now,
	}
}

func (s *MemoryStore) Campaign(ctx context.Context, id int64) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) CreateCampaign(ctx context.Context, c Campaign) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID
	s.nextID++
	if c.Status == "" {
		c.Status = StatusScheduled
	}
	c.CreatedAt = s.clock().UTC()
	c.UpdatedAt = c.CreatedAt
	s.campaigns[c.ID] = c
	return c.ID, nil
}

func (s *MemoryStore) UpdateCampaign(ctx context.Context, id int64, patch CampaignPatch) error {
	s.mu.Lock()
	c, ok := s.campaigns[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	applyPatch(&c, patch)
	c.UpdatedAt = s.clock().UTC()
	s.campaigns[id] = c
	hook := s.OnUpdate
	s.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return nil
}

func applyPatch(c *Campaign, patch CampaignPatch) {
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.AgentID != nil {
		c.AgentID = *patch.AgentID
	}
	if patch.OutboundNumber != nil {
		c.OutboundNumber = *patch.OutboundNumber
	}
	if patch.LocalTouch != nil {
		c.LocalTouch = *patch.LocalTouch
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.Progress != nil && *patch.Progress > c.Progress {
		c.Progress = *patch.Progress
	}
	if patch.HasRun != nil {
		c.HasRun = *patch.HasRun
	}
}

func (s *MemoryStore) DeleteCampaign(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return ErrNotFound
	}
	delete(s.campaigns, id)
	return nil
}

func (s *MemoryStore) Contact(ctx context.Context, id int64) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Contacts(ctx context.Context, campaignID int64) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Contact
	for _, c := range s.contacts {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Contact) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *MemoryStore) ContactsByIDs(ctx context.Context, campaignID int64, ids []int64) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Contact
	for _, id := range ids {
		c, ok := s.contacts[id]
		if ok && c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddContacts(ctx context.Context, campaignID int64, contacts []Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	for _, c := range contacts {
		c.ID = s.nextID
		s.nextID++
		c.CampaignID = campaignID
		c.CreatedAt = now
		s.contacts[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) CalledContactIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, l := range s.logs {
		if l.CampaignID == campaignID && !seen[l.ContactID] {
			seen[l.ContactID] = true
			out = append(out, l.ContactID)
		}
	}
	return out, nil
}

func (s *MemoryStore) CallLogs(ctx context.Context, campaignID int64) ([]CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallLog
	for _, l := range s.logs {
		if l.CampaignID == campaignID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordPlacedCall(ctx context.Context, pc PlacedCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contact, ok := s.contacts[pc.ContactID]
	if !ok || contact.CampaignID != pc.CampaignID || contact.CallID != "" {
		return ErrNotFound
	}
	c, ok := s.campaigns[pc.CampaignID]
	if !ok {
		return ErrNotFound
	}

	now := s.clock().UTC()
	contact.CallID = pc.CallID
	s.contacts[pc.ContactID] = contact

	s.logs = append(s.logs, CallLog{
		ID:          uuid.NewString(),
		CampaignID:  pc.CampaignID,
		ContactID:   pc.ContactID,
		PhoneNumber: pc.PhoneNumber,
		FirstName:   pc.FirstName,
		CallID:      pc.CallID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})

	if pc.Progress > c.Progress {
		c.Progress = pc.Progress
	}
	c.UpdatedAt = now
	s.campaigns[pc.CampaignID] = c
	return nil
}
