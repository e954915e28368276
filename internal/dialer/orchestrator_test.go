package dialer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/accounts"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/credits"
	"dialer-platform/internal/dnc"
	"dialer-platform/internal/retell"
)

// fakeGateway is a scriptable in-memory call provider.
type fakeGateway struct {
	mu     sync.Mutex
	placed []retell.PlaceCallRequest
	nextID int

	statusFn   func() (retell.ConcurrencyStatus, error)
	onPlaced   func(n int, req retell.PlaceCallRequest)
	placeErr   func(req retell.PlaceCallRequest) error
	numbers    []retell.OutboundNumber
	numbersErr error
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) ConcurrencyStatus(ctx context.Context, apiKey string) (retell.ConcurrencyStatus, error) {
	if g.statusFn != nil {
		return g.statusFn()
	}
	return retell.ConcurrencyStatus{Current: 0, Limit: 10}, nil
}

func (g *fakeGateway) PlaceCall(ctx context.Context, apiKey string, req retell.PlaceCallRequest) (retell.PlaceCallResult, error) {
	if g.placeErr != nil {
		if err := g.placeErr(req); err != nil {
			return retell.PlaceCallResult{}, err
		}
	}
	g.mu.Lock()
	g.nextID++
	n := g.nextID
	g.placed = append(g.placed, req)
	hook := g.onPlaced
	g.mu.Unlock()
	if hook != nil {
		hook(n, req)
	}
	return retell.PlaceCallResult{CallID: "call_" + strconv.Itoa(n)}, nil
}

func (g *fakeGateway) ListNumbers(ctx context.Context, apiKey string) ([]retell.OutboundNumber, error) {
	return g.numbers, g.numbersErr
}

func (g *fakeGateway) placedCalls() []retell.PlaceCallRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]retell.PlaceCallRequest, len(g.placed))
	copy(out, g.placed)
	return out
}

type fixture struct {
	store   *campaigns.MemoryStore
	ledger  *credits.MemoryLedger
	dnc     *dnc.MemoryChecker
	keys    *accounts.MemoryKeys
	gateway *fakeGateway
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   campaigns.NewMemoryStore(),
		ledger:  credits.NewMemoryLedger(),
		dnc:     dnc.NewMemoryChecker(),
		keys:    accounts.NewMemoryKeys(),
		gateway: &fakeGateway{},
	}
	f.keys.Set("u1", "key-1")
	f.orch = New(Deps{
		Store:   f.store,
		Ledger:  f.ledger,
		DNC:     f.dnc,
		Keys:    f.keys,
		Gateway: f.gateway,
	}, Config{})
	// No real sleeping in tests.
	f.orch.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func (f *fixture) seedCampaign(t *testing.T, c campaigns.Campaign, contacts []campaigns.Contact) int64 {
	t.Helper()
	ctx := context.Background()
	if c.UserID == "" {
		c.UserID = "u1"
	}
	if c.Title == "" {
		c.Title = "spring outreach"
	}
	if c.AgentID == "" {
		c.AgentID = "agent-1"
	}
	id, err := f.store.CreateCampaign(ctx, c)
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := f.store.AddContacts(ctx, id, contacts); err != nil {
		t.Fatalf("add contacts: %v", err)
	}
	return id
}

func threeContacts() []campaigns.Contact {
	return []campaigns.Contact{
		{PhoneNumber: "14155551111", FirstName: "Ada"},
		{PhoneNumber: "14155552222", FirstName: "Ben"},
		{PhoneNumber: "16175553333", FirstName: "Cho"},
	}
}

func TestStart_HappyPathCompletesCampaign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, threeContacts())

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}
	if c.Progress != 100 {
		t.Fatalf("progress = %d, want 100", c.Progress)
	}
	if !c.HasRun {
		t.Fatalf("has_run should be sticky true")
	}

	logs, _ := f.store.CallLogs(ctx, id)
	if len(logs) != 3 {
		t.Fatalf("call logs = %d, want 3", len(logs))
	}
	contacts, _ := f.store.Contacts(ctx, id)
	for _, contact := range contacts {
		if !contact.Called() {
			t.Fatalf("contact %d has no call id", contact.ID)
		}
	}
	bal, _ := f.ledger.Balance(ctx, "u1")
	if bal != 97 {
		t.Fatalf("balance = %d, want 97", bal)
	}
	for _, req := range f.gateway.placedCalls() {
		if req.FromNumber != "14155550000" {
			t.Fatalf("unexpected caller id %q", req.FromNumber)
		}
		if req.AgentID != "agent-1" {
			t.Fatalf("unexpected agent %q", req.AgentID)
		}
	}
}

func TestStart_SetupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("campaign not found", func(t *testing.T) {
		f := newFixture(t)
		err := f.orch.Start(ctx, StartRequest{CampaignID: 99, UserID: "u1"})
		if !errors.Is(err, ErrCampaignNotFound) {
			t.Fatalf("expected ErrCampaignNotFound, got %v", err)
		}
	})

	t.Run("foreign campaign looks absent", func(t *testing.T) {
		f := newFixture(t)
		id := f.seedCampaign(t, campaigns.Campaign{UserID: "other", OutboundNumber: "1"}, threeContacts())
		err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"})
		if !errors.Is(err, ErrCampaignNotFound) {
			t.Fatalf("expected ErrCampaignNotFound, got %v", err)
		}
	})

	t.Run("api key missing", func(t *testing.T) {
		f := newFixture(t)
		id := f.seedCampaign(t, campaigns.Campaign{UserID: "u2", OutboundNumber: "1"}, threeContacts())
		err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u2"})
		if !errors.Is(err, ErrAPIKeyMissing) {
			t.Fatalf("expected ErrAPIKeyMissing, got %v", err)
		}
	})

	t.Run("no contacts", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.SetBalance("u1", 10)
		id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "1"}, nil)
		err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"})
		if !errors.Is(err, ErrNoContactsToCall) {
			t.Fatalf("expected ErrNoContactsToCall, got %v", err)
		}
	})

	t.Run("zero balance", func(t *testing.T) {
		f := newFixture(t)
		id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "1"}, threeContacts())
		err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"})
		if !errors.Is(err, ErrInsufficientCredits) {
			t.Fatalf("expected ErrInsufficientCredits, got %v", err)
		}
	})

	t.Run("completed campaign never restarts", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.SetBalance("u1", 10)
		id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "1", Status: campaigns.StatusCompleted, HasRun: true}, threeContacts())
		err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"})
		if !errors.Is(err, ErrCampaignCompleted) {
			t.Fatalf("expected ErrCampaignCompleted, got %v", err)
		}
	})
}

func TestStart_SecondStartAgainstLiveLoopRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	// Workers block inside placement so the first loop is provably live while
	// the duplicate start attempts arrive.
	release := make(chan struct{})
	f.gateway.onPlaced = func(int, retell.PlaceCallRequest) { <-release }
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, threeContacts())

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); !errors.Is(err, ErrCampaignRunning) {
		t.Fatalf("second start must be rejected, got %v", err)
	}
	if err := f.orch.SetStatus(ctx, id, "u1", campaigns.StatusInProgress, true); !errors.Is(err, ErrCampaignRunning) {
		t.Fatalf("resume against a live loop must be rejected, got %v", err)
	}
	close(release)
	f.orch.Wait()

	// Exactly one dial per contact despite the duplicate start attempts.
	dialed := map[string]int{}
	for _, req := range f.gateway.placedCalls() {
		dialed[req.ToNumber]++
	}
	if len(dialed) != 3 {
		t.Fatalf("dialed %d distinct numbers, want 3", len(dialed))
	}
	for num, n := range dialed {
		if n != 1 {
			t.Fatalf("number %s dialed %d times", num, n)
		}
	}
	bal, _ := f.ledger.Balance(ctx, "u1")
	if bal != 97 {
		t.Fatalf("balance = %d, want 97 (one credit per contact)", bal)
	}
}

func TestStart_InProgressRowWithoutLiveLoop(t *testing.T) {
	ctx := context.Background()

	t.Run("plain start rejected", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.SetBalance("u1", 100)
		id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000", Status: campaigns.StatusInProgress, HasRun: true}, threeContacts())
		err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"})
		if !errors.Is(err, ErrCampaignRunning) {
			t.Fatalf("expected ErrCampaignRunning, got %v", err)
		}
		if got := len(f.gateway.placedCalls()); got != 0 {
			t.Fatalf("placed %d calls, want 0", got)
		}
	})

	t.Run("explicit resume relaunches an orphaned run", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.SetBalance("u1", 100)
		id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000", Status: campaigns.StatusInProgress, HasRun: true}, threeContacts())
		if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1", Resume: true}); err != nil {
			t.Fatalf("resume: %v", err)
		}
		f.orch.Wait()
		c, _ := f.store.Campaign(ctx, id)
		if c.Status != campaigns.StatusCompleted || c.Progress != 100 {
			t.Fatalf("status=%s progress=%d, want completed/100", c.Status, c.Progress)
		}
	})
}

func TestRun_CreditsExhaustedMidFlightForcesPause(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 1)
	// Limit 1 serializes placements so exactly one call lands before the
	// balance hits zero.
	f.gateway.statusFn = func() (retell.ConcurrencyStatus, error) {
		return retell.ConcurrencyStatus{Current: 0, Limit: 1}, nil
	}
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, threeContacts())

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusPaused {
		t.Fatalf("status = %s, want paused", c.Status)
	}
	if c.Progress != 33 {
		t.Fatalf("progress = %d, want 33", c.Progress)
	}
	logs, _ := f.store.CallLogs(ctx, id)
	if len(logs) != 1 {
		t.Fatalf("call logs = %d, want 1", len(logs))
	}
	bal, _ := f.ledger.Balance(ctx, "u1")
	if bal != 0 {
		t.Fatalf("balance = %d, want 0", bal)
	}
}

func TestRun_DNCContactSkippedButCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	contacts := threeContacts()
	f.dnc.Add("u1", contacts[1].PhoneNumber)
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, contacts)

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted || c.Progress != 100 {
		t.Fatalf("status=%s progress=%d, want completed/100", c.Status, c.Progress)
	}
	logs, _ := f.store.CallLogs(ctx, id)
	if len(logs) != 2 {
		t.Fatalf("call logs = %d, want 2 (dnc contact skipped)", len(logs))
	}
	for _, req := range f.gateway.placedCalls() {
		if req.ToNumber == contacts[1].PhoneNumber {
			t.Fatalf("dnc-listed number was dialed")
		}
	}
	// Skips consume no credits.
	bal, _ := f.ledger.Balance(ctx, "u1")
	if bal != 98 {
		t.Fatalf("balance = %d, want 98", bal)
	}
	stored, _ := f.store.Contacts(ctx, id)
	if stored[1].Called() {
		t.Fatalf("dnc contact must have no call id")
	}
}

func TestRun_PauseThenResumeDialsEachContactOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	f.gateway.statusFn = func() (retell.ConcurrencyStatus, error) {
		return retell.ConcurrencyStatus{Current: 0, Limit: 1}, nil
	}
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, threeContacts())

	// Operator pauses right after the first placement lands.
	f.gateway.onPlaced = func(n int, _ retell.PlaceCallRequest) {
		if n == 1 {
			paused := campaigns.StatusPaused
			_ = f.store.UpdateCampaign(ctx, id, campaigns.CampaignPatch{Status: &paused})
		}
	}
	// The loop's pause poll sees Paused twice, then the operator resumes.
	pausePolls := 0
	f.orch.sleep = func(_ context.Context, d time.Duration) error {
		if d == f.orch.cfg.PausePoll {
			pausePolls++
			if pausePolls == 2 {
				running := campaigns.StatusInProgress
				_ = f.store.UpdateCampaign(ctx, id, campaigns.CampaignPatch{Status: &running})
			}
		}
		return nil
	}

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	if pausePolls < 2 {
		t.Fatalf("expected the loop to poll while paused, polls = %d", pausePolls)
	}
	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted || c.Progress != 100 {
		t.Fatalf("status=%s progress=%d, want completed/100", c.Status, c.Progress)
	}

	// Exactly one dial per contact across the pause boundary.
	dialed := map[string]int{}
	for _, req := range f.gateway.placedCalls() {
		dialed[req.ToNumber]++
	}
	if len(dialed) != 3 {
		t.Fatalf("dialed %d distinct numbers, want 3", len(dialed))
	}
	for num, n := range dialed {
		if n != 1 {
			t.Fatalf("number %s dialed %d times", num, n)
		}
	}
}

func TestResume_SkipsLoggedContactsAndCompletesWhenNothingLeft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000", Status: campaigns.StatusPaused, HasRun: true}, threeContacts())
	contacts, _ := f.store.Contacts(ctx, id)

	// Two contacts fully dialed; call ids and log rows in place.
	for _, contact := range contacts[:2] {
		if err := f.store.RecordPlacedCall(ctx, campaigns.PlacedCall{
			CampaignID:  id,
			ContactID:   contact.ID,
			PhoneNumber: contact.PhoneNumber,
			FirstName:   contact.FirstName,
			CallID:      "earlier_" + contact.PhoneNumber,
			Progress:    67,
		}); err != nil {
			t.Fatalf("seed placed call: %v", err)
		}
	}

	if err := f.orch.SetStatus(ctx, id, "u1", campaigns.StatusInProgress, true); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.orch.Wait()

	if got := len(f.gateway.placedCalls()); got != 1 {
		t.Fatalf("placed %d calls on resume, want 1", got)
	}
	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted || c.Progress != 100 {
		t.Fatalf("status=%s progress=%d, want completed/100", c.Status, c.Progress)
	}

	// Resuming again finds nothing to dial and completes immediately.
	f2 := newFixture(t)
	f2.ledger.SetBalance("u1", 100)
	id2 := f2.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000", Status: campaigns.StatusPaused, HasRun: true}, threeContacts())
	cs, _ := f2.store.Contacts(ctx, id2)
	for _, contact := range cs {
		_ = f2.store.RecordPlacedCall(ctx, campaigns.PlacedCall{
			CampaignID: id2, ContactID: contact.ID,
			PhoneNumber: contact.PhoneNumber, FirstName: contact.FirstName,
			CallID: "done_" + contact.PhoneNumber, Progress: 100,
		})
	}
	if err := f2.orch.SetStatus(ctx, id2, "u1", campaigns.StatusInProgress, true); err != nil {
		t.Fatalf("resume completed queue: %v", err)
	}
	f2.orch.Wait()
	c2, _ := f2.store.Campaign(ctx, id2)
	if c2.Status != campaigns.StatusCompleted {
		t.Fatalf("status = %s, want completed without dialing", c2.Status)
	}
	if len(f2.gateway.placedCalls()) != 0 {
		t.Fatalf("no calls expected on fully-dialed resume")
	}
}

func TestRun_LocalTouchUsesBestMatchingNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	f.gateway.numbers = []retell.OutboundNumber{
		{Number: "14155550000", PrettyNumber: "+1 (415) 555-0000"},
		{Number: "16175550000", PrettyNumber: "+1 (617) 555-0000"},
	}
	id := f.seedCampaign(t, campaigns.Campaign{LocalTouch: true}, threeContacts())

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	for _, req := range f.gateway.placedCalls() {
		want := "14155550000"
		if req.ToNumber == "16175553333" {
			want = "16175550000"
		}
		if req.FromNumber != want {
			t.Fatalf("contact %s dialed from %s, want %s", req.ToNumber, req.FromNumber, want)
		}
	}
	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}
}

func TestRun_PlacementFailureSkipsContactWithoutCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	contacts := threeContacts()
	f.gateway.placeErr = func(req retell.PlaceCallRequest) error {
		if req.ToNumber == contacts[1].PhoneNumber {
			return errors.New("provider rejected call")
		}
		return nil
	}
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, contacts)

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	logs, _ := f.store.CallLogs(ctx, id)
	if len(logs) != 2 {
		t.Fatalf("call logs = %d, want 2", len(logs))
	}
	bal, _ := f.ledger.Balance(ctx, "u1")
	if bal != 98 {
		t.Fatalf("balance = %d, want 98 (failed placement costs nothing)", bal)
	}
	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted {
		t.Fatalf("status = %s, want completed (failures never abort the batch)", c.Status)
	}
}

func TestRun_ConcurrencyDegradationFallsBackToDefaultSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	f.gateway.statusFn = func() (retell.ConcurrencyStatus, error) {
		return retell.ConcurrencyStatus{}, errors.New("provider timeout")
	}
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, threeContacts())

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted {
		t.Fatalf("status = %s, want completed despite quota degradation", c.Status)
	}
	if len(f.gateway.placedCalls()) != 3 {
		t.Fatalf("placed %d calls, want 3", len(f.gateway.placedCalls()))
	}
}

func TestRun_NoAvailableSlotsBacksOffThenProceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetBalance("u1", 100)
	var busy sync.Mutex
	full := true
	f.gateway.statusFn = func() (retell.ConcurrencyStatus, error) {
		busy.Lock()
		defer busy.Unlock()
		if full {
			return retell.ConcurrencyStatus{Current: 10, Limit: 10}, nil
		}
		return retell.ConcurrencyStatus{Current: 0, Limit: 10}, nil
	}
	backoffs := 0
	f.orch.sleep = func(_ context.Context, d time.Duration) error {
		if d == f.orch.cfg.NoSlotBackoff {
			backoffs++
			busy.Lock()
			full = false
			busy.Unlock()
		}
		return nil
	}
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "14155550000"}, threeContacts())

	if err := f.orch.Start(ctx, StartRequest{CampaignID: id, UserID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.orch.Wait()

	if backoffs == 0 {
		t.Fatalf("expected at least one no-slot backoff")
	}
	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}
}

func TestSetStatus_PauseOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.seedCampaign(t, campaigns.Campaign{OutboundNumber: "1", Status: campaigns.StatusInProgress, HasRun: true}, nil)

	if err := f.orch.SetStatus(ctx, id, "u1", campaigns.StatusPaused, false); err != nil {
		t.Fatalf("pause: %v", err)
	}
	c, _ := f.store.Campaign(ctx, id)
	if c.Status != campaigns.StatusPaused {
		t.Fatalf("status = %s, want paused", c.Status)
	}

	if err := f.orch.SetStatus(ctx, id, "u2", campaigns.StatusPaused, false); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("foreign user must see not-found, got %v", err)
	}
}

func TestMergeTemplateVars_ContactValueWins(t *testing.T) {
	got := mergeTemplateVars("Ada", map[string]string{"name": "Lady Lovelace", "city": "London"})
	if got["name"] != "Lady Lovelace" {
		t.Fatalf("contact-supplied name must override default, got %q", got["name"])
	}
	if got["city"] != "London" {
		t.Fatalf("dynamic variable lost: %v", got)
	}

	got = mergeTemplateVars("Ben", map[string]string{"city": "Boston"})
	if got["name"] != "Ben" {
		t.Fatalf("default name missing, got %v", got)
	}
}

func TestProgressPct(t *testing.T) {
	cases := []struct {
		called, total, want int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 2, 50},
		{0, 0, 100},
	}
	for _, tc := range cases {
		if got := progressPct(tc.called, tc.total); got != tc.want {
			t.Fatalf("progressPct(%d,%d) = %d, want %d", tc.called, tc.total, got, tc.want)
		}
	}
}
