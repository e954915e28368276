package dialer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"dialer-platform/internal/areacode"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/credits"
	"dialer-platform/internal/dnc"
	"dialer-platform/internal/retell"
	"dialer-platform/pkg/utils"

	"golang.org/x/sync/errgroup"
)

// Orchestrator drives outbound dialing campaigns.
//
// One long-lived background loop per active campaign, each containing a
// bounded worker pool for per-contact placement. Campaign settings are
// re-read from the store at the top of every loop iteration, so operator
// pause/resume and settings edits take effect on the next batch without any
// locking. Progress persists monotonically; the credit ledger is the only
// cross-campaign shared resource and is atomic at the storage layer.
type Orchestrator struct {
	store   campaigns.Store
	ledger  credits.Ledger
	dnc     dnc.Checker
	keys    KeySource
	gateway retell.Gateway
	guard   RunGuard

	cfg Config
	log *slog.Logger

	// clock and sleep are injectable for deterministic tests.
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// runs registers the campaigns with a live loop in this process. One loop
	// per campaign, ever: a second loop over the same queue would double-dial
	// contacts before the per-worker recheck can see the first loop's writes.
	runsMu sync.Mutex
	runs   map[int64]bool

	wg sync.WaitGroup
}

// KeySource resolves a user's call-provider API key.
type KeySource interface {
	APIKey(ctx context.Context, userID string) (string, error)
}

// RunGuard caps concurrently running campaign loops per user. Optional; a nil
// guard disables the cap.
type RunGuard interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// Config tunes loop behavior. Zero values take the documented defaults.
type Config struct {
	// WorkerPool caps concurrent per-contact workers within a batch. This is
	// independent of the provider's concurrency quota, which bounds batch
	// size separately.
	WorkerPool int

	// DefaultSlots is the conservative slot count assumed when the provider
	// quota query fails.
	DefaultSlots int

	PausePoll     time.Duration
	NoSlotBackoff time.Duration
	BatchPacing   time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.WorkerPool <= 0 {
		out.WorkerPool = 25
	}
	if out.DefaultSlots <= 0 {
		out.DefaultSlots = 10
	}
	if out.PausePoll <= 0 {
		out.PausePoll = 5 * time.Second
	}
	if out.NoSlotBackoff <= 0 {
		out.NoSlotBackoff = 5 * time.Second
	}
	if out.BatchPacing <= 0 {
		out.BatchPacing = 2 * time.Second
	}
	return out
}

// Deps are the orchestrator's collaborators. Guard and Logger are optional.
type Deps struct {
	Store   campaigns.Store
	Ledger  credits.Ledger
	DNC     dnc.Checker
	Keys    KeySource
	Gateway retell.Gateway
	Guard   RunGuard
	Logger  *slog.Logger
}

func New(deps Deps, cfg Config) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:   deps.Store,
		ledger:  deps.Ledger,
		dnc:     deps.DNC,
		keys:    deps.Keys,
		gateway: deps.Gateway,
		guard:   deps.Guard,
		cfg:     cfg.withDefaults(),
		log:     log,
		clock:   time.Now,
		sleep:   utils.SleepContext,
		runs:    map[int64]bool{},
	}
}

// Setup failures surfaced synchronously to the triggering caller. Once the
// loop is launched, outcomes are visible only via persisted campaign state.
var (
	ErrCampaignNotFound    = errors.New("dialer: campaign not found")
	ErrCampaignCompleted   = errors.New("dialer: campaign already completed")
	ErrCampaignRunning     = errors.New("dialer: campaign run already in progress")
	ErrAPIKeyMissing       = errors.New("dialer: call-provider api key missing")
	ErrNoContactsToCall    = errors.New("dialer: no contacts to call")
	ErrInsufficientCredits = errors.New("dialer: insufficient credits")
	ErrTooManyActiveRuns   = errors.New("dialer: too many active campaign runs for user")
)

// StartRequest is the entry contract for launching a campaign run.
type StartRequest struct {
	CampaignID int64
	UserID     string

	// Contacts, when non-empty, is the explicit dial list (e.g. a redial
	// selection). Otherwise the not-yet-called contacts of the campaign are
	// loaded from the store.
	Contacts []campaigns.Contact

	// Resume marks a continuation of a previously started run: the called
	// counter is seeded from storage and the to-call set is de-duplicated
	// against existing call logs.
	Resume bool
}

// Start validates the run, marks the campaign running and launches the batch
// loop as an independent unit of work. The caller gets an immediate
// acknowledgment (nil) and never blocks on run completion.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) error {
	// Never trust caller-supplied campaign settings; the row may have been
	// edited since the caller read it.
	c, err := o.store.Campaign(ctx, req.CampaignID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return ErrCampaignNotFound
		}
		return err
	}
	if c.UserID != req.UserID {
		return ErrCampaignNotFound
	}
	if c.Status == campaigns.StatusCompleted {
		return ErrCampaignCompleted
	}
	if c.Status == campaigns.StatusInProgress && !req.Resume {
		// A running row means a live loop somewhere; only an explicit resume
		// (crash recovery) may relaunch, and then only if this process has no
		// loop for the campaign.
		return ErrCampaignRunning
	}

	if !o.acquireRun(req.CampaignID) {
		return ErrCampaignRunning
	}
	launched := false
	defer func() {
		if !launched {
			o.releaseRun(req.CampaignID)
		}
	}()

	apiKey, err := o.keys.APIKey(ctx, req.UserID)
	if err != nil || apiKey == "" {
		return ErrAPIKeyMissing
	}

	all, err := o.store.Contacts(ctx, req.CampaignID)
	if err != nil {
		return err
	}

	toCall := req.Contacts
	if len(toCall) == 0 {
		for _, contact := range all {
			if !contact.Called() {
				toCall = append(toCall, contact)
			}
		}
	}
	if req.Resume {
		toCall, err = o.dropAlreadyLogged(ctx, req.CampaignID, toCall)
		if err != nil {
			return err
		}
	}

	total := len(all)
	alreadyCalled := 0
	for _, contact := range all {
		if contact.Called() {
			alreadyCalled++
		}
	}

	if len(toCall) == 0 {
		if req.Resume {
			// Nothing left to dial: the earlier run finished the queue even
			// if the status write never landed.
			return o.complete(ctx, req.CampaignID)
		}
		return ErrNoContactsToCall
	}

	balance, err := o.ledger.Balance(ctx, req.UserID)
	if err != nil && !errors.Is(err, credits.ErrNotFound) {
		return err
	}
	if balance <= 0 {
		return ErrInsufficientCredits
	}
	if balance < int64(len(toCall)) {
		// Pre-flight warning only, not a hard cap: the run proceeds and
		// force-pauses when the balance runs dry mid-flight.
		o.log.Warn("campaign starting with insufficient credits for full queue",
			"campaign_id", req.CampaignID, "balance", balance, "queued", len(toCall))
	}

	if o.guard != nil {
		ok, gerr := o.guard.Acquire(ctx, req.UserID)
		if gerr != nil {
			o.log.Warn("run guard unavailable, proceeding unguarded", "err", gerr)
		} else if !ok {
			return ErrTooManyActiveRuns
		}
	}

	if req.Resume && total > 0 {
		// Surface resumed progress before any new calls land.
		p := progressPct(alreadyCalled, total)
		if err := o.store.UpdateCampaign(ctx, req.CampaignID, campaigns.CampaignPatch{Progress: &p}); err != nil {
			o.releaseGuard(ctx, req.UserID)
			return err
		}
	}

	running := campaigns.StatusInProgress
	hasRun := true
	if err := o.store.UpdateCampaign(ctx, req.CampaignID, campaigns.CampaignPatch{Status: &running, HasRun: &hasRun}); err != nil {
		o.releaseGuard(ctx, req.UserID)
		return err
	}

	// Local-touch grouping is computed once per run and reused by every
	// batch, even as other settings change mid-run.
	var assignments map[string]string
	if c.LocalTouch {
		assignments, err = o.assignOutboundNumbers(ctx, apiKey, toCall)
		if err != nil {
			o.releaseGuard(ctx, req.UserID)
			return err
		}
	}

	st := &runState{
		campaignID:  req.CampaignID,
		userID:      req.UserID,
		apiKey:      apiKey,
		queue:       toCall,
		total:       total,
		assignments: assignments,
	}
	st.called.Store(int64(alreadyCalled))

	// The loop outlives the triggering request.
	runCtx := context.WithoutCancel(ctx)
	launched = true
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.releaseRun(st.campaignID)
		defer o.releaseGuard(runCtx, req.UserID)
		o.run(runCtx, st)
	}()
	return nil
}

// acquireRun registers a live loop for the campaign. False means one exists.
func (o *Orchestrator) acquireRun(campaignID int64) bool {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	if o.runs[campaignID] {
		return false
	}
	o.runs[campaignID] = true
	return true
}

func (o *Orchestrator) releaseRun(campaignID int64) {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	delete(o.runs, campaignID)
}

// SetStatus is the operator control entry: pause a running campaign or resume
// a paused one. A live loop observes a pause on its next poll; resume against
// a still-live loop just flips the status the pause-wait is polling, while
// resume with resuming=true relaunches the loop (crash recovery) and fails
// with ErrCampaignRunning when this process still has one.
func (o *Orchestrator) SetStatus(ctx context.Context, campaignID int64, userID string, status campaigns.Status, resuming bool) error {
	c, err := o.store.Campaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return ErrCampaignNotFound
		}
		return err
	}
	if c.UserID != userID {
		return ErrCampaignNotFound
	}

	if status == campaigns.StatusInProgress && resuming {
		return o.Start(ctx, StartRequest{CampaignID: campaignID, UserID: userID, Resume: true})
	}
	return o.store.UpdateCampaign(ctx, campaignID, campaigns.CampaignPatch{Status: &status})
}

// Wait blocks until every launched loop has finished. Used on shutdown and in
// tests; production loops end only via completion or forced pause.
func (o *Orchestrator) Wait() { o.wg.Wait() }

type runState struct {
	campaignID int64
	userID     string
	apiKey     string

	queue []campaigns.Contact
	total int

	// called only ever increments during a loop's lifetime, which keeps
	// persisted progress non-decreasing. Storage is the source of truth
	// across restarts.
	called atomic.Int64

	// assignments maps contact phone number -> outbound number, precomputed
	// once per run when local touch is enabled.
	assignments map[string]string
}

func (o *Orchestrator) run(ctx context.Context, st *runState) {
	log := o.log.With("campaign_id", st.campaignID, "user_id", st.userID)
	log.Info("dialing loop started", "queued", len(st.queue), "total", st.total)

	for {
		// Latest settings win for calls placed in this iteration.
		c, err := o.store.Campaign(ctx, st.campaignID)
		if err != nil {
			// Continuing without current settings is unsafe.
			log.Error("campaign reload failed, halting loop", "err", err)
			return
		}

		if c.Status == campaigns.StatusPaused {
			// Unbounded wait; only an external status change ends it.
			if o.sleep(ctx, o.cfg.PausePoll) != nil {
				return
			}
			continue
		}
		if c.Status == campaigns.StatusCompleted {
			return
		}

		if len(st.queue) == 0 {
			o.finish(ctx, st, log)
			return
		}

		slots := o.cfg.DefaultSlots
		if qs, err := o.gateway.ConcurrencyStatus(ctx, st.apiKey); err != nil {
			log.Warn("concurrency status unavailable, using default slots", "err", err, "slots", slots)
		} else {
			slots = qs.Available()
		}
		if slots <= 0 {
			if o.sleep(ctx, o.cfg.NoSlotBackoff) != nil {
				return
			}
			continue
		}

		n := slots
		if n > len(st.queue) {
			n = len(st.queue)
		}
		batch := st.queue[:n]
		st.queue = st.queue[n:]

		// All workers settle before the batch is judged; a fatal credit
		// signal stops new batches but never interrupts in-flight siblings.
		var g errgroup.Group
		g.SetLimit(o.cfg.WorkerPool)
		for _, contact := range batch {
			contact := contact
			g.Go(func() error {
				return o.dialContact(ctx, st, c, contact, log)
			})
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, ErrInsufficientCredits) {
				o.forcePause(ctx, st, log)
				return
			}
			log.Error("batch aborted", "err", err)
			return
		}

		if len(st.queue) == 0 {
			o.finish(ctx, st, log)
			return
		}
		if o.sleep(ctx, o.cfg.BatchPacing) != nil {
			return
		}
	}
}

// dialContact runs the per-contact gate sequence: compliance, budget,
// duplicate check, number resolution, placement, durable record. Every
// failure except budget exhaustion is recovered locally by skipping the
// contact.
func (o *Orchestrator) dialContact(ctx context.Context, st *runState, c campaigns.Campaign, contact campaigns.Contact, log *slog.Logger) error {
	excluded, err := o.dnc.IsExcluded(ctx, st.userID, contact.PhoneNumber)
	if err != nil {
		// Can't prove the number is callable; skip rather than risk a
		// compliance violation.
		log.Error("dnc check failed, skipping contact", "contact_id", contact.ID, "err", err)
		return nil
	}
	if excluded {
		// Counts toward progress: the queue item is consumed, just not dialed.
		o.advanceProgress(ctx, st, log)
		log.Info("contact on dnc list, skipped", "contact_id", contact.ID)
		return nil
	}

	// Fresh read: sibling workers drain the same balance concurrently.
	balance, err := o.ledger.Balance(ctx, st.userID)
	if err != nil {
		if errors.Is(err, credits.ErrNotFound) {
			return ErrInsufficientCredits
		}
		log.Error("balance check failed, skipping contact", "contact_id", contact.ID, "err", err)
		return nil
	}
	if balance <= 0 {
		return ErrInsufficientCredits
	}

	// Fresh read guards against a racing worker or a previous run having
	// already dialed this contact.
	fresh, err := o.store.Contact(ctx, contact.ID)
	if err != nil {
		log.Error("contact reload failed, skipping", "contact_id", contact.ID, "err", err)
		return nil
	}
	if fresh.Called() {
		return nil
	}

	from := c.OutboundNumber
	if c.LocalTouch {
		from = st.assignments[fresh.PhoneNumber]
	}
	if from == "" {
		log.Error("no outbound number resolved, skipping contact", "contact_id", contact.ID)
		return nil
	}

	res, err := o.gateway.PlaceCall(ctx, st.apiKey, retell.PlaceCallRequest{
		FromNumber:   from,
		ToNumber:     fresh.PhoneNumber,
		AgentID:      c.AgentID,
		TemplateVars: mergeTemplateVars(fresh.FirstName, fresh.DynamicVars),
	})
	if err != nil {
		log.Error("call placement failed, skipping contact", "contact_id", contact.ID, "err", err)
		return nil
	}

	progress := o.nextProgress(st)
	if err := o.store.RecordPlacedCall(ctx, campaigns.PlacedCall{
		CampaignID:  st.campaignID,
		ContactID:   fresh.ID,
		PhoneNumber: fresh.PhoneNumber,
		FirstName:   fresh.FirstName,
		CallID:      res.CallID,
		Progress:    progress,
	}); err != nil {
		log.Error("placed-call record failed", "contact_id", contact.ID, "call_id", res.CallID, "err", err)
	}

	if err := o.ledger.DecrementOne(ctx, st.userID); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			// The call was placed and recorded; a sibling drained the last
			// credit first. Halt further batches.
			return ErrInsufficientCredits
		}
		log.Error("credit decrement failed", "contact_id", contact.ID, "err", err)
	}
	return nil
}

// advanceProgress consumes a queue item without a placement (DNC skip).
func (o *Orchestrator) advanceProgress(ctx context.Context, st *runState, log *slog.Logger) {
	p := o.nextProgress(st)
	if err := o.store.UpdateCampaign(ctx, st.campaignID, campaigns.CampaignPatch{Progress: &p}); err != nil {
		log.Error("progress update failed", "err", err)
	}
}

func (o *Orchestrator) nextProgress(st *runState) int {
	return progressPct(int(st.called.Add(1)), st.total)
}

func (o *Orchestrator) finish(ctx context.Context, st *runState, log *slog.Logger) {
	if err := o.complete(ctx, st.campaignID); err != nil {
		log.Error("completion update failed", "err", err)
		return
	}
	log.Info("campaign completed", "called", st.called.Load(), "total", st.total)
}

func (o *Orchestrator) complete(ctx context.Context, campaignID int64) error {
	done := campaigns.StatusCompleted
	full := 100
	return o.store.UpdateCampaign(ctx, campaignID, campaigns.CampaignPatch{Status: &done, Progress: &full})
}

// forcePause ends a run that exhausted its credit budget. Not a graceful
// stop: the queue still has contacts, so the campaign parks as Paused.
func (o *Orchestrator) forcePause(ctx context.Context, st *runState, log *slog.Logger) {
	paused := campaigns.StatusPaused
	if err := o.store.UpdateCampaign(ctx, st.campaignID, campaigns.CampaignPatch{Status: &paused}); err != nil {
		log.Error("forced pause update failed", "err", err)
		return
	}
	log.Warn("credits exhausted mid-run, campaign paused", "remaining", len(st.queue))
}

// dropAlreadyLogged removes contacts that already have a call-log row for the
// campaign: a second de-duplication check independent of the CallID field,
// covering the case where a log was written but the contact update never
// landed.
func (o *Orchestrator) dropAlreadyLogged(ctx context.Context, campaignID int64, toCall []campaigns.Contact) ([]campaigns.Contact, error) {
	loggedIDs, err := o.store.CalledContactIDs(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	logged := make(map[int64]bool, len(loggedIDs))
	for _, id := range loggedIDs {
		logged[id] = true
	}
	out := toCall[:0]
	for _, contact := range toCall {
		if !logged[contact.ID] {
			out = append(out, contact)
		}
	}
	return out, nil
}

// assignOutboundNumbers fetches the user's available numbers and precomputes
// each queued contact's best local-touch match.
func (o *Orchestrator) assignOutboundNumbers(ctx context.Context, apiKey string, toCall []campaigns.Contact) (map[string]string, error) {
	numbers, err := o.gateway.ListNumbers(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(numbers))
	for _, n := range numbers {
		candidates = append(candidates, n.Number)
	}
	phones := make([]string, 0, len(toCall))
	for _, contact := range toCall {
		phones = append(phones, contact.PhoneNumber)
	}

	assignments := make(map[string]string, len(phones))
	for number, members := range areacode.GroupByBestNumber(phones, candidates) {
		for _, phone := range members {
			assignments[phone] = number
		}
	}
	return assignments, nil
}

func (o *Orchestrator) releaseGuard(ctx context.Context, userID string) {
	if o.guard == nil {
		return
	}
	if err := o.guard.Release(ctx, userID); err != nil {
		o.log.Warn("run guard release failed", "user_id", userID, "err", err)
	}
}

// mergeTemplateVars builds the call's template variables: the default name
// first, then the contact's dynamic variables layered over it. A
// contact-supplied "name" deliberately overrides the default.
func mergeTemplateVars(firstName string, dynamic map[string]string) map[string]string {
	out := make(map[string]string, len(dynamic)+1)
	out["name"] = firstName
	for k, v := range dynamic {
		out[k] = v
	}
	return out
}

func progressPct(called, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(called) / float64(total) * 100))
}
