package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Dialer is the periodic control loop that drives bulk dialing: per running
// campaign it applies the time gate, computes available slots, claims
// eligible numbers, and hands placement tasks to a bounded worker pool.
//
// Admission note: availableSlots is computed from a point-in-time read of
// active_calls, so two overlapping ticks can transiently admit a few calls
// past the budget. The per-number claim is atomic, the worker pool bounds
// real concurrency, and the overshoot is bounded by one tick's selection;
// accepted imprecision, not a correctness violation.
type Dialer struct {
	cfg      DialerConfig
	store    Store
	agents   provider.ConfigStore
	router   *provider.Router
	registry *call.Registry
	rdb      *redis.Client
	retry    RetryPolicy
	log      *slog.Logger
	clock    func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

type DialerConfig struct {
	TickInterval       time.Duration
	CompletionInterval time.Duration
	Workers            int

	// GlobalMaxCalls caps live calls process-wide through the redis
	// concurrency cap; 0 disables it.
	GlobalMaxCalls int

	// CapTTL bounds a leaked global slot after a crash.
	CapTTL time.Duration
}

const globalCapKey = "dialer:active_calls"

func NewDialer(
	cfg DialerConfig,
	store Store,
	agents provider.ConfigStore,
	router *provider.Router,
	registry *call.Registry,
	rdb *redis.Client,
	log *slog.Logger,
) *Dialer {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.CompletionInterval <= 0 {
		cfg.CompletionInterval = 2 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.CapTTL <= 0 {
		cfg.CapTTL = 4 * time.Hour
	}
	return &Dialer{
		cfg:      cfg,
		store:    store,
		agents:   agents,
		router:   router,
		registry: registry,
		rdb:      rdb,
		retry:    DefaultRetryPolicy(),
		log:      log,
		clock:    time.Now,
		sem:      make(chan struct{}, cfg.Workers),
	}
}

// Run drives the admission and completion loops until ctx ends, then waits
// for in-flight placement tasks to settle.
func (d *Dialer) Run(ctx context.Context) {
	tick := time.NewTicker(d.cfg.TickInterval)
	defer tick.Stop()
	completion := time.NewTicker(d.cfg.CompletionInterval)
	defer completion.Stop()

	d.log.Info("dialer started",
		"tick", d.cfg.TickInterval, "completion", d.cfg.CompletionInterval, "workers", d.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.log.Info("dialer stopped")
			return
		case <-tick.C:
			d.tick(ctx)
		case <-completion.C:
			d.checkCompletion(ctx)
		}
	}
}

// tick runs one admission pass over every running campaign.
func (d *Dialer) tick(ctx context.Context) {
	campaigns, err := d.store.LoadRunning(ctx)
	if err != nil {
		d.log.Error("dialer: load running campaigns failed", "err", err)
		return
	}
	if len(campaigns) == 0 {
		return
	}

	dnc, err := d.store.LoadDoNotCallSet(ctx)
	if err != nil {
		d.log.Error("dialer: load do-not-call set failed", "err", err)
		return
	}

	now := d.clock().UTC()
	for _, c := range campaigns {
		if !c.InCallWindow(now) {
			continue
		}
		slots := c.ConcurrentCalls - c.ActiveCalls
		if slots <= 0 {
			continue
		}
		d.admit(ctx, c, slots, dnc, now)
	}
}

func (d *Dialer) admit(ctx context.Context, c Campaign, slots int, dnc map[string]struct{}, now time.Time) {
	maxAttempts := c.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	numbers, err := d.store.LoadEligibleNumbers(ctx, c.ListID, maxAttempts, slots)
	if err != nil {
		d.log.Error("dialer: load eligible numbers failed", "campaign_id", c.ID, "err", err)
		return
	}

	admitted := 0
	for _, n := range numbers {
		if admitted >= slots {
			break
		}
		if !ValidPhone(n.Phone) {
			_ = d.store.FinishNumber(ctx, n.ID, NumberStatusFailed)
			_ = d.store.SkipNumber(ctx, c.ID)
			continue
		}
		if _, blocked := dnc[n.Phone]; blocked {
			_ = d.store.FinishNumber(ctx, n.ID, NumberStatusOptedOut)
			_ = d.store.SkipNumber(ctx, c.ID)
			continue
		}

		claimed, err := d.store.ClaimNumber(ctx, c.ID, n.ID, maxAttempts, now)
		if err != nil {
			d.log.Error("dialer: claim failed", "campaign_id", c.ID, "number_id", n.ID, "err", err)
			continue
		}
		if !claimed {
			continue // a racing tick won this number
		}

		admitted++
		callID := uuid.NewString()
		d.wg.Add(1)
		go d.placeCall(ctx, c, n, callID)
	}
	if admitted > 0 {
		d.log.Info("dialer: admitted calls", "campaign_id", c.ID, "admitted", admitted, "slots", slots)
	}
}

// placeCall is one asynchronous call-placement task. It owns the claimed
// number end-to-end: initiation with retry, waiting out the live call, and
// the single atomic completion update.
func (d *Dialer) placeCall(ctx context.Context, c Campaign, n Number, callID string) {
	defer d.wg.Done()

	// Bounded worker pool: this, not slot arithmetic, is the real
	// concurrency ceiling.
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		d.finishDurably(context.Background(), c.ID, false)
		return
	}

	if d.cfg.GlobalMaxCalls > 0 {
		ok, err := utils.AcquireConcurrencyCap(ctx, d.rdb, globalCapKey, d.cfg.GlobalMaxCalls, d.cfg.CapTTL)
		if err != nil || !ok {
			if err != nil {
				d.log.Error("dialer: global cap acquire failed", "err", err)
			}
			// The attempt was consumed by the claim; count it as failed so
			// the campaign still converges.
			d.finishDurably(ctx, c.ID, false)
			return
		}
		defer func() {
			if err := utils.ReleaseConcurrencyCap(context.Background(), d.rdb, globalCapKey); err != nil {
				d.log.Error("dialer: global cap release failed", "err", err)
			}
		}()
	}

	log := d.log.With("campaign_id", c.ID, "call_id", callID, "to", n.Phone)

	agent, err := d.agents.LoadAgentConfig(ctx, c.AgentID)
	if err != nil {
		log.Error("placement failed: agent config", "err", err)
		d.settle(ctx, c, n, call.StateFailed)
		return
	}
	p, err := d.router.Route(agent)
	if err != nil {
		log.Error("placement failed: routing", "err", err)
		d.settle(ctx, c, n, call.StateFailed)
		return
	}

	req := provider.InitiateRequest{
		CallID:       callID,
		Agent:        agent,
		To:           n.Phone,
		CallerID:     agent.CallerID,
		CampaignID:   c.ID,
		CustomerName: n.Name,
	}

	err = d.retry.Do(ctx, func(ctx context.Context) error {
		_, err := p.Initiate(ctx, req)
		return err
	})
	if err != nil {
		class := provider.Classify(err)
		if class == provider.ClassCanceled {
			log.Info("placement canceled")
		} else {
			log.Error("placement failed", "class", class.String(), "err", err)
		}
		d.settle(ctx, c, n, call.StateFailed)
		return
	}

	sess, ok := d.registry.Get(callID)
	if !ok {
		// Initiate succeeded but the session already finished and was
		// evicted; read nothing, count it completed-unsuccessful.
		d.settle(ctx, c, n, call.StateFailed)
		return
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		// Shutdown: ask the owning provider to end the call, then wait for
		// the terminal transition so accounting stays exact.
		endCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, _ = p.EndCall(endCtx, callID)
		cancel()
		<-sess.Done()
	}

	outcome := sess.Outcome()
	log.Info("placement settled", "outcome", string(outcome))
	d.settle(context.Background(), c, n, outcome)
}

// settle records the terminal outcome: the one-statement campaign counter
// update plus the number's final status.
func (d *Dialer) settle(ctx context.Context, c Campaign, n Number, outcome call.State) {
	success := outcome == call.StateCompleted || outcome == call.StateTransferred
	d.finishDurably(ctx, c.ID, success)

	maxAttempts := c.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	switch {
	case success:
		_ = d.store.FinishNumber(ctx, n.ID, NumberStatusCompleted)
	case n.Attempts+1 >= maxAttempts:
		_ = d.store.FinishNumber(ctx, n.ID, NumberStatusFailed)
	default:
		// Attempts remain; the number stays pending and is re-selected by a
		// later tick.
	}
}

// finishDurably applies the atomic completion update, retrying so a
// persistence blip cannot lose a terminal outcome.
func (d *Dialer) finishDurably(ctx context.Context, campaignID string, success bool) {
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := d.store.FinishCall(ctx, campaignID, success)
		if err == nil {
			return
		}
		if attempt >= 6 {
			d.log.Error("dialer: completion update lost after retries", "campaign_id", campaignID, "err", err)
			return
		}
		d.log.Warn("dialer: completion update failed, retrying", "campaign_id", campaignID, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			// Keep trying on a background context; the outcome must land.
			ctx = context.Background()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// checkCompletion is the lower-frequency loop transitioning campaigns whose
// hopper is exhausted.
func (d *Dialer) checkCompletion(ctx context.Context) {
	campaigns, err := d.store.LoadRunning(ctx)
	if err != nil {
		d.log.Error("dialer: completion check load failed", "err", err)
		return
	}
	for _, c := range campaigns {
		if c.TotalNumbers == 0 || c.CompletedCalls < c.TotalNumbers {
			continue
		}
		done, err := d.store.MarkCompleted(ctx, c.ID)
		if err != nil {
			d.log.Error("dialer: mark completed failed", "campaign_id", c.ID, "err", err)
			continue
		}
		if done {
			d.log.Info("campaign completed", "campaign_id", c.ID, "completed", c.CompletedCalls, "total", c.TotalNumbers)
		}
	}
}

// Pause stops admission for the campaign and ends its in-flight calls.
func (d *Dialer) Pause(ctx context.Context, campaignID string) error {
	if err := d.store.SetStatus(ctx, campaignID, StatusPaused); err != nil {
		return err
	}
	var ended int
	d.registry.Each(func(s *call.Session) {
		if s.CampaignID != campaignID {
			return
		}
		p, ok := d.router.ByName(s.Provider)
		if !ok {
			return
		}
		if _, err := p.EndCall(ctx, s.CallID); err != nil {
			d.log.Warn("pause: end call failed", "call_id", s.CallID, "err", err)
			return
		}
		ended++
	})
	d.log.Info("campaign paused", "campaign_id", campaignID, "calls_ended", ended)
	return nil
}

// Resume re-enables admission; the next tick picks the campaign up.
func (d *Dialer) Resume(ctx context.Context, campaignID string) error {
	if err := d.store.SetStatus(ctx, campaignID, StatusRunning); err != nil {
		return err
	}
	d.log.Info("campaign resumed", "campaign_id", campaignID)
	return nil
}

// ActiveDescription summarizes live load for health output.
func (d *Dialer) ActiveDescription() string {
	return fmt.Sprintf("%d live sessions, %d/%d workers busy", d.registry.Len(), len(d.sem), cap(d.sem))
}
