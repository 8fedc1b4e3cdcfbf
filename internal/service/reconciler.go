package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
	"github.com/alanyoungcy/trailstop/internal/metrics"
	"github.com/alanyoungcy/trailstop/internal/trailing"
)

// Drift reasons recorded when a symbol leaves the ledger.
const (
	ReasonPositionClosed = "position_closed"
	ReasonOrderMissing   = "order_missing"
	ReasonSideChanged    = "side_changed"
)

// ReconcilerConfig holds the loop cadence and decision thresholds.
type ReconcilerConfig struct {
	Interval        time.Duration
	AlignToInterval bool
	// ActivationThresholdPct is the unrealized PnL, in percent of entry, at
	// which trailing starts.
	ActivationThresholdPct decimal.Decimal
	// UpdateThresholdPct is the minimum stop move, in percent of the current
	// price, worth a cancel-and-recreate.
	UpdateThresholdPct decimal.Decimal
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	VenueTimeout       time.Duration
}

// CycleStatus describes the most recent reconciliation cycle.
type CycleStatus struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Tracked    int       `json:"tracked"`
	Failures   int       `json:"failures"`
	Error      string    `json:"error,omitempty"`
}

// Reconciler keeps the trailing-stop ledger consistent with the venue and
// pushes stop moves when the ratchet justifies them. It is the only writer of
// the ledger.
type Reconciler struct {
	venue   domain.Venue
	ledger  *trailing.Ledger
	updater StopUpdater
	cfg     ReconcilerConfig
	logger  *slog.Logger

	notifier domain.NotificationSink
	location *time.Location
	bus      domain.SignalBus
	audit    domain.AuditStore
	prices   domain.PriceCache
	metrics  *metrics.Metrics

	locks   domain.LockManager
	lockKey string
	lockTTL time.Duration

	alerts sync.WaitGroup

	mu     sync.RWMutex
	status CycleStatus
}

// NewReconciler creates a Reconciler. Zero durations in cfg fall back to a
// one minute interval, 5s to 2m backoff and a 10s venue timeout.
func NewReconciler(
	venue domain.Venue,
	ledger *trailing.Ledger,
	updater StopUpdater,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 5 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(2*time.Minute, cfg.BackoffInitial)
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 10 * time.Second
	}
	return &Reconciler{
		venue:    venue,
		ledger:   ledger,
		updater:  updater,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "reconciler")),
		location: time.UTC,
	}
}

// WithNotifier sends alerts for ledger transitions and failures, with
// timestamps rendered in loc.
func (r *Reconciler) WithNotifier(n domain.NotificationSink, loc *time.Location) *Reconciler {
	r.notifier = n
	if loc != nil {
		r.location = loc
	}
	return r
}

// WithSignalBus publishes every transition on domain.ChannelEvents and
// appends it to domain.StreamEvents.
func (r *Reconciler) WithSignalBus(bus domain.SignalBus) *Reconciler {
	r.bus = bus
	return r
}

// WithAuditStore records every push and removal in the audit log.
func (r *Reconciler) WithAuditStore(audit domain.AuditStore) *Reconciler {
	r.audit = audit
	return r
}

// WithPriceCache stores each valid observed price.
func (r *Reconciler) WithPriceCache(prices domain.PriceCache) *Reconciler {
	r.prices = prices
	return r
}

// WithMetrics records cycle and push counters.
func (r *Reconciler) WithMetrics(m *metrics.Metrics) *Reconciler {
	r.metrics = m
	return r
}

// WithInstanceLock makes Run hold key for as long as it runs so that two
// processes never replace the same orders.
func (r *Reconciler) WithInstanceLock(locks domain.LockManager, key string, ttl time.Duration) *Reconciler {
	r.locks = locks
	r.lockKey = key
	r.lockTTL = ttl
	return r
}

// Snapshot returns copies of every ledger record.
func (r *Reconciler) Snapshot() []domain.PositionState {
	return r.ledger.Snapshot()
}

// Position returns a copy of one ledger record.
func (r *Reconciler) Position(symbol string) (domain.PositionState, bool) {
	return r.ledger.Get(symbol)
}

// Status returns the outcome of the last finished cycle.
func (r *Reconciler) Status() CycleStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Run executes a cycle immediately and then one per interval until ctx is
// cancelled. Cancellation is only observed between cycles: a started cycle
// runs to completion. A failed position fetch delays the next cycle by an
// exponential backoff instead of the interval.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, r.lockKey, r.lockTTL)
		if err != nil {
			return fmt.Errorf("reconciler: acquire instance lock %s: %w", r.lockKey, err)
		}
		defer unlock()
	}

	r.logger.InfoContext(ctx, "reconciler: starting",
		slog.Duration("interval", r.cfg.Interval),
		slog.String("activation_threshold_pct", r.cfg.ActivationThresholdPct.String()),
		slog.String("update_threshold_pct", r.cfg.UpdateThresholdPct.String()),
	)

	backoff := r.cfg.BackoffInitial
	timer := time.NewTimer(0)
	defer timer.Stop()
	defer r.alerts.Wait()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reconciler: stopping")
			return ctx.Err()
		case <-timer.C:
		}

		if r.locks != nil {
			if err := r.locks.Refresh(ctx, r.lockKey, r.lockTTL); err != nil {
				return fmt.Errorf("reconciler: refresh instance lock %s: %w", r.lockKey, err)
			}
		}

		wait := r.nextWait(time.Now())
		if err := r.RunCycle(context.WithoutCancel(ctx)); err != nil {
			wait = jitter(backoff)
			r.logger.ErrorContext(ctx, "reconciler: cycle failed, backing off",
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
			backoff = min(backoff*2, r.cfg.BackoffMax)
		} else {
			backoff = r.cfg.BackoffInitial
		}
		timer.Reset(wait)
	}
}

// nextWait returns the delay to the next cycle, aligned to a wall-clock
// multiple of the interval when configured.
func (r *Reconciler) nextWait(now time.Time) time.Duration {
	if !r.cfg.AlignToInterval {
		return r.cfg.Interval
	}
	next := now.Truncate(r.cfg.Interval).Add(r.cfg.Interval)
	return next.Sub(now)
}

// jitter spreads d by up to ±10%.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.1 * (rand.Float64()*2 - 1)
	return max(d+time.Duration(spread), 0)
}

// cycle carries the per-pass state of RunCycle.
type cycle struct {
	id       string
	logger   *slog.Logger
	pairs    map[string]domain.StopTakeProfit
	failures int
}

// symbolError tags a per-symbol failure with the step it happened in.
type symbolError struct {
	stage string
	err   error
}

func (e *symbolError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *symbolError) Unwrap() error { return e.err }

// RunCycle performs one reconciliation pass. Drift repair for every tracked
// symbol happens before any activation or ratchet, so a stale order id is
// never acted on. Per-symbol failures are logged and skipped; the only error
// returned is a failure to list positions.
func (r *Reconciler) RunCycle(ctx context.Context) error {
	started := time.Now()
	id := uuid.NewString()
	c := &cycle{
		id:     id,
		logger: r.logger.With(slog.String("cycle_id", id)),
		pairs:  make(map[string]domain.StopTakeProfit),
	}

	positions, err := r.fetchPositions(ctx)
	if err != nil {
		err = fmt.Errorf("reconciler: fetch positions: %w", err)
		r.finish(c, started, err)
		return err
	}

	open := make(map[string]domain.VenuePosition, len(positions))
	for _, p := range positions {
		if p.IsOpen() {
			open[p.Symbol] = p
		}
	}

	r.repairDrift(ctx, c, open)
	r.rehydrate(ctx, c, open)

	for _, sym := range r.ledger.Symbols() {
		pair, ok := c.pairs[sym]
		if !ok {
			continue
		}
		if err := r.processSymbol(ctx, c, sym, pair); err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				r.remove(ctx, c, sym, ReasonOrderMissing)
				continue
			}
			r.symbolFailed(ctx, c, sym, err)
		}
	}

	r.finish(c, started, nil)
	return nil
}

// repairDrift drops tracked symbols the venue no longer backs and loads the
// current stop/take-profit pair of the rest.
func (r *Reconciler) repairDrift(ctx context.Context, c *cycle, open map[string]domain.VenuePosition) {
	for _, sym := range r.ledger.Symbols() {
		pos, ok := open[sym]
		if !ok {
			r.remove(ctx, c, sym, ReasonPositionClosed)
			continue
		}
		st, _ := r.ledger.Get(sym)
		if st.Side != pos.Side {
			r.remove(ctx, c, sym, ReasonSideChanged)
			continue
		}

		pair, err := r.fetchPair(ctx, sym)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			r.remove(ctx, c, sym, ReasonOrderMissing)
		case err != nil:
			r.symbolFailed(ctx, c, sym, &symbolError{stage: "fetch_orders", err: err})
		default:
			if pair.StopOrderID != st.StopOrderID {
				r.ledger.SetStopOrderID(sym, pair.StopOrderID)
			}
			c.pairs[sym] = pair
		}
	}
}

// rehydrate starts tracking venue positions the ledger does not know yet. A
// stop already at or beyond the entry price means trailing was active before.
func (r *Reconciler) rehydrate(ctx context.Context, c *cycle, open map[string]domain.VenuePosition) {
	symbols := make([]string, 0, len(open))
	for sym := range open {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		if _, tracked := r.ledger.Get(sym); tracked {
			continue
		}
		pos := open[sym]
		pair, err := r.fetchPair(ctx, sym)
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.logger.DebugContext(ctx, "reconciler: position has no stop/take-profit pair, not tracking",
				slog.String("symbol", sym),
			)
			continue
		}
		if err != nil {
			r.symbolFailed(ctx, c, sym, &symbolError{stage: "rehydrate", err: err})
			continue
		}

		activated := stopProtectsEntry(pos.Side, pair.StopTriggerPrice, pos.EntryPrice)
		r.ledger.Upsert(sym, pos.Side, pos.EntryPrice, pair.StopOrderID, pair.StopTriggerPrice, activated)
		c.pairs[sym] = pair

		c.logger.InfoContext(ctx, "reconciler: tracking position",
			slog.String("symbol", sym),
			slog.String("side", string(pos.Side)),
			slog.String("entry", pos.EntryPrice.String()),
			slog.String("stop", pair.StopTriggerPrice.String()),
			slog.Bool("trailing_activated", activated),
		)
		r.emit(ctx, c, domain.StopEvent{
			Event:      domain.EventPositionTracked,
			Symbol:     sym,
			Side:       pos.Side,
			Entry:      pos.EntryPrice.String(),
			Stop:       pair.StopTriggerPrice.String(),
			TakeProfit: pair.TPTriggerPrice.String(),
			OrderID:    pair.StopOrderID,
		})
	}
}

// stopProtectsEntry reports whether stop sits at or beyond entry in the
// position's favour.
func stopProtectsEntry(side domain.Side, stop, entry decimal.Decimal) bool {
	if side == domain.SideShort {
		return stop.LessThanOrEqual(entry)
	}
	return stop.GreaterThanOrEqual(entry)
}

// processSymbol activates or ratchets one tracked symbol.
func (r *Reconciler) processSymbol(ctx context.Context, c *cycle, sym string, pair domain.StopTakeProfit) error {
	price, err := r.fetchPrice(ctx, sym)
	if err != nil {
		return &symbolError{stage: "fetch_price", err: err}
	}
	if err := domain.ValidatePrice(price); err != nil {
		return &symbolError{stage: "fetch_price", err: err}
	}
	r.cachePrice(ctx, sym, price)

	st, ok := r.ledger.Get(sym)
	if !ok {
		return nil
	}

	if !st.TrailingActivated {
		pnl := domain.UnrealizedPnLPercent(st.Side, st.EntryPrice, price)
		if pnl.LessThan(r.cfg.ActivationThresholdPct) {
			c.logger.DebugContext(ctx, "reconciler: below activation threshold",
				slog.String("symbol", sym),
				slog.String("pnl_pct", pnl.StringFixed(4)),
			)
			return nil
		}
		r.ledger.Activate(sym, price)
		st, _ = r.ledger.Get(sym)

		newPair, err := r.push(ctx, sym, st, pair)
		if err != nil {
			return &symbolError{stage: "activate", err: err}
		}
		r.metrics.Activated()
		c.logger.InfoContext(ctx, "reconciler: trailing activated",
			slog.String("symbol", sym),
			slog.String("price", price.String()),
			slog.String("pnl_pct", pnl.StringFixed(4)),
			slog.String("stop", st.CurrentStop.String()),
		)
		r.emit(ctx, c, stopEvent(domain.EventTrailingActivated, st, pair, newPair, price))
		return nil
	}

	// A failed push leaves the ledger ahead of the venue. Comparing against
	// the venue's stop, not only on a fresh extremum, retries it next cycle.
	ratcheted := r.ledger.UpdateStop(sym, price)
	st, _ = r.ledger.Get(sym)

	if !venueLags(st.Side, pair.StopTriggerPrice, st.CurrentStop) {
		return nil
	}
	if !r.exceedsUpdateThreshold(st.CurrentStop, pair.StopTriggerPrice, price) {
		if ratcheted {
			r.metrics.Skipped()
			c.logger.DebugContext(ctx, "reconciler: stop move below update threshold",
				slog.String("symbol", sym),
				slog.String("stop", st.CurrentStop.String()),
				slog.String("venue_stop", pair.StopTriggerPrice.String()),
			)
		}
		return nil
	}

	event, stage := domain.EventStopUpdated, "update"
	if !stopProtectsEntry(st.Side, pair.StopTriggerPrice, st.EntryPrice) {
		// The break-even push of an earlier activation never reached the venue.
		event, stage = domain.EventTrailingActivated, "activate"
	}

	newPair, err := r.push(ctx, sym, st, pair)
	if err != nil {
		return &symbolError{stage: stage, err: err}
	}
	if event == domain.EventTrailingActivated {
		r.metrics.Activated()
	} else {
		r.metrics.Pushed()
	}
	c.logger.InfoContext(ctx, "reconciler: stop updated",
		slog.String("symbol", sym),
		slog.String("price", price.String()),
		slog.String("old_stop", pair.StopTriggerPrice.String()),
		slog.String("stop", st.CurrentStop.String()),
		slog.String("af", st.AccelerationFactor.String()),
		slog.Bool("retry", !ratcheted),
	)
	r.emit(ctx, c, stopEvent(event, st, pair, newPair, price))
	return nil
}

// venueLags reports whether the venue's stop is looser than the ledger's.
// A venue stop that is already tighter is never pulled back.
func venueLags(side domain.Side, venueStop, ledgerStop decimal.Decimal) bool {
	if side == domain.SideShort {
		return venueStop.GreaterThan(ledgerStop)
	}
	return venueStop.LessThan(ledgerStop)
}

// exceedsUpdateThreshold compares the move from the venue's stop to the new
// stop against the update threshold, in percent of the current price. The
// venue's stop is the last pushed value whenever the last push succeeded; after
// a failed push it is the value still protecting the position, so the gap
// keeps the retry alive.
func (r *Reconciler) exceedsUpdateThreshold(newStop, venueStop, price decimal.Decimal) bool {
	move := newStop.Sub(venueStop).Abs()
	if move.IsZero() {
		return false
	}
	pct := move.Div(price).Mul(decimal.NewFromInt(100))
	return pct.GreaterThan(r.cfg.UpdateThresholdPct)
}

// push replaces the venue pair with one at the ledger's stop and records the
// new stop order id.
func (r *Reconciler) push(ctx context.Context, sym string, st domain.PositionState, pair domain.StopTakeProfit) (domain.OrderPair, error) {
	// Replacement gets twice the single-call budget: it is two venue calls.
	pctx, cancel := context.WithTimeout(ctx, 2*r.cfg.VenueTimeout)
	defer cancel()

	newPair, err := r.updater.UpdateStop(pctx, sym, st.Side, pair, st.CurrentStop)
	if err != nil {
		return domain.OrderPair{}, err
	}
	r.ledger.SetStopOrderID(sym, newPair.StopOrderID)
	return newPair, nil
}

func stopEvent(event string, st domain.PositionState, old domain.StopTakeProfit, pair domain.OrderPair, price decimal.Decimal) domain.StopEvent {
	return domain.StopEvent{
		Event:      event,
		Symbol:     st.Symbol,
		Side:       st.Side,
		Entry:      st.EntryPrice.String(),
		Stop:       st.CurrentStop.String(),
		TakeProfit: old.TPTriggerPrice.String(),
		Price:      price.String(),
		AF:         st.AccelerationFactor.String(),
		OrderID:    pair.StopOrderID,
	}
}

func (r *Reconciler) remove(ctx context.Context, c *cycle, sym, reason string) {
	st, _ := r.ledger.Get(sym)
	r.ledger.Remove(sym)
	delete(c.pairs, sym)
	r.metrics.Removed(reason)

	c.logger.WarnContext(ctx, "reconciler: removed position from trailing-stop tracking",
		slog.String("symbol", sym),
		slog.String("reason", reason),
	)
	r.emit(ctx, c, domain.StopEvent{
		Event:  domain.EventPositionRemoved,
		Symbol: sym,
		Side:   st.Side,
		Entry:  st.EntryPrice.String(),
		Stop:   st.CurrentStop.String(),
		Reason: reason,
	})
}

func (r *Reconciler) symbolFailed(ctx context.Context, c *cycle, sym string, err error) {
	c.failures++
	stage := "unknown"
	var se *symbolError
	if errors.As(err, &se) {
		stage = se.stage
	}
	r.metrics.Failed(stage)

	c.logger.ErrorContext(ctx, "reconciler: symbol skipped this cycle",
		slog.String("symbol", sym),
		slog.String("stage", stage),
		slog.Bool("venue_unavailable", errors.Is(err, domain.ErrVenueUnavailable) || errors.Is(err, context.DeadlineExceeded)),
		slog.String("error", err.Error()),
	)
	r.emit(ctx, c, domain.StopEvent{
		Event:  domain.EventReconcileFailed,
		Symbol: sym,
		Reason: err.Error(),
	})
}

func (r *Reconciler) finish(c *cycle, started time.Time, err error) {
	finished := time.Now()
	status := CycleStatus{
		CycleID:    c.id,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Tracked:    r.ledger.Len(),
		Failures:   c.failures,
	}
	if err != nil {
		status.Error = err.Error()
	}
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	r.metrics.CycleDone(err == nil, finished.Sub(started).Seconds(), status.Tracked)
	if err == nil {
		c.logger.Info("reconciler: cycle complete",
			slog.Int("tracked", status.Tracked),
			slog.Int("failures", status.Failures),
			slog.Duration("took", finished.Sub(started)),
		)
	}
}

// emit fans a transition out to the bus, the audit log and the notifier. None
// of these can fail the cycle.
func (r *Reconciler) emit(ctx context.Context, c *cycle, evt domain.StopEvent) {
	evt.CycleID = c.id
	evt.Timestamp = time.Now().UTC()

	if r.bus != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			if err := r.bus.Publish(ctx, domain.ChannelEvents, payload); err != nil {
				c.logger.WarnContext(ctx, "reconciler: publish event failed",
					slog.String("event", evt.Event),
					slog.String("error", err.Error()),
				)
			}
			if err := r.bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
				c.logger.WarnContext(ctx, "reconciler: stream append failed",
					slog.String("event", evt.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if r.audit != nil && evt.Event != domain.EventReconcileFailed {
		if err := r.audit.Log(ctx, evt.Event, auditDetail(evt)); err != nil {
			c.logger.WarnContext(ctx, "reconciler: audit log failed",
				slog.String("event", evt.Event),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.notifier != nil {
		title, body := formatAlert(evt, r.location)
		r.alerts.Add(1)
		go func() {
			defer r.alerts.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := r.notifier.Notify(nctx, evt.Event, title, body); err != nil {
				r.logger.WarnContext(nctx, "reconciler: notification failed",
					slog.String("event", evt.Event),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

func auditDetail(evt domain.StopEvent) map[string]any {
	detail := map[string]any{
		"cycle_id": evt.CycleID,
		"symbol":   evt.Symbol,
	}
	for k, v := range map[string]string{
		"side":          string(evt.Side),
		"entry_price":   evt.Entry,
		"stop_price":    evt.Stop,
		"tp_price":      evt.TakeProfit,
		"price":         evt.Price,
		"af":            evt.AF,
		"stop_order_id": evt.OrderID,
		"reason":        evt.Reason,
	} {
		if v != "" {
			detail[k] = v
		}
	}
	return detail
}

func (r *Reconciler) cachePrice(ctx context.Context, sym string, price decimal.Decimal) {
	if r.prices == nil {
		return
	}
	if err := r.prices.SetPrice(ctx, sym, price, time.Now().UTC()); err != nil {
		r.logger.DebugContext(ctx, "reconciler: cache price failed",
			slog.String("symbol", sym),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) fetchPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	vctx, cancel := context.WithTimeout(ctx, r.cfg.VenueTimeout)
	defer cancel()
	return r.venue.FetchPositions(vctx)
}

func (r *Reconciler) fetchPair(ctx context.Context, sym string) (domain.StopTakeProfit, error) {
	vctx, cancel := context.WithTimeout(ctx, r.cfg.VenueTimeout)
	defer cancel()
	return r.venue.FetchStopTakeProfit(vctx, sym)
}

func (r *Reconciler) fetchPrice(ctx context.Context, sym string) (decimal.Decimal, error) {
	vctx, cancel := context.WithTimeout(ctx, r.cfg.VenueTimeout)
	defer cancel()
	return r.venue.FetchPrice(vctx, sym)
}
