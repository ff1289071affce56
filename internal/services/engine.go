package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/monitoring"
	"taixiu-backend/internal/storage"
)

var (
	ErrInvalidSide         = errors.New("invalid side")
	ErrBetOutOfRange       = errors.New("bet amount out of range")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrExceedsMaxBet       = errors.New("accumulated bet exceeds max bet")
	ErrNoActiveSession     = errors.New("no active session")
	ErrBettingClosed       = errors.New("betting window closed")
	ErrMissingParticipant  = errors.New("participant id is required")

	ErrBetweenRounds = errors.New("next round is starting")
	ErrEngineClosed  = errors.New("engine is shut down")
	ErrInvalidScope  = errors.New("scope is required")
)

var declineCodes = map[error]string{
	ErrInvalidSide:         "invalid_side",
	ErrBetOutOfRange:       "out_of_range",
	ErrInsufficientBalance: "insufficient_balance",
	ErrExceedsMaxBet:       "exceeds_max_bet",
	ErrNoActiveSession:     "no_active_session",
	ErrBettingClosed:       "betting_closed",
	ErrMissingParticipant:  "missing_participant",
}

// DeclineError is a wager the engine refused. It never indicates an internal
// failure; callers show Error() to the participant.
type DeclineError struct {
	Reason error
	Detail string
}

func (e *DeclineError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *DeclineError) Unwrap() error { return e.Reason }

// Code is a stable machine-readable reason.
func (e *DeclineError) Code() string {
	if code, ok := declineCodes[e.Reason]; ok {
		return code
	}
	return "declined"
}

func decline(reason error, format string, args ...any) error {
	return &DeclineError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

type EngineConfig struct {
	Rules          models.Rules
	BettingWindow  time.Duration
	PollInterval   time.Duration
	NextRoundDelay time.Duration
	// SettleTimeout bounds the store calls made while settling one session.
	SettleTimeout time.Duration
}

type OpenRequest struct {
	Scope string
	// Sink receives this scope's snapshots and results in addition to the
	// engine-wide broadcaster. Re-opening a running scope replaces it.
	Sink Broadcaster
}

type WagerRequest struct {
	Scope         string
	ParticipantID string
	DisplayName   string
	Amount        int64
	Side          string
}

// Engine runs one round loop per scope. Scopes are independent; each
// session is its own unit of mutual exclusion.
type Engine struct {
	cfg         EngineConfig
	store       storage.Store
	generator   *OutcomeGenerator
	patterns    *PatternAnalyzer
	broadcaster Broadcaster
	log         *zap.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	scopes map[string]*scopeLoop
	closed bool
}

// scopeLoop is the per-scope registry entry. current is nil between rounds.
type scopeLoop struct {
	scope string

	mu      sync.RWMutex
	current *session
	last    *models.SessionResult
	sink    Broadcaster
}

func NewEngine(cfg EngineConfig, store storage.Store, broadcaster Broadcaster, log *zap.Logger, metrics *monitoring.Metrics) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		store:       store,
		generator:   NewOutcomeGenerator(cfg.Rules, log),
		patterns:    NewPatternAnalyzer(cfg.Rules.HistorySize),
		broadcaster: broadcaster,
		log:         log,
		metrics:     metrics,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		scopes:      make(map[string]*scopeLoop),
	}
}

// LoadHistory seeds the pattern analyzer from persisted outcomes.
func (e *Engine) LoadHistory(ctx context.Context) error {
	outcomes, err := e.store.RecentOutcomes(ctx, e.cfg.Rules.HistorySize)
	if err != nil {
		return fmt.Errorf("load outcome history: %w", err)
	}
	sides := make([]models.Side, len(outcomes))
	for i, o := range outcomes {
		sides[len(outcomes)-1-i] = o.Side
	}
	e.patterns.SetHistory(sides)
	return nil
}

func (e *Engine) Rules() models.Rules { return e.cfg.Rules }

// OpenSession starts the round loop for a scope. If the loop is already
// running it returns the current snapshot.
func (e *Engine) OpenSession(ctx context.Context, req OpenRequest) (models.SessionSnapshot, error) {
	scope := strings.TrimSpace(req.Scope)
	if scope == "" {
		return models.SessionSnapshot{}, ErrInvalidScope
	}
	if err := ctx.Err(); err != nil {
		return models.SessionSnapshot{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return models.SessionSnapshot{}, ErrEngineClosed
	}
	if loop, ok := e.scopes[scope]; ok {
		e.mu.Unlock()
		if req.Sink != nil {
			loop.setSink(req.Sink)
		}
		sess := loop.session()
		if sess == nil {
			return models.SessionSnapshot{}, ErrBetweenRounds
		}
		return sess.snapshot(e.now()), nil
	}

	loop := &scopeLoop{scope: scope, sink: req.Sink}
	sess := newSession(scope, e.now(), e.cfg.BettingWindow)
	loop.current = sess
	e.scopes[scope] = loop
	e.wg.Add(1)
	active := len(e.scopes)
	e.mu.Unlock()

	e.metrics.SetActiveScopes(active)
	e.metrics.SessionOpened(scope)
	e.log.Info("session opened",
		zap.String("scope", scope),
		zap.String("session_id", sess.id),
		zap.Time("close_at", sess.closeAt),
	)

	snapshot := sess.snapshot(e.now())
	go e.run(loop, sess)
	return snapshot, nil
}

// PlaceWager validates and applies a wager to the scope's open session.
// Refusals are returned as *DeclineError.
func (e *Engine) PlaceWager(ctx context.Context, req WagerRequest) (models.SessionSnapshot, error) {
	snapshot, err := e.placeWager(ctx, req)
	var declined *DeclineError
	if errors.As(err, &declined) {
		e.metrics.WagerDeclined(declined.Code())
		e.log.Debug("wager declined",
			zap.String("scope", req.Scope),
			zap.String("participant_id", req.ParticipantID),
			zap.Int64("amount", req.Amount),
			zap.String("reason", declined.Code()),
		)
	}
	return snapshot, err
}

func (e *Engine) placeWager(ctx context.Context, req WagerRequest) (models.SessionSnapshot, error) {
	rules := e.cfg.Rules

	if strings.TrimSpace(req.ParticipantID) == "" {
		return models.SessionSnapshot{}, decline(ErrMissingParticipant, "wager has no participant")
	}

	side, err := models.ParseSide(req.Side)
	if err != nil {
		return models.SessionSnapshot{}, decline(ErrInvalidSide, "%q is not high or low", req.Side)
	}

	loop := e.loop(req.Scope)
	if loop == nil {
		return models.SessionSnapshot{}, decline(ErrNoActiveSession, "scope %q", req.Scope)
	}
	sess := loop.session()
	if sess == nil {
		return models.SessionSnapshot{}, decline(ErrNoActiveSession, "next round has not opened")
	}

	if req.Amount < rules.MinBet || req.Amount > rules.MaxBet {
		return models.SessionSnapshot{}, decline(ErrBetOutOfRange, "must be between %s and %s",
			models.FormatCurrency(rules.MinBet), models.FormatCurrency(rules.MaxBet))
	}

	player, err := e.store.GetOrCreatePlayer(ctx, req.ParticipantID, req.DisplayName)
	if err != nil {
		return models.SessionSnapshot{}, fmt.Errorf("load player: %w", err)
	}

	now := e.now()
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.acceptingLocked(now) {
		return models.SessionSnapshot{}, decline(ErrBettingClosed, "session %s", sess.id)
	}

	amount := req.Amount
	if existing, ok := sess.wagers[req.ParticipantID]; ok && existing.Side == side {
		amount = existing.Amount + req.Amount
		if amount > rules.MaxBet {
			return models.SessionSnapshot{}, decline(ErrExceedsMaxBet, "total %s is above %s",
				models.FormatCurrency(amount), models.FormatCurrency(rules.MaxBet))
		}
	}
	if amount > player.Balance {
		return models.SessionSnapshot{}, decline(ErrInsufficientBalance, "balance %s, need %s",
			models.FormatCurrency(player.Balance), models.FormatCurrency(amount))
	}

	sess.placeLocked(models.Wager{
		ParticipantID: req.ParticipantID,
		DisplayName:   player.Username,
		Amount:        amount,
		Side:          side,
		UpdatedAt:     now,
	})
	e.metrics.WagerPlaced(string(side))

	return sess.snapshotLocked(now), nil
}

// Snapshot returns the scope's open session view.
func (e *Engine) Snapshot(scope string) (models.SessionSnapshot, error) {
	loop := e.loop(scope)
	if loop == nil {
		return models.SessionSnapshot{}, ErrNoActiveSession
	}
	sess := loop.session()
	if sess == nil {
		return models.SessionSnapshot{}, ErrBetweenRounds
	}
	return sess.snapshot(e.now()), nil
}

// Wager returns the participant's current wager in the scope's session.
func (e *Engine) Wager(scope, participantID string) (models.Wager, bool) {
	loop := e.loop(scope)
	if loop == nil {
		return models.Wager{}, false
	}
	sess := loop.session()
	if sess == nil {
		return models.Wager{}, false
	}
	return sess.wager(participantID)
}

// LastResult returns the most recently settled result for a scope.
func (e *Engine) LastResult(scope string) (models.SessionResult, bool) {
	loop := e.loop(scope)
	if loop == nil {
		return models.SessionResult{}, false
	}
	loop.mu.RLock()
	defer loop.mu.RUnlock()
	if loop.last == nil {
		return models.SessionResult{}, false
	}
	return *loop.last, true
}

func (e *Engine) Scopes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	scopes := make([]string, 0, len(e.scopes))
	for scope := range e.scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

func (e *Engine) GetBalance(ctx context.Context, participantID, displayName string) (int64, error) {
	player, err := e.store.GetOrCreatePlayer(ctx, participantID, displayName)
	if err != nil {
		return 0, err
	}
	return player.Balance, nil
}

func (e *Engine) OutcomeHistory(ctx context.Context, limit int) ([]models.Outcome, error) {
	return e.store.RecentOutcomes(ctx, e.clampLimit(limit))
}

func (e *Engine) PlayerHistory(ctx context.Context, participantID string, limit int) ([]models.WagerHistory, error) {
	return e.store.PlayerWagers(ctx, participantID, e.clampLimit(limit))
}

func (e *Engine) Patterns() PatternReport {
	return e.patterns.Analyze()
}

// VerifyOutcome recomputes a persisted outcome from its pre-image.
func (e *Engine) VerifyOutcome(ctx context.Context, id int64) (stored, recomputed models.Outcome, ok bool, err error) {
	stored, err = e.store.GetOutcome(ctx, id)
	if err != nil {
		return models.Outcome{}, models.Outcome{}, false, err
	}
	recomputed, ok = e.generator.Verify(stored)
	recomputed.ID = stored.ID
	return stored, recomputed, ok, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 || limit > e.cfg.Rules.HistorySize {
		return e.cfg.Rules.HistorySize
	}
	return limit
}

// Shutdown stops every round loop. Sessions still open are discarded
// unsettled; a settlement already in progress finishes first.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) loop(scope string) *scopeLoop {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scopes[strings.TrimSpace(scope)]
}

// run drives a scope through rounds until the engine shuts down.
func (e *Engine) run(loop *scopeLoop, sess *session) {
	defer e.wg.Done()
	defer e.removeLoop(loop)

	for {
		if !e.waitForClose(loop, sess) {
			return
		}
		e.closeSession(loop, sess)

		delay := time.NewTimer(e.cfg.NextRoundDelay)
		select {
		case <-e.ctx.Done():
			delay.Stop()
			return
		case <-delay.C:
		}

		sess = newSession(loop.scope, e.now(), e.cfg.BettingWindow)
		loop.setSession(sess)
		e.metrics.SessionOpened(loop.scope)
		e.log.Info("session opened",
			zap.String("scope", loop.scope),
			zap.String("session_id", sess.id),
			zap.Time("close_at", sess.closeAt),
		)
		e.broadcastSnapshot(loop, sess.snapshot(e.now()))
	}
}

// waitForClose polls until close-at, publishing a snapshot on every poll.
// It returns false if the engine shut down first.
func (e *Engine) waitForClose(loop *scopeLoop, sess *session) bool {
	for {
		remaining := sess.closeAt.Sub(e.now())
		if remaining <= 0 {
			return true
		}
		wait := e.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			loop.clearSession(sess)
			e.log.Info("session discarded on shutdown",
				zap.String("scope", loop.scope),
				zap.String("session_id", sess.id),
			)
			return false
		case <-timer.C:
		}

		e.broadcastSnapshot(loop, sess.tick(e.now()))
	}
}

// closeSession settles a session. It always leaves the scope without an
// active session so the loop can open the next one.
func (e *Engine) closeSession(loop *scopeLoop, sess *session) {
	started := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.metrics.SettlementError("panic")
			e.log.Error("panic during settlement",
				zap.String("scope", loop.scope),
				zap.String("session_id", sess.id),
				zap.Any("panic", r),
			)
			loop.clearSession(sess)
		}
	}()

	wagers := sess.freeze()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), e.cfg.SettleTimeout)
	defer cancel()

	result := e.settle(ctx, sess, wagers)
	sess.markSettled()
	loop.finish(sess, result)
	e.metrics.SessionSettled(loop.scope, string(result.Outcome.Side), e.now().Sub(started).Seconds())
	e.log.Info("session settled",
		zap.String("scope", loop.scope),
		zap.String("session_id", sess.id),
		zap.Ints("dice", result.Outcome.Dice),
		zap.String("side", string(result.Outcome.Side)),
		zap.Int("winners", len(result.Winners)),
		zap.Int("losers", len(result.Losers)),
	)
	e.broadcastResult(loop, result)
}

// settle rolls the outcome and applies every frozen wager. Store failures
// are logged and skipped.
func (e *Engine) settle(ctx context.Context, sess *session, wagers []models.Wager) models.SessionResult {
	outcome := e.generator.Generate()

	recorded := true
	id, err := e.store.RecordOutcome(ctx, outcome)
	if err != nil {
		recorded = false
		e.metrics.SettlementError("record_outcome")
		e.log.Error("failed to record outcome",
			zap.String("session_id", sess.id),
			zap.String("hash", outcome.Hash),
			zap.Error(err),
		)
	} else {
		outcome.ID = id
	}

	result := models.SessionResult{
		SessionID: sess.id,
		Scope:     sess.scope,
		Outcome:   outcome,
		Winners:   []models.Settlement{},
		Losers:    []models.Settlement{},
	}

	for _, w := range wagers {
		record := SettleWager(w, outcome)

		var balance int64
		if recorded {
			balance, err = e.store.SettleWager(ctx, record)
		} else {
			balance, err = e.store.AdjustBalance(ctx, w.ParticipantID, record.Payout)
		}
		if err != nil {
			e.metrics.SettlementError("settle_wager")
			e.log.Error("failed to settle wager",
				zap.String("session_id", sess.id),
				zap.String("participant_id", w.ParticipantID),
				zap.Int64("payout", record.Payout),
				zap.Error(err),
			)
		}

		settlement := models.Settlement{
			ParticipantID: w.ParticipantID,
			DisplayName:   w.DisplayName,
			Amount:        w.Amount,
			Side:          w.Side,
			Payout:        record.Payout,
			NewBalance:    balance,
		}
		if record.Won {
			result.Winners = append(result.Winners, settlement)
			result.TotalWon += record.Payout
		} else {
			result.Losers = append(result.Losers, settlement)
			result.TotalLost += w.Amount
		}
	}

	e.patterns.Append(outcome.Side)

	sort.SliceStable(result.Winners, func(i, j int) bool {
		return result.Winners[i].Payout > result.Winners[j].Payout
	})
	sort.SliceStable(result.Losers, func(i, j int) bool {
		return result.Losers[i].Amount > result.Losers[j].Amount
	})
	result.SettledAt = e.now()
	return result
}

func (e *Engine) removeLoop(loop *scopeLoop) {
	e.mu.Lock()
	if e.scopes[loop.scope] == loop {
		delete(e.scopes, loop.scope)
	}
	active := len(e.scopes)
	e.mu.Unlock()
	e.metrics.SetActiveScopes(active)
}

func (e *Engine) broadcastSnapshot(loop *scopeLoop, snapshot models.SessionSnapshot) {
	for _, b := range e.targets(loop) {
		e.deliver("snapshot", loop.scope, func(ctx context.Context) error {
			return b.BroadcastSnapshot(ctx, snapshot)
		})
	}
}

func (e *Engine) broadcastResult(loop *scopeLoop, result models.SessionResult) {
	for _, b := range e.targets(loop) {
		e.deliver("result", loop.scope, func(ctx context.Context) error {
			return b.BroadcastResult(ctx, result)
		})
	}
}

func (e *Engine) targets(loop *scopeLoop) []Broadcaster {
	targets := make([]Broadcaster, 0, 2)
	if e.broadcaster != nil {
		targets = append(targets, e.broadcaster)
	}
	if sink := loop.getSink(); sink != nil {
		targets = append(targets, sink)
	}
	return targets
}

// deliver calls a presentation hook. Errors and panics are logged and
// never reach the round loop.
func (e *Engine) deliver(kind, scope string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.BroadcastFailed(kind)
			e.log.Error("broadcast panicked",
				zap.String("kind", kind),
				zap.String("scope", scope),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), 2*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil {
		e.metrics.BroadcastFailed(kind)
		e.log.Warn("broadcast failed",
			zap.String("kind", kind),
			zap.String("scope", scope),
			zap.Error(err),
		)
	}
}

func (l *scopeLoop) session() *session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func (l *scopeLoop) setSession(sess *session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = sess
}

// clearSession drops sess if it is still the active one.
func (l *scopeLoop) clearSession(sess *session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == sess {
		l.current = nil
	}
}

func (l *scopeLoop) finish(sess *session, result models.SessionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == sess {
		l.current = nil
	}
	l.last = &result
}

func (l *scopeLoop) setSink(sink Broadcaster) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

func (l *scopeLoop) getSink() Broadcaster {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sink
}
