package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	blockchain "github.com/fd1az/pricestream/business/blockchain/domain"
	pricing "github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/business/stream/domain"
	"github.com/fd1az/pricestream/internal/apm"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/logger"
)

const meterName = "github.com/fd1az/pricestream/business/stream/app"

// EngineConfig holds scheduler and session settings.
type EngineConfig struct {
	RefreshInterval time.Duration
	TokenTimeout    time.Duration
	MaxConcurrency  int
	SessionBuffer   int
	SessionTimeout  time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Second
	}
	if c.TokenTimeout <= 0 {
		c.TokenTimeout = 20 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.SessionBuffer <= 0 {
		c.SessionBuffer = 32
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 90 * time.Second
	}
	return c
}

type engineMetrics struct {
	activeSessions  metric.Int64UpDownCounter
	droppedSessions metric.Int64Counter
	refreshDuration metric.Float64Histogram
	tokensChanged   metric.Int64Counter
	pushes          metric.Int64Counter
}

// Engine owns the token book, the subscription registry and every session.
// All of them are mutated under mu; network work runs outside it. Refresh
// passes are serialized by refreshMu.
type Engine struct {
	cfg     EngineConfig
	pricer  Pricer
	tokens  TokenMetadata
	catalog Catalog
	log     logger.LoggerInterface
	tracer  apm.Tracer
	metrics *engineMetrics

	now   func() time.Time
	newID func() string

	refreshMu sync.Mutex

	mu       sync.Mutex
	registry *Registry
	records  map[string]*domain.TokenRecord
	sessions map[string]*Session
	seeds    []string
}

// NewEngine creates an Engine. catalog may be nil.
func NewEngine(cfg EngineConfig, pricer Pricer, tokens TokenMetadata, catalog Catalog, log logger.LoggerInterface) (*Engine, error) {
	if catalog == nil {
		catalog = NopCatalog{}
	}
	e := &Engine{
		cfg:      cfg.withDefaults(),
		pricer:   pricer,
		tokens:   tokens,
		catalog:  catalog,
		log:      log,
		tracer:   apm.NewTracer("stream.engine"),
		now:      time.Now,
		newID:    uuid.NewString,
		registry: NewRegistry(),
		records:  make(map[string]*domain.TokenRecord),
		sessions: make(map[string]*Session),
	}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return e, nil
}

func (e *Engine) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	e.metrics = &engineMetrics{}

	e.metrics.activeSessions, err = meter.Int64UpDownCounter(
		"stream_active_sessions",
		metric.WithDescription("Connected sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	e.metrics.droppedSessions, err = meter.Int64Counter(
		"stream_sessions_dropped_total",
		metric.WithDescription("Sessions torn down, by reason"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	e.metrics.refreshDuration, err = meter.Float64Histogram(
		"stream_refresh_duration_ms",
		metric.WithDescription("Duration of one refresh pass"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	e.metrics.tokensChanged, err = meter.Int64Counter(
		"stream_tokens_changed_total",
		metric.WithDescription("Tokens whose price map changed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}

	e.metrics.pushes, err = meter.Int64Counter(
		"stream_pushes_total",
		metric.WithDescription("Messages queued to sessions"),
		metric.WithUnit("{message}"),
	)
	return err
}

type refreshJob struct {
	token     string
	needsMeta bool

	symbol   string
	name     string
	decimals uint8
	gotMeta  bool

	prices domain.PriceMap
	err    error
}

// Refresh resolves tokens concurrently and replaces each record's price map.
// It returns the tokens whose map changed. A token's first successful load
// is a baseline, never a change. When notify is set, every session
// subscribed to a changed token receives the full state of its tokens.
func (e *Engine) Refresh(ctx context.Context, tokens []string, notify bool) []string {
	tokens = unique(tokens)
	if len(tokens) == 0 {
		return nil
	}

	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	ctx, span := e.tracer.StartSpanFromContext(ctx, "stream.refresh")
	defer span.End()
	span.SetAttributes(attribute.Int("tokens", len(tokens)), attribute.Bool("notify", notify))

	start := e.now()

	jobs := make([]refreshJob, len(tokens))
	e.mu.Lock()
	for i, token := range tokens {
		rec := e.recordLocked(token)
		jobs[i] = refreshJob{token: token, needsMeta: !rec.HasMetadata()}
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			e.resolve(gctx, job)
			return nil
		})
	}
	_ = g.Wait()

	var changed []string
	saved := make([]domain.TokenRecord, 0, len(jobs))

	e.mu.Lock()
	now := e.now()
	for i := range jobs {
		if e.applyLocked(&jobs[i], now) {
			changed = append(changed, jobs[i].token)
		}
		saved = append(saved, *e.records[jobs[i].token])
	}
	if notify && len(changed) > 0 {
		e.fanOutLocked(ctx, changed)
	}
	e.mu.Unlock()

	for _, rec := range saved {
		if err := e.catalog.SaveToken(ctx, rec); err != nil {
			e.log.Warn(ctx, "persist token failed", "token", rec.Address, "error", err)
		}
	}

	elapsed := e.now().Sub(start)
	e.metrics.refreshDuration.Record(ctx, float64(elapsed.Milliseconds()))
	e.metrics.tokensChanged.Add(ctx, int64(len(changed)))
	span.SetAttributes(attribute.Int("changed", len(changed)))

	e.log.Debug(ctx, "refresh pass done",
		"tokens", len(tokens),
		"changed", len(changed),
		"elapsed_ms", elapsed.Milliseconds())

	return changed
}

// RefreshAll refreshes every subscribed token plus seeds not yet priced.
func (e *Engine) RefreshAll(ctx context.Context, notify bool) []string {
	e.mu.Lock()
	tokens := e.registry.TokensWithSubscribers()
	for _, seed := range e.seeds {
		if rec := e.records[seed]; rec != nil && !rec.Initialized {
			tokens = append(tokens, seed)
		}
	}
	e.mu.Unlock()

	return e.Refresh(ctx, tokens, notify)
}

// resolve runs outside the lock. Failures are recorded on the job.
func (e *Engine) resolve(ctx context.Context, job *refreshJob) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TokenTimeout)
	defer cancel()

	addr := common.HexToAddress(job.token)

	if job.needsMeta && e.tokens != nil {
		meta, err := e.tokens.Token(ctx, addr)
		if err != nil {
			e.log.Debug(ctx, "token metadata unavailable", "token", job.token, "error", err)
		} else {
			job.symbol, job.name, job.decimals = meta.Symbol(), meta.Name(), meta.Decimals()
			job.gotMeta = true
		}
	}

	pools, err := e.pricer.GetAllPrices(ctx, addr)
	if err != nil {
		job.err = err
		return
	}
	if len(pools) == 0 {
		job.err = apperror.New(apperror.CodeNoPrice, apperror.WithContext(job.token))
		return
	}

	views := make([]pricing.PoolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, e.view(ctx, p))
	}
	job.prices = domain.NewPriceMap(views)
}

func (e *Engine) view(ctx context.Context, p pricing.PricedPool) pricing.PoolView {
	if e.tokens != nil {
		if ref, err := e.tokens.Token(ctx, p.ReferenceToken); err == nil {
			dec := ref.Decimals()
			return p.View(&dec)
		}
	}
	return p.View(nil)
}

// applyLocked writes one job's result and reports whether it is a change.
func (e *Engine) applyLocked(job *refreshJob, now time.Time) bool {
	rec := e.records[job.token]

	if job.gotMeta {
		rec.Symbol, rec.Name, rec.Decimals = job.symbol, job.name, job.decimals
	}

	if job.err != nil {
		// An initialized token keeps its last good map.
		if !rec.Initialized {
			rec.Prices = domain.NoPriceMap()
			rec.UpdatedAt = now
		}
		return false
	}

	changed := rec.Initialized && !rec.Prices.Equal(job.prices)
	rec.Prices = job.prices
	rec.Initialized = true
	rec.UpdatedAt = now
	return changed
}

func (e *Engine) fanOutLocked(ctx context.Context, changed []string) {
	targets := make(map[string]struct{})
	for _, token := range changed {
		for _, id := range e.registry.SessionsFor(token) {
			targets[id] = struct{}{}
		}
	}
	for id := range targets {
		if sess, ok := e.sessions[id]; ok && sess.welcomed {
			e.sendStateLocked(ctx, id, domain.ReasonUpdate)
		}
	}
}

// Connect registers a session subscribed to tokens, primes any token not
// yet priced and queues the welcome state.
func (e *Engine) Connect(ctx context.Context, tokens []common.Address) (*Session, error) {
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, key(t))
	}

	e.mu.Lock()
	sess := newSession(e.newID(), e.cfg.SessionBuffer, e.now())
	e.sessions[sess.ID] = sess
	pending := e.subscribeLocked(sess.ID, keys)
	e.mu.Unlock()

	e.metrics.activeSessions.Add(ctx, 1)
	e.log.Info(ctx, "session connected", "session", sess.ID, "tokens", len(keys))

	if len(pending) > 0 {
		e.Refresh(ctx, pending, false)
	}

	if err := ctx.Err(); err != nil {
		e.Disconnect(ctx, sess.ID)
		return nil, err
	}

	e.mu.Lock()
	e.sendStateLocked(ctx, sess.ID, domain.ReasonWelcome)
	sess.welcomed = true
	e.mu.Unlock()

	return sess, nil
}

// Disconnect drops the session and all of its subscriptions.
func (e *Engine) Disconnect(ctx context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropLocked(ctx, id, "disconnect")
}

// HandleMessage processes one inbound frame. Problems are reported to the
// session only.
func (e *Engine) HandleMessage(ctx context.Context, id string, raw []byte) {
	if !e.touch(id) {
		return
	}

	var in domain.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		e.sendError(ctx, id, apperror.New(apperror.CodeInvalidMessage, apperror.WithCause(err)))
		return
	}

	switch in.Type {
	case domain.TypeGetState:
		e.mu.Lock()
		e.sendStateLocked(ctx, id, domain.ReasonRequested)
		e.mu.Unlock()

	case domain.TypeSubscribe:
		e.subscribe(ctx, id, in.Tokens)

	case domain.TypeUnsubscribe:
		e.unsubscribe(ctx, id, in.Tokens)

	case domain.TypePing:
		e.mu.Lock()
		e.sendLocked(ctx, id, domain.PongMessage{Type: domain.TypePong, Timestamp: e.now().UnixMilli()})
		e.mu.Unlock()

	default:
		e.sendError(ctx, id, apperror.New(apperror.CodeUnknownMessageType, apperror.WithContext(string(in.Type))))
	}
}

func (e *Engine) subscribe(ctx context.Context, id string, raw []string) {
	keys, err := parseTokens(raw)
	if err != nil {
		e.sendError(ctx, id, err)
		return
	}

	e.mu.Lock()
	if _, ok := e.sessions[id]; !ok {
		e.mu.Unlock()
		return
	}
	pending := e.subscribeLocked(id, keys)
	e.sendLocked(ctx, id, domain.AckMessage{Type: domain.TypeSubscribed, Tokens: keys})
	e.mu.Unlock()

	if len(pending) > 0 {
		e.Refresh(ctx, pending, false)
	}

	e.mu.Lock()
	e.sendStateLocked(ctx, id, domain.ReasonSubscribe)
	e.mu.Unlock()
}

func (e *Engine) unsubscribe(ctx context.Context, id string, raw []string) {
	keys, err := parseTokens(raw)
	if err != nil {
		e.sendError(ctx, id, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id]; !ok {
		return
	}
	for _, k := range keys {
		e.registry.Unsubscribe(id, k)
	}
	e.sendLocked(ctx, id, domain.AckMessage{Type: domain.TypeUnsubscribed, Tokens: keys})
}

// subscribeLocked adds the subscriptions, creates placeholder records and
// returns the tokens that still need a first price.
func (e *Engine) subscribeLocked(id string, keys []string) []string {
	var pending []string
	for _, k := range keys {
		e.registry.Subscribe(id, k)
		if !e.recordLocked(k).Initialized {
			pending = append(pending, k)
		}
	}
	return pending
}

func (e *Engine) touch(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[id]
	if ok {
		sess.lastSeen = e.now()
	}
	return ok
}

// Reap drops sessions idle for longer than the session timeout.
func (e *Engine) Reap(ctx context.Context) int {
	cutoff := e.now().Add(-e.cfg.SessionTimeout)

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, sess := range e.sessions {
		if sess.lastSeen.Before(cutoff) {
			e.dropLocked(ctx, id, "idle")
			n++
		}
	}
	return n
}

func (e *Engine) sendStateLocked(ctx context.Context, id string, reason string) {
	tokens := e.registry.TokensFor(id)
	states := make(map[string]domain.TokenState, len(tokens))
	for _, t := range tokens {
		if rec, ok := e.records[t]; ok {
			states[t] = rec.State()
		}
	}

	e.sendLocked(ctx, id, domain.StateMessage{
		Type:      domain.TypeState,
		Reason:    reason,
		Timestamp: e.now().UnixMilli(),
		Tokens:    states,
	})
}

func (e *Engine) sendError(ctx context.Context, id string, err error) {
	msg := domain.ErrorMessage{Type: domain.TypeError, Code: string(apperror.CodeInvalidMessage), Message: err.Error()}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		msg.Code = string(appErr.Code)
		msg.Message = appErr.Message
		if appErr.Context != "" {
			msg.Message += ": " + appErr.Context
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendLocked(ctx, id, msg)
}

// sendLocked queues v for the session. A full buffer drops the session.
func (e *Engine) sendLocked(ctx context.Context, id string, v any) {
	sess, ok := e.sessions[id]
	if !ok {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		e.log.Error(ctx, "encode session message", "session", id, "error", err)
		return
	}

	if !sess.enqueue(data) {
		e.dropLocked(ctx, id, "buffer_full")
		return
	}
	e.metrics.pushes.Add(ctx, 1)
}

func (e *Engine) dropLocked(ctx context.Context, id, reason string) {
	sess, ok := e.sessions[id]
	if !ok {
		return
	}
	delete(e.sessions, id)
	e.registry.DropSession(id)
	sess.close()

	e.metrics.activeSessions.Add(ctx, -1)
	e.metrics.droppedSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	e.log.Info(ctx, "session dropped", "session", id, "reason", reason)
}

// Bootstrap restores persisted records, registers the seed tokens and primes
// them without notifying anyone.
func (e *Engine) Bootstrap(ctx context.Context, seeds []domain.TokenRecord) {
	restored, err := e.catalog.LoadTokens(ctx)
	if err != nil {
		e.log.Warn(ctx, "load token catalog failed", "error", err)
	}

	prime := make([]string, 0, len(seeds)+len(restored))

	e.mu.Lock()
	for _, r := range restored {
		rec := r
		rec.Address = strings.ToLower(rec.Address)
		e.records[rec.Address] = &rec
		prime = append(prime, rec.Address)
	}
	for _, s := range seeds {
		k := strings.ToLower(s.Address)
		rec := e.recordLocked(k)
		// A seed without decimals is completed on-chain.
		if !rec.HasMetadata() && s.Symbol != "" && s.Decimals > 0 {
			rec.Symbol, rec.Name, rec.Decimals = s.Symbol, s.Name, s.Decimals
		}
		e.seeds = append(e.seeds, k)
		prime = append(prime, k)
	}
	e.mu.Unlock()

	e.log.Info(ctx, "priming tokens", "seeds", len(seeds), "restored", len(restored))
	e.Refresh(ctx, prime, false)
}

// Run drives periodic refreshes, block-triggered refreshes and the idle
// reaper until ctx ends. heads may be nil.
func (e *Engine) Run(ctx context.Context, heads <-chan *blockchain.Block) error {
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	reaper := time.NewTicker(e.cfg.SessionTimeout / 3)
	defer reaper.Stop()

	e.log.Info(ctx, "stream engine running",
		"interval", e.cfg.RefreshInterval,
		"block_trigger", heads != nil)

	for {
		select {
		case <-ctx.Done():
			e.closeAll(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			e.RefreshAll(ctx, true)
		case block, ok := <-heads:
			if !ok {
				heads = nil
				continue
			}
			e.log.Debug(ctx, "refresh on block", "number", block.Number)
			e.RefreshAll(ctx, true)
		case <-reaper.C:
			if n := e.Reap(ctx); n > 0 {
				e.log.Info(ctx, "reaped idle sessions", "count", n)
			}
		}
	}
}

func (e *Engine) closeAll(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.sessions {
		e.dropLocked(ctx, id, "shutdown")
	}
}

// Tokens returns the state of every tracked token, sorted by address.
func (e *Engine) Tokens() []domain.TokenState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.TokenState, 0, len(e.records))
	for _, rec := range e.records {
		out = append(out, rec.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Stats reports session and token counts.
func (e *Engine) Stats() (sessions, tracked, polled int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions), len(e.records), len(e.registry.TokensWithSubscribers())
}

func (e *Engine) recordLocked(token string) *domain.TokenRecord {
	rec, ok := e.records[token]
	if !ok {
		rec = &domain.TokenRecord{Address: token}
		e.records[token] = rec
	}
	return rec
}

func parseTokens(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, apperror.New(apperror.CodeInvalidMessage, apperror.WithContext("tokens required"))
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if !common.IsHexAddress(s) {
			return nil, apperror.Validation(apperror.CodeInvalidTokenAddr, s)
		}
		out = append(out, key(common.HexToAddress(s)))
	}
	return unique(out), nil
}

func key(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
