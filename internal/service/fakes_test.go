package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

// memLedger is an in-memory PositionLedger. Changes made inside
// WithSymbolLock are applied only when fn succeeds, and a second OPEN row
// per symbol is rejected like the partial unique index does.
type memLedger struct {
	mu       sync.Mutex
	symLocks map[string]*sync.Mutex
	rows     map[string]domain.Position
	order    []string
	failTx   error
}

func newMemLedger(positions ...domain.Position) *memLedger {
	l := &memLedger{symLocks: map[string]*sync.Mutex{}, rows: map[string]domain.Position{}}
	for _, p := range positions {
		l.rows[p.ID] = p
		l.order = append(l.order, p.ID)
	}
	return l
}

func (l *memLedger) symLock(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.symLocks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.symLocks[symbol] = m
	}
	return m
}

type memTx struct {
	l       *memLedger
	inserts []domain.Position
	closes  []domain.Position
}

func (t *memTx) LockOpen(_ context.Context, symbol string) ([]domain.Position, error) {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	var out []domain.Position
	for _, id := range t.l.order {
		p := t.l.rows[id]
		if p.Symbol == symbol && p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) Insert(_ context.Context, p domain.Position) error {
	t.inserts = append(t.inserts, p)
	return nil
}

func (t *memTx) Close(_ context.Context, p domain.Position) error {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	cur, ok := t.l.rows[p.ID]
	if !ok || !cur.IsOpen() {
		return domain.ErrNotFound
	}
	t.closes = append(t.closes, p)
	return nil
}

func (l *memLedger) WithSymbolLock(ctx context.Context, symbol string, fn func(tx domain.PositionTx) error) error {
	if l.failTx != nil {
		return l.failTx
	}
	m := l.symLock(symbol)
	m.Lock()
	defer m.Unlock()

	tx := &memTx{l: l}
	if err := fn(tx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	closing := map[string]bool{}
	for _, c := range tx.closes {
		closing[c.ID] = true
	}
	for _, ins := range tx.inserts {
		for _, id := range l.order {
			p := l.rows[id]
			if p.Symbol == ins.Symbol && p.IsOpen() && !closing[id] {
				return domain.ErrAlreadyExists
			}
		}
	}
	for _, c := range tx.closes {
		l.rows[c.ID] = c
	}
	for _, ins := range tx.inserts {
		l.rows[ins.ID] = ins
		l.order = append(l.order, ins.ID)
	}
	return nil
}

func (l *memLedger) GetByID(_ context.Context, id string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.rows[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (l *memLedger) all(filter func(domain.Position) bool) []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Position
	for _, id := range l.order {
		if p := l.rows[id]; filter(p) {
			out = append(out, p)
		}
	}
	return out
}

func (l *memLedger) ListOpen(_ context.Context) ([]domain.Position, error) {
	return l.all(domain.Position.IsOpen), nil
}

func (l *memLedger) openFor(symbol string) []domain.Position {
	return l.all(func(p domain.Position) bool { return p.IsOpen() && p.Symbol == symbol })
}

func (l *memLedger) OpenSymbols(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, p := range l.all(domain.Position.IsOpen) {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *memLedger) ListClosed(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	out := l.all(func(p domain.Position) bool {
		return !p.IsOpen() && (opts.Symbol == "" || p.Symbol == opts.Symbol)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (l *memLedger) CountOpen(ctx context.Context) (int, error) {
	return len(l.all(domain.Position.IsOpen)), nil
}

func (l *memLedger) CountOpenedSince(_ context.Context, since time.Time) (int, error) {
	return len(l.all(func(p domain.Position) bool { return !p.OpenedAt.Before(since) })), nil
}

func (l *memLedger) SumLossSince(_ context.Context, since time.Time) (float64, error) {
	var sum float64
	for _, p := range l.all(func(p domain.Position) bool {
		return !p.IsOpen() && p.ClosedAt != nil && !p.ClosedAt.Before(since)
	}) {
		if p.ProfitLoss != nil && *p.ProfitLoss < 0 {
			sum -= *p.ProfitLoss
		}
	}
	return sum, nil
}

// staticSettings is a SettingsProvider with fixed values.
type staticSettings struct {
	mu sync.Mutex
	s  domain.RiskSettings
}

func newStaticSettings(s domain.RiskSettings) *staticSettings { return &staticSettings{s: s} }

func (f *staticSettings) Current() domain.RiskSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *staticSettings) set(fn func(*domain.RiskSettings)) {
	f.mu.Lock()
	fn(&f.s)
	f.mu.Unlock()
}

// recordingOrders is an OrderPlacer that records requests.
type recordingOrders struct {
	mu     sync.Mutex
	reqs   []domain.OrderRequest
	status domain.OrderStatus
}

func (o *recordingOrders) PlaceOrder(_ context.Context, req domain.OrderRequest) domain.OrderResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reqs = append(o.reqs, req)
	status := o.status
	if status == "" {
		status = domain.OrderStatusDryRun
	}
	return domain.OrderResult{Status: status, Symbol: req.Symbol, Side: req.Side, Price: req.Price, Size: req.Size}
}

func (o *recordingOrders) requests() []domain.OrderRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OrderRequest(nil), o.reqs...)
}

// fakeBook is a QuoteSource with per-symbol quotes and errors.
type fakeBook struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	errs   map[string]error
	calls  int
}

func newFakeBook() *fakeBook {
	return &fakeBook{quotes: map[string]domain.Quote{}, errs: map[string]error{}}
}

func (b *fakeBook) setMid(symbol string, mid float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = domain.Quote{Symbol: symbol, BestBid: mid - 0.5, BestAsk: mid + 0.5}
}

func (b *fakeBook) GetOrderbook(_ context.Context, symbol string) (domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if err := b.errs[symbol]; err != nil {
		return domain.Quote{}, err
	}
	q, ok := b.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

// memPriceCache is an in-memory domain.PriceCache.
type memPriceCache struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
}

func newMemPriceCache() *memPriceCache { return &memPriceCache{quotes: map[string]domain.Quote{}} }

func (c *memPriceCache) SetQuote(_ context.Context, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Symbol] = q
	return nil
}

func (c *memPriceCache) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (c *memPriceCache) GetQuotes(_ context.Context, symbols []string) (map[string]domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]domain.Quote{}
	for _, s := range symbols {
		if q, ok := c.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

// memClaims is an in-memory ClaimStore.
type memClaims struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemClaims() *memClaims { return &memClaims{keys: map[string]bool{}} }

func (c *memClaims) Claim(_ context.Context, key string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memClaims) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

// memSignals is an in-memory SignalStore.
type memSignals struct {
	mu   sync.Mutex
	recs []domain.SignalRecord
}

func (s *memSignals) Insert(_ context.Context, rec domain.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSignals) List(_ context.Context, _ domain.ListOpts) ([]domain.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SignalRecord(nil), s.recs...), nil
}

// memSettingsStore is an in-memory SettingsStore.
type memSettingsStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemSettingsStore() *memSettingsStore { return &memSettingsStore{vals: map[string]string{}} }

func (s *memSettingsStore) GetByPrefix(_ context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.vals {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[k] = v
		}
	}
	return out, nil
}

func (s *memSettingsStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}

// memBus records published events and stream appends.
type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	streams  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) streamLen(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

// recordingNotifier records notification events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// fakeLocks is a LockManager that either grants or refuses.
type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}
