package ledger

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memStore is an in-memory stand-in for the sqlite adapter, implementing all
// persistence ports the ledger depends on.
type memStore struct {
	nextPositionID  int64
	nextSegmentID   int64
	nextPortfolioID int64

	positions  map[int64]*domain.Position
	segments   map[int64][]*domain.RebalanceSegment
	portfolios map[int64]*domain.Portfolio
	rates      []*domain.RateRow
}

func newMemStore() *memStore {
	return &memStore{
		positions:  make(map[int64]*domain.Position),
		segments:   make(map[int64][]*domain.RebalanceSegment),
		portfolios: make(map[int64]*domain.Portfolio),
	}
}

func (m *memStore) CreatePosition(ctx context.Context, pos *domain.Position) (int64, error) {
	m.nextPositionID++
	cp := *pos
	cp.ID = m.nextPositionID
	m.positions[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) FindPositionByID(ctx context.Context, id int64) (*domain.Position, error) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (m *memStore) FindPositionsEnteredBy(ctx context.Context, asOf int64) ([]*domain.Position, error) {
	out := make([]*domain.Position, 0)
	for _, pos := range m.positions {
		if pos.EntryTimestamp <= asOf {
			cp := *pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTimestamp < out[j].EntryTimestamp })
	return out, nil
}

func (m *memStore) FindPositionsByPortfolio(ctx context.Context, portfolioID int64) ([]*domain.Position, error) {
	out := make([]*domain.Position, 0)
	for _, pos := range m.positions {
		if pos.PortfolioID != nil && *pos.PortfolioID == portfolioID {
			cp := *pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdatePositionState(ctx context.Context, pos *domain.Position) error {
	if _, ok := m.positions[pos.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *pos
	m.positions[pos.ID] = &cp
	return nil
}

func (m *memStore) AppendRebalance(ctx context.Context, seg *domain.RebalanceSegment, pos *domain.Position) error {
	m.nextSegmentID++
	segCp := *seg
	segCp.ID = m.nextSegmentID
	m.segments[seg.PositionID] = append(m.segments[seg.PositionID], &segCp)
	return m.UpdatePositionState(ctx, pos)
}

func (m *memStore) FindSegmentsByPosition(ctx context.Context, positionID int64) ([]*domain.RebalanceSegment, error) {
	segs := m.segments[positionID]
	out := make([]*domain.RebalanceSegment, len(segs))
	copy(out, segs)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memStore) CountSegmentsClosedAfter(ctx context.Context, positionID int64, asOf int64) (int, error) {
	n := 0
	for _, s := range m.segments[positionID] {
		if s.ClosedAt > asOf {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreatePortfolio(ctx context.Context, pf *domain.Portfolio) (int64, error) {
	m.nextPortfolioID++
	cp := *pf
	cp.ID = m.nextPortfolioID
	m.portfolios[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) FindPortfolioByID(ctx context.Context, id int64) (*domain.Portfolio, error) {
	pf, ok := m.portfolios[id]
	if !ok {
		return nil, nil
	}
	cp := *pf
	return &cp, nil
}

func (m *memStore) FindAllPortfolios(ctx context.Context) ([]*domain.Portfolio, error) {
	out := make([]*domain.Portfolio, 0, len(m.portfolios))
	for _, pf := range m.portfolios {
		cp := *pf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertRateRows(ctx context.Context, rows []*domain.RateRow) error {
	m.rates = append(m.rates, rows...)
	return nil
}

func (m *memStore) SnapshotAt(ctx context.Context, asOf int64) (*domain.Snapshot, error) {
	latest := make(map[string]*domain.RateRow)
	for _, r := range m.rates {
		if r.Timestamp > asOf {
			continue
		}
		key := r.Venue + "|" + r.TokenContract
		if cur, ok := latest[key]; !ok || r.Timestamp > cur.Timestamp {
			latest[key] = r
		}
	}
	if len(latest) == 0 {
		return nil, ports.ErrNoSnapshot
	}
	snap := &domain.Snapshot{Timestamp: asOf}
	for _, r := range latest {
		snap.Rows = append(snap.Rows, r)
	}
	return snap, nil
}

func (m *memStore) RateTimestamps(ctx context.Context, from, to int64) ([]int64, error) {
	seen := make(map[int64]struct{})
	for _, r := range m.rates {
		if r.Timestamp >= from && r.Timestamp <= to {
			seen[r.Timestamp] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) RateRowAt(ctx context.Context, venue, tokenContract string, asOf int64) (*domain.RateRow, error) {
	var best *domain.RateRow
	for _, r := range m.rates {
		if r.Venue != venue || r.TokenContract != tokenContract || r.Timestamp > asOf {
			continue
		}
		if best == nil || r.Timestamp > best.Timestamp {
			best = r
		}
	}
	return best, nil
}

// --- Test fixtures ---

func f(v float64) *float64 { return &v }

func rateRow(ts int64, venue, token, contract string, lendAPR, borrowAPR float64) *domain.RateRow {
	return &domain.RateRow{
		Timestamp:            ts,
		Venue:                venue,
		Token:                token,
		TokenContract:        contract,
		LendAPR:              f(lendAPR),
		BorrowAPR:            f(borrowAPR),
		PriceUSD:             1.0,
		CollateralRatio:      0.80,
		LiquidationThreshold: 0.75,
		BorrowWeight:         1.0,
		BorrowFee:            f(0),
	}
}

func singleLegCandidate() *domain.StrategyCandidate {
	return &domain.StrategyCandidate{
		Type:           domain.StrategySingleLeg,
		VenueA:         "navi",
		Token1:         "USDC",
		Token1Contract: "0xusdc",
		Multipliers:    domain.Multipliers{LendA: 1},
		NetAPR:         0.10,
	}
}

func newTestLedger(t *testing.T) (*Ledger, *memStore) {
	t.Helper()
	store := newMemStore()
	led, err := New(Config{
		Logger:     &mockLogger{},
		Positions:  store,
		Segments:   store,
		Portfolios: store,
		Rates:      store,
	})
	require.NoError(t, err)
	return led, store
}

// deploySingleLeg seeds a snapshot at entryTS with the given lend APR and
// deploys a one-leg position against it.
func deploySingleLeg(t *testing.T, led *Ledger, store *memStore, entryTS int64, lendAPR, deployUSD float64) *domain.Position {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.InsertRateRows(ctx, []*domain.RateRow{
		rateRow(entryTS, "navi", "USDC", "0xusdc", lendAPR, 0.15),
	}))
	snap, err := store.SnapshotAt(ctx, entryTS)
	require.NoError(t, err)
	pos, err := led.Deploy(ctx, singleLegCandidate(), snap, deployUSD, entryTS, nil)
	require.NoError(t, err)
	return pos
}

func TestDeploy(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	pos := deploySingleLeg(t, led, store, 1000, 0.10, 10_000)

	assert.Greater(t, pos.ID, int64(0))
	assert.Equal(t, domain.StatusActive, pos.Status)
	assert.Equal(t, pos.EntryMultipliers, pos.CurrentMultipliers)
	require.Len(t, pos.EntryLegs, 1)
	assert.Equal(t, domain.RoleLendA, pos.EntryLegs[0].Role)
	assert.Equal(t, 0.10, pos.EntryLegs[0].EntryLendAPR)

	t.Run("rejects missing snapshot row", func(t *testing.T) {
		cand := singleLegCandidate()
		cand.Token1Contract = "0xunknown"
		snap, err := store.SnapshotAt(ctx, 1000)
		require.NoError(t, err)
		_, err = led.Deploy(ctx, cand, snap, 10_000, 1000, nil)
		assert.ErrorIs(t, err, ports.ErrMissingRate)
	})

	t.Run("rejects symbol-only identity", func(t *testing.T) {
		cand := singleLegCandidate()
		cand.Token1Contract = ""
		snap, err := store.SnapshotAt(ctx, 1000)
		require.NoError(t, err)
		_, err = led.Deploy(ctx, cand, snap, 10_000, 1000, nil)
		assert.ErrorIs(t, err, ports.ErrAmbiguousToken)
	})

	t.Run("rejects non-positive deployment", func(t *testing.T) {
		snap, err := store.SnapshotAt(ctx, 1000)
		require.NoError(t, err)
		_, err = led.Deploy(ctx, singleLegCandidate(), snap, 0, 1000, nil)
		assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	})
}

func TestGetActivePositions_TemporalFilter(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	early := deploySingleLeg(t, led, store, 1000, 0.10, 10_000)
	late := deploySingleLeg(t, led, store, 5000, 0.10, 20_000)

	// A position deployed in the future relative to the query is invisible.
	active, err := led.GetActivePositions(ctx, 2000)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, early.ID, active[0].ID)

	// Monotonic entry filter: more time exposes more positions, never fewer.
	activeLater, err := led.GetActivePositions(ctx, 6000)
	require.NoError(t, err)
	require.Len(t, activeLater, 2)
	ids := []int64{activeLater[0].ID, activeLater[1].ID}
	assert.Contains(t, ids, early.ID)
	assert.Contains(t, ids, late.ID)

	// Closing removes the position from views at or after the close time
	// but not before it.
	require.NoError(t, led.ClosePosition(ctx, early.ID, 7000))
	activeAfterClose, err := led.GetActivePositions(ctx, 8000)
	require.NoError(t, err)
	require.Len(t, activeAfterClose, 1)
	assert.Equal(t, late.ID, activeAfterClose[0].ID)

	activeBeforeClose, err := led.GetActivePositions(ctx, 6500)
	require.NoError(t, err)
	assert.Len(t, activeBeforeClose, 2)
}

func TestTimeTravelState(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	t0 := int64(1000)
	t1 := t0 + 86400
	pos := deploySingleLeg(t, led, store, t0, 0.10, 10_000)
	entryMult := pos.EntryMultipliers

	// Seed a snapshot at t1 so the rebalance can record closing legs.
	require.NoError(t, store.InsertRateRows(ctx, []*domain.RateRow{
		rateRow(t1, "navi", "USDC", "0xusdc", 0.12, 0.15),
	}))

	newMult := domain.Multipliers{LendA: 0.5}
	seg, err := led.CreateRebalance(ctx, pos.ID, t1, newMult)
	require.NoError(t, err)
	assert.Equal(t, 1, seg.Sequence)
	assert.Equal(t, t0, seg.OpenedAt)
	assert.Equal(t, t1, seg.ClosedAt)
	assert.Equal(t, entryMult, seg.Multipliers)

	// State at t0 is the first segment's multipliers.
	m, matched, err := led.GetPositionStateAt(ctx, pos.ID, t0)
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, entryMult, m)

	// State at t1 is the current (post-rebalance) multipliers.
	m, matched, err = led.GetPositionStateAt(ctx, pos.ID, t1)
	require.NoError(t, err)
	assert.Nil(t, matched)
	assert.Equal(t, newMult, m)

	// One second before the rebalance the old state still holds.
	m, _, err = led.GetPositionStateAt(ctx, pos.ID, t1-1)
	require.NoError(t, err)
	assert.Equal(t, entryMult, m)
}

func TestRebalanceVeto(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	t0 := int64(1000)
	t1 := t0 + 86400
	pos := deploySingleLeg(t, led, store, t0, 0.10, 10_000)
	require.NoError(t, store.InsertRateRows(ctx, []*domain.RateRow{
		rateRow(t1, "navi", "USDC", "0xusdc", 0.12, 0.15),
	}))

	_, err := led.CreateRebalance(ctx, pos.ID, t1, domain.Multipliers{LendA: 0.5})
	require.NoError(t, err)

	// Rebalancing while viewing an instant before the recorded rebalance
	// would fork history. The only segment opened at t0, but the rebalance
	// event happened at its closing instant t1, so it must be visible from
	// every asOf in [t0, t1).
	future, err := led.HasFutureRebalances(ctx, pos.ID, t0)
	require.NoError(t, err)
	assert.True(t, future)

	future, err = led.HasFutureRebalances(ctx, pos.ID, t1-1)
	require.NoError(t, err)
	assert.True(t, future)

	_, err = led.CreateRebalance(ctx, pos.ID, t0+10, domain.Multipliers{LendA: 0.7})
	assert.ErrorIs(t, err, ports.ErrFutureRebalances)

	// At or after the last rebalance there is no future history.
	future, err = led.HasFutureRebalances(ctx, pos.ID, t1)
	require.NoError(t, err)
	assert.False(t, future)
}

func TestSegmentChain(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	t0 := int64(1000)
	t1 := t0 + 86400
	t2 := t1 + 86400
	pos := deploySingleLeg(t, led, store, t0, 0.10, 10_000)
	require.NoError(t, store.InsertRateRows(ctx, []*domain.RateRow{
		rateRow(t1, "navi", "USDC", "0xusdc", 0.12, 0.15),
		rateRow(t2, "navi", "USDC", "0xusdc", 0.08, 0.15),
	}))

	_, err := led.CreateRebalance(ctx, pos.ID, t1, domain.Multipliers{LendA: 0.5})
	require.NoError(t, err)
	_, err = led.CreateRebalance(ctx, pos.ID, t2, domain.Multipliers{LendA: 0.8})
	require.NoError(t, err)

	segs, err := store.FindSegmentsByPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	// No gaps, no overlaps: segment i's close equals segment i+1's open.
	assert.Equal(t, segs[0].ClosedAt, segs[1].OpenedAt)
	assert.Equal(t, 1, segs[0].Sequence)
	assert.Equal(t, 2, segs[1].Sequence)

	// Segment PnL: 10k at 10% for one day, then 10k*0.5 at 12% for one day.
	assert.InDelta(t, 10_000*0.10/365, segs[0].RealizedPNL, 1e-6)
	assert.InDelta(t, 10_000*0.5*0.12/365, segs[1].RealizedPNL, 1e-6)

	reloaded, err := store.FindPositionByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.RebalanceCount)
	assert.InDelta(t, segs[0].RealizedPNL+segs[1].RealizedPNL, reloaded.RealizedPNL, 1e-9)

	// A rebalance that does not advance time is refused.
	_, err = led.CreateRebalance(ctx, pos.ID, t2, domain.Multipliers{LendA: 0.9})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestClosePosition(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	pos := deploySingleLeg(t, led, store, 1000, 0.10, 10_000)

	require.NoError(t, led.ClosePosition(ctx, pos.ID, 2000))

	reloaded, err := store.FindPositionByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, reloaded.Status)
	require.NotNil(t, reloaded.ClosedAt)
	assert.Equal(t, int64(2000), *reloaded.ClosedAt)

	// Terminal: no further rebalances or closes.
	_, err = led.CreateRebalance(ctx, pos.ID, 3000, domain.Multipliers{LendA: 0.5})
	assert.ErrorIs(t, err, ports.ErrPositionClosed)
	assert.ErrorIs(t, led.ClosePosition(ctx, pos.ID, 3000), ports.ErrPositionClosed)

	// Valuation is still permitted for timestamps up to the close.
	v, err := led.CalculateValue(ctx, reloaded, 1500)
	require.NoError(t, err)
	assert.Greater(t, v.CurrentValue, 0.0)
}

func TestPortfolioValuation(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()

	pf, err := led.CreatePortfolio(ctx, "conservative", 1000, 50_000)
	require.NoError(t, err)

	require.NoError(t, store.InsertRateRows(ctx, []*domain.RateRow{
		rateRow(1000, "navi", "USDC", "0xusdc", 0.10, 0.15),
	}))
	snap, err := store.SnapshotAt(ctx, 1000)
	require.NoError(t, err)

	p1, err := led.Deploy(ctx, singleLegCandidate(), snap, 10_000, 1000, &pf.ID)
	require.NoError(t, err)
	_, err = led.Deploy(ctx, singleLegCandidate(), snap, 20_000, 1000, &pf.ID)
	require.NoError(t, err)

	// A third position deployed later is invisible at the earlier query time.
	_, err = led.Deploy(ctx, singleLegCandidate(), snap, 30_000, 9_000_000, &pf.ID)
	require.NoError(t, err)

	asOf := int64(1000 + 86400)
	pv, err := led.ValuePortfolio(ctx, pf.ID, asOf)
	require.NoError(t, err)

	require.Len(t, pv.Positions, 2)
	assert.Equal(t, 0, pv.FailedCount)
	assert.InDelta(t, 30_000.0, pv.TotalDeployedUSD, 1e-9)

	wantEarnings := 10_000*0.10/365 + 20_000*0.10/365
	assert.InDelta(t, wantEarnings, pv.TotalNetEarnings, 1e-6)
	assert.InDelta(t, 30_000+wantEarnings, pv.TotalValue, 1e-6)

	_ = p1
}

func TestValuePortfolio_NotFound(t *testing.T) {
	led, _ := newTestLedger(t)
	_, err := led.ValuePortfolio(context.Background(), 42, 1000)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
