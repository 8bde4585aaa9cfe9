package ledger

import (
	"context"
	"fmt"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
)

// Ledger is the event-sourced store of deployed positions. Entry records and
// rebalance segments are immutable; the only mutable state is each
// position's current-state projection. Every operation takes an explicit
// as-of timestamp — the ledger never reads a wall clock, so the caller's
// "now" governs all temporal logic.
type Ledger struct {
	logger     ports.Logger
	positions  ports.PositionRepository
	segments   ports.SegmentRepository
	portfolios ports.PortfolioRepository
	rates      ports.RateRepository
}

// Config holds the ledger's dependencies.
type Config struct {
	Logger     ports.Logger
	Positions  ports.PositionRepository
	Segments   ports.SegmentRepository
	Portfolios ports.PortfolioRepository
	Rates      ports.RateRepository
}

// New creates a ledger instance.
func New(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil || cfg.Positions == nil || cfg.Segments == nil || cfg.Portfolios == nil || cfg.Rates == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for ledger", ports.ErrConfigurationError)
	}
	return &Ledger{
		logger:     cfg.Logger,
		positions:  cfg.Positions,
		segments:   cfg.Segments,
		portfolios: cfg.Portfolios,
		rates:      cfg.Rates,
	}, nil
}

// Deploy turns an analyzed strategy candidate into a persisted position,
// snapshotting the entry-time rates for every leg from the provided
// snapshot. All leg lookups are contract-keyed.
func (l *Ledger) Deploy(ctx context.Context, cand *domain.StrategyCandidate, snap *domain.Snapshot, deploymentUSD float64, entryTS int64, portfolioID *int64) (*domain.Position, error) {
	if cand == nil || snap == nil {
		return nil, fmt.Errorf("%w: candidate and snapshot are required", ports.ErrInvalidRequest)
	}
	if deploymentUSD <= 0 {
		return nil, fmt.Errorf("%w: deployment USD must be positive", ports.ErrInvalidRequest)
	}
	if cand.Token1Contract == "" || (cand.Type != domain.StrategySingleLeg && cand.Token2Contract == "") {
		return nil, fmt.Errorf("%w: candidate is missing contract identities", ports.ErrAmbiguousToken)
	}

	legs, err := buildEntryLegs(cand, snap)
	if err != nil {
		return nil, err
	}

	pos := &domain.Position{
		PortfolioID:        portfolioID,
		Type:               cand.Type,
		VenueA:             cand.VenueA,
		VenueB:             cand.VenueB,
		Token1:             cand.Token1,
		Token1Contract:     cand.Token1Contract,
		Token2:             cand.Token2,
		Token2Contract:     cand.Token2Contract,
		DeploymentUSD:      deploymentUSD,
		EntryTimestamp:     entryTS,
		EntryMultipliers:   cand.Multipliers,
		EntryLegs:          legs,
		CurrentMultipliers: cand.Multipliers,
		Status:             domain.StatusActive,
	}

	id, err := l.positions.CreatePosition(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("failed to persist deployed position: %w", err)
	}
	pos.ID = id

	l.logger.Info(ctx, "Position deployed", map[string]interface{}{
		"positionID":    id,
		"strategyType":  cand.Type,
		"venueA":        cand.VenueA,
		"venueB":        cand.VenueB,
		"deploymentUSD": deploymentUSD,
		"entryTS":       entryTS,
		"netAPR":        cand.NetAPR,
	})
	return pos, nil
}

// legRoles maps a strategy shape to the legs it carries, in role order.
func legRoles(t domain.StrategyType) ([]domain.LegRole, error) {
	switch t {
	case domain.StrategySingleLeg:
		return []domain.LegRole{domain.RoleLendA}, nil
	case domain.StrategyLinear:
		return []domain.LegRole{domain.RoleLendA, domain.RoleBorrowA, domain.RoleLendB}, nil
	case domain.StrategyRecursiveLoop:
		return []domain.LegRole{domain.RoleLendA, domain.RoleBorrowA, domain.RoleLendB, domain.RoleBorrowB}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownStrategy, t)
	}
}

// legMarket resolves the (venue, contract) market backing one leg role.
func legMarket(cand *domain.StrategyCandidate, role domain.LegRole) (venue, token, contract string) {
	switch role {
	case domain.RoleLendA:
		return cand.VenueA, cand.Token1, cand.Token1Contract
	case domain.RoleBorrowA:
		return cand.VenueA, cand.Token2, cand.Token2Contract
	case domain.RoleLendB:
		return cand.VenueB, cand.Token2, cand.Token2Contract
	case domain.RoleBorrowB:
		return cand.VenueB, cand.Token1, cand.Token1Contract
	}
	return "", "", ""
}

func buildEntryLegs(cand *domain.StrategyCandidate, snap *domain.Snapshot) ([]*domain.PositionLeg, error) {
	roles, err := legRoles(cand.Type)
	if err != nil {
		return nil, err
	}

	legs := make([]*domain.PositionLeg, 0, len(roles))
	for _, role := range roles {
		venue, token, contract := legMarket(cand, role)
		row := snap.Row(venue, contract)
		if row == nil {
			return nil, fmt.Errorf("%w: snapshot has no row for %s@%s (contract %s)", ports.ErrMissingRate, token, venue, contract)
		}
		legs = append(legs, legFromRow(role, row))
	}
	return legs, nil
}

func legFromRow(role domain.LegRole, row *domain.RateRow) *domain.PositionLeg {
	return &domain.PositionLeg{
		Role:                      role,
		Venue:                     row.Venue,
		Token:                     row.Token,
		TokenContract:             row.TokenContract,
		EntryLendAPR:              derefOrZero(row.LendAPR),
		EntryBorrowAPR:            derefOrZero(row.BorrowAPR),
		EntryPriceUSD:             row.PriceUSD,
		EntryCollateralRatio:      row.CollateralRatio,
		EntryLiquidationThreshold: row.LiquidationThreshold,
		EntryBorrowWeight:         row.BorrowWeight,
		EntryBorrowFee:            derefOrZero(row.BorrowFee),
	}
}

func derefOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// GetActivePositions returns the positions that existed and were not yet
// closed at the given instant. A position deployed after asOf is invisible:
// the caller-supplied timestamp defines "now".
func (l *Ledger) GetActivePositions(ctx context.Context, asOf int64) ([]*domain.Position, error) {
	entered, err := l.positions.FindPositionsEnteredBy(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions as of %d: %w", asOf, err)
	}
	active := make([]*domain.Position, 0, len(entered))
	for _, p := range entered {
		if p.ActiveAt(asOf) {
			active = append(active, p)
		}
	}
	return active, nil
}

// GetPositionStateAt reconstructs the multipliers a position held at a past
// instant, ignoring rebalances that happened after it. With zero rebalances
// the current state is the answer. Otherwise the segment whose half-open
// interval covers asOf wins; when no segment matches (before the first
// segment or at/after the last close) the current state is the open tail.
// The matched segment is returned alongside, nil when current state applies.
func (l *Ledger) GetPositionStateAt(ctx context.Context, positionID int64, asOf int64) (domain.Multipliers, *domain.RebalanceSegment, error) {
	pos, err := l.positions.FindPositionByID(ctx, positionID)
	if err != nil {
		return domain.Multipliers{}, nil, fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil {
		return domain.Multipliers{}, nil, fmt.Errorf("position %d: %w", positionID, ports.ErrNotFound)
	}

	if pos.RebalanceCount == 0 {
		return pos.CurrentMultipliers, nil, nil
	}

	segs, err := l.segments.FindSegmentsByPosition(ctx, positionID)
	if err != nil {
		return domain.Multipliers{}, nil, fmt.Errorf("failed to load segments for position %d: %w", positionID, err)
	}
	for _, s := range segs {
		if s.Covers(asOf) {
			return s.Multipliers, s, nil
		}
	}
	return pos.CurrentMultipliers, nil, nil
}

// HasFutureRebalances reports whether any rebalance happened strictly after
// asOf. Each segment closes at the instant of the rebalance that produced it,
// so the check counts segments closed after asOf. True means the caller is
// viewing a past instant with newer history on record, and a rebalance at
// that instant would fork history.
func (l *Ledger) HasFutureRebalances(ctx context.Context, positionID int64, asOf int64) (bool, error) {
	n, err := l.segments.CountSegmentsClosedAfter(ctx, positionID, asOf)
	if err != nil {
		return false, fmt.Errorf("failed to count future segments for position %d: %w", positionID, err)
	}
	return n > 0, nil
}

// CreateRebalance closes the position's open tail into an immutable segment
// ending at asOf and installs the new multipliers as current state. The
// segment's realized PnL covers exactly its own span, computed by the same
// period walk as valuation. Refused when newer rebalances already exist at
// asOf or the position is closed.
func (l *Ledger) CreateRebalance(ctx context.Context, positionID int64, asOf int64, newMultipliers domain.Multipliers) (*domain.RebalanceSegment, error) {
	pos, err := l.positions.FindPositionByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil {
		return nil, fmt.Errorf("position %d: %w", positionID, ports.ErrNotFound)
	}
	if !pos.IsActive() {
		return nil, fmt.Errorf("position %d: %w", positionID, ports.ErrPositionClosed)
	}

	future, err := l.HasFutureRebalances(ctx, positionID, asOf)
	if err != nil {
		return nil, err
	}
	if future {
		return nil, fmt.Errorf("rebalance of position %d at %d: %w", positionID, asOf, ports.ErrFutureRebalances)
	}

	opening := pos.EntryTimestamp
	segs, err := l.segments.FindSegmentsByPosition(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load segments for position %d: %w", positionID, err)
	}
	if n := len(segs); n > 0 {
		opening = segs[n-1].ClosedAt
	}
	if asOf <= opening {
		return nil, fmt.Errorf("%w: rebalance timestamp %d does not advance past segment opening %d", ports.ErrInvalidRequest, asOf, opening)
	}

	held := pos.CurrentMultipliers
	acc, err := l.accrue(ctx, pos, opening, asOf, func(int64) domain.Multipliers { return held })
	if err != nil {
		return nil, fmt.Errorf("failed to compute realized PnL for segment: %w", err)
	}
	realized := acc.lendEarnings - acc.borrowCosts
	if opening == pos.EntryTimestamp {
		// One-time borrow fees land in the first segment.
		realized -= entryFees(pos)
	}

	openingLegs, err := l.legsAt(ctx, pos, opening)
	if err != nil {
		return nil, err
	}
	closingLegs, err := l.legsAt(ctx, pos, asOf)
	if err != nil {
		return nil, err
	}

	seg := &domain.RebalanceSegment{
		PositionID:  positionID,
		Sequence:    pos.RebalanceCount + 1,
		OpenedAt:    opening,
		ClosedAt:    asOf,
		Multipliers: held,
		OpeningLegs: openingLegs,
		ClosingLegs: closingLegs,
		RealizedPNL: realized,
	}

	pos.CurrentMultipliers = newMultipliers
	pos.RebalanceCount++
	pos.RealizedPNL += realized

	// Segment append and current-state update commit together or not at all.
	if err := l.positions.AppendRebalance(ctx, seg, pos); err != nil {
		return nil, fmt.Errorf("failed to commit rebalance for position %d: %w", positionID, err)
	}

	l.logger.Info(ctx, "Position rebalanced", map[string]interface{}{
		"positionID":  positionID,
		"sequence":    seg.Sequence,
		"openedAt":    seg.OpenedAt,
		"closedAt":    seg.ClosedAt,
		"realizedPNL": realized,
	})
	return seg, nil
}

// ClosePosition marks a position terminal at asOf. Valuation remains
// permitted for timestamps up to the close; rebalances are refused from then
// on. Closing at a past instant with newer rebalances on record is refused
// for the same reason rebalancing there is.
func (l *Ledger) ClosePosition(ctx context.Context, positionID int64, asOf int64) error {
	pos, err := l.positions.FindPositionByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil {
		return fmt.Errorf("position %d: %w", positionID, ports.ErrNotFound)
	}
	if !pos.IsActive() {
		return fmt.Errorf("position %d: %w", positionID, ports.ErrPositionClosed)
	}
	if asOf < pos.EntryTimestamp {
		return fmt.Errorf("%w: close at %d precedes entry %d", ports.ErrInvalidRequest, asOf, pos.EntryTimestamp)
	}
	future, err := l.HasFutureRebalances(ctx, positionID, asOf)
	if err != nil {
		return err
	}
	if future {
		return fmt.Errorf("close of position %d at %d: %w", positionID, asOf, ports.ErrFutureRebalances)
	}

	pos.Status = domain.StatusClosed
	pos.ClosedAt = &asOf
	if err := l.positions.UpdatePositionState(ctx, pos); err != nil {
		return fmt.Errorf("failed to close position %d: %w", positionID, err)
	}

	l.logger.Info(ctx, "Position closed", map[string]interface{}{"positionID": positionID, "closedAt": asOf})
	return nil
}

// entryFees sums the one-time borrow fees charged at deployment.
func entryFees(pos *domain.Position) float64 {
	var fees float64
	for _, leg := range pos.EntryLegs {
		if leg.Role.IsBorrow() {
			fees += pos.DeploymentUSD * pos.EntryMultipliers.ForRole(leg.Role) * leg.EntryBorrowFee
		}
	}
	return fees
}

// legsAt snapshots the market parameters for every leg at one instant, for
// the segment boundary records.
func (l *Ledger) legsAt(ctx context.Context, pos *domain.Position, ts int64) ([]*domain.PositionLeg, error) {
	legs := make([]*domain.PositionLeg, 0, len(pos.EntryLegs))
	for _, entry := range pos.EntryLegs {
		row, err := l.rates.RateRowAt(ctx, entry.Venue, entry.TokenContract, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to load rate row for %s@%s at %d: %w", entry.Token, entry.Venue, ts, err)
		}
		if row == nil {
			return nil, fmt.Errorf("%w: no rate history for %s@%s at %d", ports.ErrMissingRate, entry.Token, entry.Venue, ts)
		}
		legs = append(legs, legFromRow(entry.Role, row))
	}
	return legs, nil
}
