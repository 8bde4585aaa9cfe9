package ledger

import (
	"context"
	"fmt"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
	"yieldloop/internal/timeutil"
)

// accrual is the outcome of one period walk over rate history.
type accrual struct {
	lendEarnings float64
	borrowCosts  float64
	periodCount  int
}

// CalculateValue prices a position at a caller-supplied instant by replaying
// rate history from entry. For each adjacent pair of snapshot timestamps
// (t_i, t_i+1) the rates observed at t_i govern accrual over the forward
// interval [t_i, t_i+1) — interest compounds against the rate last
// observed, not the rate about to be observed. The final period extends to
// asOf. Multipliers per period come from time-travel state, so rebalances
// recorded in the segment log are honored. Pure function of immutable
// inputs: identical calls yield identical results.
func (l *Ledger) CalculateValue(ctx context.Context, pos *domain.Position, asOf int64) (*domain.Valuation, error) {
	if pos == nil {
		return nil, fmt.Errorf("%w: position is required", ports.ErrInvalidRequest)
	}
	if asOf < pos.EntryTimestamp {
		return nil, fmt.Errorf("valuation of position %d at %d (entry %d): %w",
			pos.ID, asOf, pos.EntryTimestamp, ports.ErrValuationBeforeEntry)
	}

	multAt, err := l.multiplierResolver(ctx, pos)
	if err != nil {
		return nil, err
	}

	acc, err := l.accrue(ctx, pos, pos.EntryTimestamp, asOf, multAt)
	if err != nil {
		return nil, err
	}

	fees := entryFees(pos)
	net := acc.lendEarnings - acc.borrowCosts - fees

	return &domain.Valuation{
		AsOf:          asOf,
		DeploymentUSD: pos.DeploymentUSD,
		LendEarnings:  acc.lendEarnings,
		BorrowCosts:   acc.borrowCosts,
		Fees:          fees,
		NetEarnings:   net,
		CurrentValue:  pos.DeploymentUSD + net,
		HoldingDays:   timeutil.Days(pos.EntryTimestamp, asOf),
		PeriodCount:   acc.periodCount,
	}, nil
}

// multiplierResolver loads the segment log once and returns a function that
// resolves the multipliers held at any instant.
func (l *Ledger) multiplierResolver(ctx context.Context, pos *domain.Position) (func(int64) domain.Multipliers, error) {
	if pos.RebalanceCount == 0 {
		return func(int64) domain.Multipliers { return pos.CurrentMultipliers }, nil
	}
	segs, err := l.segments.FindSegmentsByPosition(ctx, pos.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load segments for position %d: %w", pos.ID, err)
	}
	return func(ts int64) domain.Multipliers {
		for _, s := range segs {
			if s.Covers(ts) {
				return s.Multipliers
			}
		}
		return pos.CurrentMultipliers
	}, nil
}

// accrue walks every distinct rate-snapshot timestamp in [from, to] and sums
// lend earnings and borrow costs per forward interval. Missing required
// rates mid-history fail loudly — never substituted with zero.
func (l *Ledger) accrue(ctx context.Context, pos *domain.Position, from, to int64, multAt func(int64) domain.Multipliers) (*accrual, error) {
	stamps, err := l.rates.RateTimestamps(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate timestamps in [%d, %d]: %w", from, to, err)
	}

	// Period starts: the span opening plus every snapshot inside it. The
	// opening itself is governed by the latest row at or before it, so a
	// snapshot exactly at `from` collapses into the first start.
	starts := []int64{from}
	for _, ts := range stamps {
		if ts > from && ts < to {
			starts = append(starts, ts)
		}
	}

	acc := &accrual{}
	for i, start := range starts {
		end := to
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if end <= start {
			continue
		}

		frac := timeutil.YearFraction(start, end)
		mult := multAt(start)

		for _, leg := range pos.EntryLegs {
			m := mult.ForRole(leg.Role)
			if m == 0 {
				continue
			}
			row, err := l.rates.RateRowAt(ctx, leg.Venue, leg.TokenContract, start)
			if err != nil {
				return nil, fmt.Errorf("failed to load rate for %s@%s at %d: %w", leg.Token, leg.Venue, start, err)
			}
			if row == nil {
				return nil, fmt.Errorf("%w: no rate history for %s@%s at %d", ports.ErrMissingRate, leg.Token, leg.Venue, start)
			}

			if leg.Role.IsBorrow() {
				if row.BorrowAPR == nil {
					return nil, fmt.Errorf("%w: borrow APR for %s@%s at %d", ports.ErrMissingRate, leg.Token, leg.Venue, start)
				}
				acc.borrowCosts += pos.DeploymentUSD * m * *row.BorrowAPR * frac
			} else {
				if row.LendAPR == nil {
					return nil, fmt.Errorf("%w: lend APR for %s@%s at %d", ports.ErrMissingRate, leg.Token, leg.Venue, start)
				}
				acc.lendEarnings += pos.DeploymentUSD * m * *row.LendAPR * frac
			}
		}
		acc.periodCount++
	}

	return acc, nil
}
