package domain

import "sort"

// RateRow is one immutable rate-snapshot observation for a (venue, token)
// market at a single timestamp. Identity is (Timestamp, Venue, TokenContract);
// Token is the display symbol and must never be used as a join key, since
// distinct contracts can share a symbol.
type RateRow struct {
	Timestamp     int64  // Unix seconds
	Venue         string // lending protocol / market name
	Token         string // display symbol, informational only
	TokenContract string // contract address, the real identity

	LendAPR   *float64 // nil when the venue reported no lend rate
	BorrowAPR *float64 // nil when the venue reported no borrow rate
	PriceUSD  float64

	CollateralRatio      float64 // hard borrow cap as a fraction of collateral
	LiquidationThreshold float64
	BorrowWeight         float64

	BorrowFee          *float64 // one-time fee; optional by schema
	AvailableBorrowUSD *float64 // nil when the venue does not track liquidity
}

// Snapshot is the full set of rate rows valid at a single as-of timestamp:
// the latest observation at or before that instant for every (venue,
// contract) market.
type Snapshot struct {
	Timestamp int64
	Rows      []*RateRow
}

// Venues returns the distinct venue names in the snapshot, sorted for
// deterministic enumeration order.
func (s *Snapshot) Venues() []string {
	seen := make(map[string]struct{})
	for _, r := range s.Rows {
		seen[r.Venue] = struct{}{}
	}
	venues := make([]string, 0, len(seen))
	for v := range seen {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	return venues
}

// RowsByVenue returns the rows for one venue sorted by token contract.
func (s *Snapshot) RowsByVenue(venue string) []*RateRow {
	rows := make([]*RateRow, 0)
	for _, r := range s.Rows {
		if r.Venue == venue {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TokenContract < rows[j].TokenContract })
	return rows
}

// Row looks up the market for a contract at a venue. Lookup is contract-keyed
// only; returns nil when the venue does not list the contract.
func (s *Snapshot) Row(venue, tokenContract string) *RateRow {
	for _, r := range s.Rows {
		if r.Venue == venue && r.TokenContract == tokenContract {
			return r
		}
	}
	return nil
}
