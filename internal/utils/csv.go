package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"yieldloop/internal/domain"
	"yieldloop/internal/timeutil"
)

// WriteStrategiesToCSV dumps ranked candidates for spreadsheet review.
func WriteStrategiesToCSV(cands []*domain.StrategyCandidate, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{
		"strategy_type", "venue_a", "venue_b", "token1", "token1_contract", "token2", "token2_contract",
		"net_apr", "lend_a", "borrow_a", "lend_b", "borrow_b",
		"liquidation_distance", "max_deployable_usd", "warnings",
	})

	for _, c := range cands {
		writer.Write([]string{
			string(c.Type),
			c.VenueA,
			c.VenueB,
			c.Token1,
			c.Token1Contract,
			c.Token2,
			c.Token2Contract,
			strconv.FormatFloat(c.NetAPR, 'f', -1, 64),
			strconv.FormatFloat(c.Multipliers.LendA, 'f', -1, 64),
			strconv.FormatFloat(c.Multipliers.BorrowA, 'f', -1, 64),
			strconv.FormatFloat(c.Multipliers.LendB, 'f', -1, 64),
			strconv.FormatFloat(c.Multipliers.BorrowB, 'f', -1, 64),
			formatMaybeInf(c.LiquidationDistance),
			formatMaybeInf(c.MaxDeployableUSD),
			joinWarnings(c.Warnings),
		})
	}
	return writer.Error()
}

// ReadRateRowsFromCSV loads raw rate snapshots exported by an off-chain
// collector. Timestamps must be in the canonical storage layout; empty cells
// for the optional columns become nil, never zero.
func ReadRateRowsFromCSV(filename string) ([]*domain.RateRow, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header from %s: %w", filename, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{
		"ts", "venue", "token", "token_contract", "price_usd",
		"collateral_ratio", "liquidation_threshold", "borrow_weight",
	} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("CSV %s is missing required column %q", filename, required)
		}
	}

	rows := make([]*domain.RateRow, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record at line %d: %w", line, err)
		}

		row, err := parseRateRecord(record, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRateRecord(record []string, col map[string]int) (*domain.RateRow, error) {
	cell := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	ts, err := timeutil.Parse(cell("ts"))
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", cell("ts"), err)
	}

	row := &domain.RateRow{
		Timestamp:     ts,
		Venue:         cell("venue"),
		Token:         cell("token"),
		TokenContract: cell("token_contract"),
	}

	if row.PriceUSD, err = parseFloatCell(cell("price_usd"), "price_usd"); err != nil {
		return nil, err
	}
	if row.CollateralRatio, err = parseFloatCell(cell("collateral_ratio"), "collateral_ratio"); err != nil {
		return nil, err
	}
	if row.LiquidationThreshold, err = parseFloatCell(cell("liquidation_threshold"), "liquidation_threshold"); err != nil {
		return nil, err
	}
	if row.BorrowWeight, err = parseFloatCell(cell("borrow_weight"), "borrow_weight"); err != nil {
		return nil, err
	}

	if row.LendAPR, err = parseOptionalCell(cell("lend_apr"), "lend_apr"); err != nil {
		return nil, err
	}
	if row.BorrowAPR, err = parseOptionalCell(cell("borrow_apr"), "borrow_apr"); err != nil {
		return nil, err
	}
	if row.BorrowFee, err = parseOptionalCell(cell("borrow_fee"), "borrow_fee"); err != nil {
		return nil, err
	}
	if row.AvailableBorrowUSD, err = parseOptionalCell(cell("available_borrow_usd"), "available_borrow_usd"); err != nil {
		return nil, err
	}
	return row, nil
}

func parseFloatCell(raw, name string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, raw, err)
	}
	return v, nil
}

func parseOptionalCell(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := parseFloatCell(raw, name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatMaybeInf(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinWarnings(warnings []string) string {
	out := ""
	for i, w := range warnings {
		if i > 0 {
			out += "; "
		}
		out += w
	}
	return out
}
