package domain

// Portfolio groups zero or more positions under one entry timestamp and
// target sizing. Purely an aggregation entity: it holds no valuation logic
// of its own beyond summing constituents.
type Portfolio struct {
	ID             int64
	Name           string
	EntryTimestamp int64
	TargetUSD      float64
}
