package domain

// PricePoint is one fixed-interval OHLCV bar for a single asset.
// Immutable once recorded.
type PricePoint struct {
	TimestampMs int64   // bar open time, Unix ms
	Open        float64 // open price
	High        float64 // high price
	Low         float64 // low price
	Close       float64 // close price
	Volume      float64 // base volume traded in the bar
}

// Tick is the set of price points delivered for a single evaluation step.
// Assets missing from Points had no new data this step.
type Tick struct {
	TimestampMs int64
	Points      map[string]PricePoint // asset -> point
}

// AssetPair identifies the reference/tracked pair a correlation is computed for.
type AssetPair struct {
	Reference string
	Tracked   string
}

// String returns "REF/TRACKED".
func (p AssetPair) String() string {
	return p.Reference + "/" + p.Tracked
}
