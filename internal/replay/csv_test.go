package replay

import (
	"bytes"
	"strings"
	"testing"

	"corrdiv/internal/domain"
)

func TestReadCSV(t *testing.T) {
	input := `asset,timestamp_ms,open,high,low,close,volume
ETHUSDT,120000,2,2.5,1.5,2.2,10
BTCUSDT,60000,100,101,99,100.5,3
ETHUSDT,60000,1.9,2.1,1.8,2,12
`
	series, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(series))
	}
	eth := series["ETHUSDT"]
	if len(eth) != 2 || eth[0].TimestampMs != 60000 || eth[1].TimestampMs != 120000 {
		t.Fatalf("ETHUSDT not sorted: %+v", eth)
	}
	if eth[1].High != 2.5 || eth[1].Volume != 10 {
		t.Errorf("unexpected bar: %+v", eth[1])
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad header", "symbol,ts,o,h,l,c,v\n"},
		{"bad timestamp", "asset,timestamp_ms,open,high,low,close,volume\nETHUSDT,x,1,1,1,1,1\n"},
		{"bad price", "asset,timestamp_ms,open,high,low,close,volume\nETHUSDT,1,1,1,1,abc,1\n"},
		{"short row", "asset,timestamp_ms,open,high,low,close,volume\nETHUSDT,1,1\n"},
		{"empty asset", "asset,timestamp_ms,open,high,low,close,volume\n,1,1,1,1,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWriteCSV_ReadBack(t *testing.T) {
	series := map[string][]domain.PricePoint{
		"SOLUSDT": {{TimestampMs: 60000, Open: 20, High: 21, Low: 19.5, Close: 20.25, Volume: 1000}},
		"BTCUSDT": {{TimestampMs: 60000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, series); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "BTCUSDT,") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}

	back, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if back["SOLUSDT"][0] != series["SOLUSDT"][0] {
		t.Errorf("round trip mismatch: %+v", back["SOLUSDT"][0])
	}
}
