package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"corrdiv/internal/domain"
)

// csvHeader is the column layout of price history files.
var csvHeader = []string{"asset", "timestamp_ms", "open", "high", "low", "close", "volume"}

// ReadCSV parses price history with the columns of csvHeader. The header row is
// required. Bars are returned per asset, ordered by timestamp ASC.
func ReadCSV(r io.Reader) (map[string][]domain.PricePoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return map[string][]domain.PricePoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, col := range csvHeader {
		if strings.ToLower(strings.TrimSpace(header[i])) != col {
			return nil, fmt.Errorf("unexpected column %d: %q, want %q", i, header[i], col)
		}
	}

	out := make(map[string][]domain.PricePoint)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out[rec[0]] = append(out[rec[0]], p)
	}
	for _, points := range out {
		SortPoints(points)
	}
	return out, nil
}

func parseRecord(rec []string) (domain.PricePoint, error) {
	if rec[0] == "" {
		return domain.PricePoint{}, errors.New("empty asset")
	}
	ts, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("timestamp_ms: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(rec[i+2], 64)
		if err != nil {
			return domain.PricePoint{}, fmt.Errorf("%s: %w", csvHeader[i+2], err)
		}
		vals[i] = v
	}
	return domain.PricePoint{
		TimestampMs: ts,
		Open:        vals[0],
		High:        vals[1],
		Low:         vals[2],
		Close:       vals[3],
		Volume:      vals[4],
	}, nil
}

// WriteCSV writes price history in the layout ReadCSV accepts, assets sorted.
func WriteCSV(w io.Writer, series map[string][]domain.PricePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	assets := make([]string, 0, len(series))
	for a := range series {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, asset := range assets {
		for _, p := range series[asset] {
			rec := []string{asset, strconv.FormatInt(p.TimestampMs, 10), f(p.Open), f(p.High), f(p.Low), f(p.Close), f(p.Volume)}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
