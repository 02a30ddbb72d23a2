package reporting

import (
	"fmt"
	"strings"
)

// RenderTradesCSV renders the report's trades as CSV string.
func RenderTradesCSV(trades []TradeRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("trade_id,asset,side,leverage,entry_price,exit_price,quantity,")
	sb.WriteString("opened_at_ms,closed_at_ms,exit_reason,realized_pnl,return_pct\n")

	// Rows
	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%.2f,%.8f,%.8f,%.8f,%d,%d,%s,%.6f,%.6f\n",
			t.TradeID,
			t.Asset,
			t.Side,
			t.Leverage,
			t.EntryPrice,
			t.ExitPrice,
			t.Quantity,
			t.OpenedAtMs,
			t.ClosedAtMs,
			t.ExitReason,
			t.RealizedPnL,
			t.ReturnPct,
		))
	}

	return sb.String()
}

// RenderAssetsCSV renders the per-asset breakdown as CSV string.
func RenderAssetsCSV(r *Report) string {
	var sb strings.Builder
	sb.WriteString("asset,total_trades,wins,win_rate,total_pnl,mean_return\n")
	for _, a := range r.Summary.ByAsset {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%.6f,%.6f,%.6f\n",
			a.Asset, a.TotalTrades, a.Wins, a.WinRate, a.TotalPnL, a.MeanReturn))
	}
	return sb.String()
}
