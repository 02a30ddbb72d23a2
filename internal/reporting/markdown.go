package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder
	s := r.Summary

	// Header
	sb.WriteString(fmt.Sprintf("# %s\n\n", r.Title))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Reference: %s | Assets: %s\n\n", r.Reference, strings.Join(r.Assets, ", ")))

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Ticks | %d |\n", r.DataSummary.Ticks))
	sb.WriteString(fmt.Sprintf("| Date Range Start | %s |\n", formatMs(r.DataSummary.DateRangeStart)))
	sb.WriteString(fmt.Sprintf("| Date Range End | %s |\n", formatMs(r.DataSummary.DateRangeEnd)))
	sb.WriteString(fmt.Sprintf("| Skipped Asset Evaluations | %d |\n", r.DataSummary.DataErrors))
	sb.WriteString(fmt.Sprintf("| Signals | %d |\n", r.DataSummary.Signals))
	sb.WriteString("\n")

	// Performance
	sb.WriteString("## Performance\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Trades | %d |\n", s.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Wins / Losses | %d / %d |\n", s.Wins, s.Losses))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.2f%% |\n", s.WinRate*100))
	sb.WriteString(fmt.Sprintf("| Total P&L | %.2f |\n", s.TotalPnL))
	sb.WriteString(fmt.Sprintf("| Mean / Median P&L | %.2f / %.2f |\n", s.MeanPnL, s.MedianPnL))
	sb.WriteString(fmt.Sprintf("| Best / Worst Trade | %.2f / %.2f |\n", s.BestPnL, s.WorstPnL))
	sb.WriteString(fmt.Sprintf("| Profit Factor | %.2f |\n", s.ProfitFactor))
	sb.WriteString(fmt.Sprintf("| Balance | %.2f -> %.2f (%.2f%%) |\n", s.InitialBalance, s.FinalBalance, s.ReturnPct*100))
	sb.WriteString(fmt.Sprintf("| Max Drawdown | %.2f (%.2f%%) |\n", s.MaxDrawdown, s.MaxDrawdownPct*100))
	sb.WriteString(fmt.Sprintf("| Max Consecutive Losses | %d |\n", s.MaxConsecutiveLosses))
	sb.WriteString("\n")

	// Per-asset
	sb.WriteString("## Per Asset\n\n")
	if len(s.ByAsset) > 0 {
		sb.WriteString("| Asset | Trades | Wins | WinRate | P&L | Mean Return |\n")
		sb.WriteString("|-------|--------|------|---------|-----|-------------|\n")
		for _, a := range s.ByAsset {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.4f | %.2f | %.4f |\n",
				a.Asset, a.TotalTrades, a.Wins, a.WinRate, a.TotalPnL, a.MeanReturn))
		}
	} else {
		sb.WriteString("No trades closed.\n")
	}
	sb.WriteString("\n")

	// Signal outcomes
	sb.WriteString("## Signal Outcomes\n\n")
	if len(r.Outcomes) > 0 {
		sb.WriteString("| Outcome | Reason | Count |\n")
		sb.WriteString("|---------|--------|-------|\n")
		for _, o := range r.Outcomes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d |\n", o.Outcome, o.Reason, o.Count))
		}
	} else {
		sb.WriteString("No signals generated.\n")
	}
	sb.WriteString("\n")

	// Exit reasons
	sb.WriteString("## Exit Reasons\n\n")
	if len(r.ExitReasons) > 0 {
		sb.WriteString("| Reason | Count |\n")
		sb.WriteString("|--------|-------|\n")
		for _, e := range r.ExitReasons {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", e.Reason, e.Count))
		}
	} else {
		sb.WriteString("No exits recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
