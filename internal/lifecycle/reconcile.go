package lifecycle

import (
	"sort"

	"corrdiv/internal/domain"
)

// ReconcileReport is the outcome of reconciling against an authoritative snapshot.
type ReconcileReport struct {
	Closed    []domain.ClosedTrade      // tracked positions gone from the account
	Untracked []domain.ExternalPosition // account positions the engine does not track; not adopted
	Mismatch  []*domain.StateInconsistency
}

// Reconcile compares tracked positions with the account's authoritative view.
// Positions missing externally are closed with EXTERNAL_CLOSE at the last known price.
// External positions the engine does not track are reported, never adopted.
// A side or quantity mismatch on a tracked asset is reported and left untouched.
func (m *Manager) Reconcile(snapshot []domain.ExternalPosition, nowMs int64) ReconcileReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	external := make(map[string]domain.ExternalPosition, len(snapshot))
	for _, e := range snapshot {
		external[e.Asset] = e
	}

	var report ReconcileReport
	for _, asset := range m.openAssetsLocked() {
		pos := m.state.OpenPositions[asset]
		ext, ok := external[asset]
		if !ok {
			price, known := m.lastPrice[asset]
			if !known {
				price = pos.EntryPrice
			}
			report.Closed = append(report.Closed, m.closeLocked(pos, price, domain.ExitReasonExternalClose, nowMs))
			continue
		}
		if ext.Side != pos.Side || !sameQuantity(ext.Quantity, pos.Quantity) {
			report.Mismatch = append(report.Mismatch, &domain.StateInconsistency{
				PositionID: pos.PositionID,
				Asset:      asset,
				Detail:     "external position differs in side or quantity",
			})
		}
	}

	for _, e := range snapshot {
		if _, tracked := m.state.OpenPositions[e.Asset]; tracked {
			continue
		}
		report.Untracked = append(report.Untracked, e)
	}
	sort.Slice(report.Untracked, func(i, j int) bool {
		return report.Untracked[i].Asset < report.Untracked[j].Asset
	})
	return report
}

func sameQuantity(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 1e-9*(1+b)
}
