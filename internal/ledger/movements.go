package ledger

import (
	"sort"
	"time"

	"stockledger/backend/internal/domain"
)

type dayKey struct {
	itemID string
	day    time.Time
}

// DayMovements aggregates committed movement per item and civil day for
// days strictly after since (all days when since is zero). Completed
// purchases and applied returns are inbound; completed sales are outbound
// whether or not they were soft deleted. Cancelled and draft documents
// never moved stock.
func DayMovements(txs []domain.Transaction, returns []domain.ReturnRecord, since time.Time) []domain.DayMovement {
	totals := make(map[dayKey]*domain.DayMovement)
	entry := func(itemID string, day time.Time) *domain.DayMovement {
		key := dayKey{itemID: itemID, day: day}
		m, ok := totals[key]
		if !ok {
			m = &domain.DayMovement{ItemID: itemID, Day: day}
			totals[key] = m
		}
		return m
	}

	for _, tx := range txs {
		if tx.Status != domain.StatusCompleted || tx.CompletedOn == nil {
			continue
		}
		day := *tx.CompletedOn
		if !since.IsZero() && !day.After(since) {
			continue
		}
		for _, line := range tx.Lines {
			m := entry(line.ItemID, day)
			if tx.Kind == domain.KindPurchase {
				m.Inbound += line.TotalBaseUnits
			} else {
				m.Outbound += line.TotalBaseUnits
			}
		}
	}
	for _, ret := range returns {
		if !ret.AppliedToStock {
			continue
		}
		if !since.IsZero() && !ret.ReturnDate.After(since) {
			continue
		}
		entry(ret.ItemID, ret.ReturnDate).Inbound += ret.TotalBaseUnits
	}

	out := make([]domain.DayMovement, 0, len(totals))
	for _, m := range totals {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out
}

// MergeDayMovements folds rows for the same (item, day) together.
func MergeDayMovements(rows []domain.DayMovement) []domain.DayMovement {
	totals := make(map[dayKey]*domain.DayMovement, len(rows))
	order := make([]dayKey, 0, len(rows))
	for _, row := range rows {
		key := dayKey{itemID: row.ItemID, day: row.Day}
		if m, ok := totals[key]; ok {
			m.Inbound += row.Inbound
			m.Outbound += row.Outbound
			continue
		}
		copied := row
		totals[key] = &copied
		order = append(order, key)
	}
	out := make([]domain.DayMovement, 0, len(order))
	for _, key := range order {
		out = append(out, *totals[key])
	}
	return out
}
