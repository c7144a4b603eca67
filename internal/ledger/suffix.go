package ledger

import (
	"sort"
	"time"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
)

// Snapshot suffix sums are anchored at a civil day: inboundSuffixSum(d)
// counts inbound base units on days in (d, anchor], where anchor is the
// latest materialized day. Rows of one item always share the anchor, so the
// difference of two adjacent rows is exactly the movement of the later day.
// stockAtDate is independent of the anchor.

type ItemPosition struct {
	ID             string
	StockBaseUnits int64
	CreatedOn      time.Time
}

type SnapshotState struct {
	Items []ItemPosition
	// Movements must cover every day after the earliest date being written
	// and after Watermark, including today.
	Movements []domain.DayMovement
	// Watermark is the latest stored snapshot date, zero when none exist.
	Watermark time.Time
	// Rebuild lists stored row dates of items whose history must be rewritten.
	Rebuild map[string][]time.Time
}

type SuffixShift struct {
	ItemID   string
	Inbound  int64
	Outbound int64
}

type SnapshotPlan struct {
	Anchor time.Time
	// ShiftUpTo is zero unless the anchor moves forward; rows dated on or
	// before it gain the matching SuffixShift.
	ShiftUpTo time.Time
	Shifts    []SuffixShift
	Rows      []domain.DailySnapshot
}

type SuffixPoint struct {
	Date        time.Time
	StockAtDate int64
	Inbound     int64
	Outbound    int64
}

// PlanAnchor is the anchor a run writing dates will use.
func PlanAnchor(watermark time.Time, dates []time.Time) time.Time {
	anchor := watermark
	for _, d := range dates {
		if d.After(anchor) {
			anchor = calendar.Normalize(d)
		}
	}
	return anchor
}

// MovementWindowStart is the earliest day whose successors a run must read.
func MovementWindowStart(watermark time.Time, dates []time.Time, rebuild map[string][]time.Time) time.Time {
	var since time.Time
	consider := func(d time.Time) {
		if since.IsZero() || d.Before(since) {
			since = d
		}
	}
	for _, d := range dates {
		consider(calendar.Normalize(d))
	}
	for _, rows := range rebuild {
		for _, d := range rows {
			consider(d)
		}
	}
	if !watermark.IsZero() && PlanAnchor(watermark, dates).After(watermark) {
		consider(watermark)
	}
	return since
}

func PlanSnapshots(state SnapshotState, dates []time.Time, materializedAt time.Time) (SnapshotPlan, error) {
	anchor := PlanAnchor(state.Watermark, dates)
	plan := SnapshotPlan{Anchor: anchor}
	shifting := !state.Watermark.IsZero() && anchor.After(state.Watermark)
	if shifting {
		plan.ShiftUpTo = state.Watermark
	}

	byItem := make(map[string][]domain.DayMovement)
	for _, m := range state.Movements {
		byItem[m.ItemID] = append(byItem[m.ItemID], m)
	}

	items := append([]ItemPosition(nil), state.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	for _, item := range items {
		moves := byItem[item.ID]
		sort.Slice(moves, func(i, j int) bool { return moves[i].Day.Before(moves[j].Day) })

		rebuildDates, rebuilding := state.Rebuild[item.ID]
		targets := make([]time.Time, 0, len(dates)+len(rebuildDates))
		for _, d := range dates {
			targets = append(targets, calendar.Normalize(d))
		}
		targets = append(targets, rebuildDates...)

		eligible := targets[:0]
		for _, d := range targets {
			if !item.CreatedOn.IsZero() && d.Before(item.CreatedOn) {
				continue
			}
			eligible = append(eligible, d)
		}

		points, err := SweepSuffixes(item.StockBaseUnits, moves, anchor, eligible)
		if err != nil {
			return SnapshotPlan{}, err
		}
		for _, p := range points {
			plan.Rows = append(plan.Rows, domain.DailySnapshot{
				ItemID:            item.ID,
				Date:              p.Date,
				StockAtDate:       p.StockAtDate,
				InboundSuffixSum:  p.Inbound,
				OutboundSuffixSum: p.Outbound,
				MaterializedAt:    materializedAt,
			})
		}

		if shifting && !rebuilding {
			shift := SuffixShift{ItemID: item.ID}
			for _, m := range moves {
				if m.Day.After(state.Watermark) && !m.Day.After(anchor) {
					if shift.Inbound, err = AddChecked(shift.Inbound, m.Inbound); err != nil {
						return SnapshotPlan{}, err
					}
					if shift.Outbound, err = AddChecked(shift.Outbound, m.Outbound); err != nil {
						return SnapshotPlan{}, err
					}
				}
			}
			if shift.Inbound != 0 || shift.Outbound != 0 {
				plan.Shifts = append(plan.Shifts, shift)
			}
		}
	}
	return plan, nil
}

// SweepSuffixes walks movements backwards once and emits one point per
// distinct date, newest first. moves must be sorted by day ascending.
func SweepSuffixes(current int64, moves []domain.DayMovement, anchor time.Time, dates []time.Time) ([]SuffixPoint, error) {
	targets := dedupeDays(dates)
	sort.Slice(targets, func(i, j int) bool { return targets[i].After(targets[j]) })

	points := make([]SuffixPoint, 0, len(targets))
	var inAll, outAll, inAnchored, outAnchored int64
	var err error
	i := len(moves) - 1
	for _, d := range targets {
		for i >= 0 && moves[i].Day.After(d) {
			m := moves[i]
			if inAll, err = AddChecked(inAll, m.Inbound); err != nil {
				return nil, err
			}
			if outAll, err = AddChecked(outAll, m.Outbound); err != nil {
				return nil, err
			}
			if !m.Day.After(anchor) {
				inAnchored += m.Inbound
				outAnchored += m.Outbound
			}
			i--
		}
		stock, err := AddChecked(current, outAll-inAll)
		if err != nil {
			return nil, err
		}
		points = append(points, SuffixPoint{
			Date:        d,
			StockAtDate: stock,
			Inbound:     inAnchored,
			Outbound:    outAnchored,
		})
	}
	return points, nil
}

// DeriveMovement turns two adjacent snapshots into the movement of the later
// day. A missing previous row yields zero movement with the fallback basis.
func DeriveMovement(previous *domain.DailySnapshot, current domain.DailySnapshot) (int64, int64, string) {
	if previous == nil {
		return 0, 0, domain.BasisFallbackPreviousMissing
	}
	inbound := previous.InboundSuffixSum - current.InboundSuffixSum
	outbound := previous.OutboundSuffixSum - current.OutboundSuffixSum
	if inbound < 0 {
		inbound = 0
	}
	if outbound < 0 {
		outbound = 0
	}
	return inbound, outbound, domain.BasisSnapshots
}

// SortMovements orders by inbound desc, outbound desc, item id asc.
func SortMovements(movements []domain.Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		if movements[i].Inbound != movements[j].Inbound {
			return movements[i].Inbound > movements[j].Inbound
		}
		if movements[i].Outbound != movements[j].Outbound {
			return movements[i].Outbound > movements[j].Outbound
		}
		return movements[i].ItemID < movements[j].ItemID
	})
}

func dedupeDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = calendar.Normalize(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
