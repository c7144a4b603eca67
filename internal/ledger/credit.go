package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
)

func ClassifyDueDate(dueDate time.Time, today time.Time) (int, domain.DueDateRisk) {
	days := calendar.DaysBetween(today, dueDate)
	switch {
	case days < 0:
		return days, domain.RiskOverdue
	case days <= 7:
		return days, domain.RiskCritical
	case days <= 30:
		return days, domain.RiskWarning
	default:
		return days, domain.RiskSafe
	}
}

func riskRank(risk domain.DueDateRisk) int {
	switch risk {
	case domain.RiskOverdue:
		return 0
	case domain.RiskCritical:
		return 1
	case domain.RiskWarning:
		return 2
	default:
		return 3
	}
}

// SortByRisk orders open documents worst risk first, then earliest due date.
func SortByRisk(docs []domain.OpenCreditDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		ri, rj := riskRank(docs[i].Risk), riskRank(docs[j].Risk)
		if ri != rj {
			return ri < rj
		}
		if !docs[i].DueDate.Equal(docs[j].DueDate) {
			return docs[i].DueDate.Before(docs[j].DueDate)
		}
		return docs[i].TransactionID < docs[j].TransactionID
	})
}

// ExceedsLimit reports whether adding delta pushes balance strictly above a
// configured limit. A zero limit means none is configured.
func ExceedsLimit(balance int64, limit int64, delta int64) bool {
	if limit <= 0 || delta <= 0 {
		return false
	}
	projected, err := AddChecked(balance, delta)
	if err != nil {
		return true
	}
	return projected > limit
}

func Utilization(balance int64, limit int64) decimal.Decimal {
	if limit <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(balance).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(limit), 2)
}

func Available(balance int64, limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	if balance >= limit {
		return 0
	}
	return limit - balance
}
