package ledger

import (
	"fmt"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// PriceLine fills TotalBaseUnits and LineTotal from the quantities, the
// per-base-unit price and the line discount.
func (b Bounds) PriceLine(line domain.TransactionLine) (domain.TransactionLine, error) {
	total, err := b.TotalBaseUnits(line.PackageQty, line.UnitQty, line.PackageSize)
	if err != nil {
		return line, err
	}
	if total == 0 {
		return line, fmt.Errorf("%w: line %d moves no stock", store.ErrInvalidInput, line.LineNo)
	}
	if err := b.Check("unit_price", line.UnitPrice); err != nil {
		return line, err
	}
	if err := b.Check("discount", line.Discount); err != nil {
		return line, err
	}
	gross, err := b.Mul(total, line.UnitPrice)
	if err != nil {
		return line, err
	}
	if line.Discount > gross {
		return line, fmt.Errorf("%w: line %d discount exceeds line amount", store.ErrInvalidInput, line.LineNo)
	}

	line.TotalBaseUnits = total
	line.LineTotal = gross - line.Discount
	return line, nil
}

type DocumentTotals struct {
	Lines    []domain.TransactionLine
	Subtotal int64
	Total    int64
}

// PriceDocument prices every line and applies the header discount.
func (b Bounds) PriceDocument(lines []domain.TransactionLine, headerDiscount int64) (DocumentTotals, error) {
	if len(lines) == 0 {
		return DocumentTotals{}, fmt.Errorf("%w: document has no lines", store.ErrInvalidInput)
	}
	if err := b.Check("header_discount", headerDiscount); err != nil {
		return DocumentTotals{}, err
	}

	priced := make([]domain.TransactionLine, 0, len(lines))
	subtotal := int64(0)
	for _, line := range lines {
		next, err := b.PriceLine(line)
		if err != nil {
			return DocumentTotals{}, err
		}
		subtotal, err = b.Add(subtotal, next.LineTotal)
		if err != nil {
			return DocumentTotals{}, err
		}
		priced = append(priced, next)
	}
	if headerDiscount > subtotal {
		return DocumentTotals{}, fmt.Errorf("%w: header discount exceeds subtotal", store.ErrInvalidInput)
	}

	return DocumentTotals{
		Lines:    priced,
		Subtotal: subtotal,
		Total:    subtotal - headerDiscount,
	}, nil
}

type Settlement struct {
	PaymentStatus domain.PaymentStatus
	Change        int64
	CreditDelta   int64
}

// Settle derives the payment status: anything short of the total goes on credit.
func (b Bounds) Settle(total int64, amountPaid int64) (Settlement, error) {
	if err := b.Check("amount_paid", amountPaid); err != nil {
		return Settlement{}, err
	}
	if amountPaid < total {
		return Settlement{PaymentStatus: domain.PaymentOnCredit, CreditDelta: total - amountPaid}, nil
	}
	return Settlement{PaymentStatus: domain.PaymentPaid, Change: amountPaid - total}, nil
}

// BaseUnitsByItem sums line quantities per item.
func BaseUnitsByItem(lines []domain.TransactionLine) map[string]int64 {
	out := make(map[string]int64, len(lines))
	for _, line := range lines {
		out[line.ItemID] += line.TotalBaseUnits
	}
	return out
}

// StockSign is the direction a completed document moves stock.
func StockSign(kind domain.TransactionKind) int64 {
	if kind == domain.KindSale {
		return -1
	}
	return 1
}
