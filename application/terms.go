package application

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const maxTermMonths = 360

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// Terms are the requested loan conditions. AnnualRate is a percentage.
type Terms struct {
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	TermMonths      int             `json:"term_months"`
	AnnualRate      decimal.Decimal `json:"annual_rate"`
}

func (t Terms) Validate() error {
	if t.RequestedAmount.IsNegative() {
		return fmt.Errorf("%w: requested amount %s is negative", ErrInvalidTerms, t.RequestedAmount)
	}
	if t.TermMonths < 0 || t.TermMonths > maxTermMonths {
		return fmt.Errorf("%w: term %d outside 0..%d months", ErrInvalidTerms, t.TermMonths, maxTermMonths)
	}
	if t.AnnualRate.IsNegative() {
		return fmt.Errorf("%w: rate %s is negative", ErrInvalidTerms, t.AnnualRate)
	}
	return nil
}

// MonthlyPayment is the fixed installment of a French amortization schedule,
// rounded to cents. Zero when amount or term is unset.
func (t Terms) MonthlyPayment() decimal.Decimal {
	if t.TermMonths <= 0 || !t.RequestedAmount.IsPositive() {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(t.TermMonths))
	r := t.AnnualRate.Div(hundred).Div(twelve)
	if r.IsZero() {
		return t.RequestedAmount.Div(n).Round(2)
	}
	factor := decimal.NewFromInt(1).Add(r).Pow(n)
	return t.RequestedAmount.Mul(r).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1))).Round(2)
}

// TotalToPay is the sum of all installments.
func (t Terms) TotalToPay() decimal.Decimal {
	return t.MonthlyPayment().Mul(decimal.NewFromInt(int64(t.TermMonths)))
}

// TotalInterest is what the borrower pays above the requested amount.
func (t Terms) TotalInterest() decimal.Decimal {
	if t.MonthlyPayment().IsZero() {
		return decimal.Zero
	}
	return t.TotalToPay().Sub(t.RequestedAmount)
}
