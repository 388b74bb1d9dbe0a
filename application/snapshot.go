package application

import (
	"strconv"
	"time"

	"creditflow/xmlartifact"
)

// Snapshot builds the document for app. Fields the aggregate owns (tracking
// number, state, terms) override whatever the payload carries.
func Snapshot(app Application, generatedAt time.Time) (xmlartifact.Document, error) {
	p := app.Payload
	p.Application.TrackingNumber = app.TrackingNumber
	p.Application.State = string(app.State)
	if !app.CreatedAt.IsZero() {
		p.Application.CreatedAt = app.CreatedAt.Format(xmlartifact.TimeLayout)
	}
	if app.Terms.RequestedAmount.IsPositive() {
		p.Application.Amount = app.Terms.RequestedAmount.String()
	}
	if app.Terms.TermMonths > 0 {
		p.Application.TermMonths = strconv.Itoa(app.Terms.TermMonths)
		p.Application.InterestRate = app.Terms.AnnualRate.String()
		p.Application.MonthlyPayment = app.Terms.MonthlyPayment().StringFixed(2)
	}
	return xmlartifact.Build(p, generatedAt)
}
