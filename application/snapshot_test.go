package application

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/state"
	"creditflow/xmlartifact"
)

func TestSnapshotOverlaysAggregateFields(t *testing.T) {
	app := New(state.Default(), "id-1", "SOL-2025-000007", "owner", Terms{
		RequestedAmount: decimal.NewFromInt(1000000),
		TermMonths:      12,
		AnnualRate:      decimal.NewFromInt(12),
	}, now)
	app.Payload = xmlartifact.Payload{
		Application: xmlartifact.ApplicationFields{TrackingNumber: "stale", Purpose: "car"},
		Applicant:   xmlartifact.ApplicantFields{DocumentNumber: "12345678"},
	}

	doc, err := Snapshot(app, now)
	require.NoError(t, err)
	out, err := xmlartifact.Marshal(doc)
	require.NoError(t, err)

	p, err := xmlartifact.Extract(out, true)
	require.NoError(t, err)
	assert.Equal(t, "SOL-2025-000007", p.Application.TrackingNumber)
	assert.Equal(t, "car", p.Application.Purpose)
	assert.Equal(t, "1000000", p.Application.Amount)
	assert.Equal(t, "12", p.Application.TermMonths)
	assert.Equal(t, "88848.79", p.Application.MonthlyPayment)
	assert.Equal(t, string(state.IntakeReceived), p.Application.State)
	assert.Equal(t, "12345678", p.Applicant.DocumentNumber)
}
