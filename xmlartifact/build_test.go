package xmlartifact

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var generatedAt = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func marshalPayload(t *testing.T, p Payload) []byte {
	t.Helper()
	doc, err := Build(p, generatedAt)
	require.NoError(t, err)
	out, err := Marshal(doc)
	require.NoError(t, err)
	return out
}

func TestBuildExtractRoundTrip(t *testing.T) {
	p := Payload{
		Application: ApplicationFields{TrackingNumber: "SOL-2025-000001", Amount: "15000000"},
		Applicant:   ApplicantFields{DocumentNumber: "12345678"},
	}

	out := marshalPayload(t, p)
	got, err := Extract(out, true)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestBuildOmitsEmptyFields(t *testing.T) {
	out := string(marshalPayload(t, Payload{
		Application: ApplicationFields{TrackingNumber: "SOL-2025-000009"},
	}))

	assert.Contains(t, out, "<loan_application>")
	assert.Contains(t, out, "<tracking_number>SOL-2025-000009</tracking_number>")
	assert.NotContains(t, out, "<amount>")
	assert.NotContains(t, out, "<applicant>")
	assert.NotContains(t, out, "<supplementary>")
	assert.NotContains(t, out, "<signatures>")
	assert.Contains(t, out, "<generated_at>2025-03-14 09:30:00</generated_at>")
	assert.Contains(t, out, "<version>1.0</version>")
}

func TestRoundTripFullPayloadWithSupplementary(t *testing.T) {
	p := Payload{
		Application: ApplicationFields{
			TrackingNumber: "SOL-2025-000321",
			CreditType:     "FREE",
			Amount:         "2500000.50",
			TermMonths:     "36",
			InterestRate:   "1.85",
			Purpose:        "Home improvement & repairs",
		},
		Applicant: ApplicantFields{
			DocumentType:   "CC",
			DocumentNumber: "1032456789",
			FirstNames:     "Ana María",
			LastNames:      "Rojas <Díaz>",
			Email:          "ana@example.com",
			Mobile:         "3001234567",
		},
		Supplementary: []Field{
			{Name: "employer", Children: []Field{
				{Name: "name", Value: "Acme"},
				{Name: "tenure_months", Value: "48"},
				{Name: "address", Children: []Field{{Name: "city", Value: "Bogotá"}}},
			}},
			{Name: "notes", Value: "first request"},
		},
	}

	got, err := Extract(marshalPayload(t, p), true)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestBuildDropsEmptySupplementaryFields(t *testing.T) {
	p := Payload{
		Applicant:     ApplicantFields{DocumentNumber: "1"},
		Supplementary: []Field{{Name: "empty"}, {Name: "kept", Value: "x"}},
	}
	got, err := Extract(marshalPayload(t, p), true)
	require.NoError(t, err)
	assert.Equal(t, []Field{{Name: "kept", Value: "x"}}, got.Supplementary)
}

func TestBuildRejectsBadFieldName(t *testing.T) {
	_, err := Build(Payload{Supplementary: []Field{{Name: "has space", Value: "x"}}}, generatedAt)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestExtractValidatesStructure(t *testing.T) {
	cases := map[string]string{
		"wrong root":       `<credit_request><application><amount>1</amount></application></credit_request>`,
		"no sections":      `<loan_application><metadata><version>1.0</version></metadata></loan_application>`,
		"nested only":      `<loan_application><supplementary><application>1</application></supplementary></loan_application>`,
		"empty":            ``,
		"not xml":          `{"application":{}}`,
		"truncated":        `<loan_application><application>`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Extract([]byte(doc), true)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedArtifact)
			var mae *MalformedArtifactError
			assert.ErrorAs(t, err, &mae)
		})
	}
}

func TestExtractWithoutValidation(t *testing.T) {
	got, err := Extract([]byte(`<other><applicant><email>a@b.co</email></applicant></other>`), false)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", got.Applicant.Email)
}

func TestExtractStripsBOM(t *testing.T) {
	out := marshalPayload(t, Payload{Applicant: ApplicantFields{City: "Cali"}})
	withBOM := append([]byte{0xEF, 0xBB, 0xBF, ' ', '\n'}, out...)
	got, err := Extract(withBOM, true)
	require.NoError(t, err)
	assert.Equal(t, "Cali", got.Applicant.City)
}

func TestParseAndClone(t *testing.T) {
	out := marshalPayload(t, Payload{Application: ApplicationFields{Amount: "10"}})
	doc, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "1.0", doc.Metadata.Version)

	clone := doc.Clone()
	clone.Application.Amount = "20"
	assert.Equal(t, "10", doc.Application.Amount)
}

func TestMarshalHasDeclaration(t *testing.T) {
	out := string(marshalPayload(t, Payload{Application: ApplicationFields{Amount: "1"}}))
	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
}

func TestBuildRejectsTextXMLCannotCarry(t *testing.T) {
	cases := map[string]Payload{
		"control char":         {Application: ApplicationFields{Purpose: "line1\x01tab"}},
		"invalid utf8":         {Applicant: ApplicantFields{FirstNames: "bad\xffutf8"}},
		"nul":                  {Applicant: ApplicantFields{Address: "Calle 1\x00"}},
		"noncharacter":         {Application: ApplicationFields{Purpose: "x\uFFFEy"}},
		"supplementary value":  {Supplementary: []Field{{Name: "notes", Value: "a\x1bb"}}},
		"nested supplementary": {Supplementary: []Field{{Name: "refs", Children: []Field{{Name: "ref", Value: "\x02\x03"}}}}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(p, generatedAt)
			assert.ErrorIs(t, err, ErrInvalidPayload)
			assert.ErrorIs(t, Validate(p), ErrInvalidPayload)
		})
	}
}

func TestRoundTripKeepsWhitespaceAndAstralRunes(t *testing.T) {
	p := Payload{
		Application: ApplicationFields{Purpose: "line1\tline2\nline3 \U0001F3E0 ok"},
		Applicant:   ApplicantFields{FirstNames: "Ana María"},
	}
	require.NoError(t, Validate(p))

	got, err := Extract(marshalPayload(t, p), true)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestValidText(t *testing.T) {
	assert.True(t, ValidText(""))
	assert.True(t, ValidText("tab\tnewline\ncr\r"))
	assert.False(t, ValidText("\x01"))
	assert.False(t, ValidText("\xc3"))
	assert.False(t, ValidText("\uFFFF"))
}
