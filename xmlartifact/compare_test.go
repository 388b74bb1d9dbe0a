package xmlartifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	before := marshalPayload(t, Payload{
		Application: ApplicationFields{TrackingNumber: "SOL-2025-000001", Amount: "100"},
		Applicant:   ApplicantFields{City: "Cali"},
	})
	after := marshalPayload(t, Payload{
		Application: ApplicationFields{TrackingNumber: "SOL-2025-000001", Amount: "200"},
		Applicant:   ApplicantFields{Email: "a@b.co"},
	})

	diffs, err := Compare(before, after)
	require.NoError(t, err)
	assert.Equal(t, []Difference{
		{Path: "/loan_application/applicant/city", Kind: Removed, Before: "Cali"},
		{Path: "/loan_application/applicant/email", Kind: Added, After: "a@b.co"},
		{Path: "/loan_application/application/amount", Kind: Modified, Before: "100", After: "200"},
	}, diffs)
}

func TestCompareIdentical(t *testing.T) {
	doc := marshalPayload(t, Payload{Application: ApplicationFields{Amount: "1"}})
	diffs, err := Compare(doc, doc)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestCompareRepeatedSiblingsAndAttributes(t *testing.T) {
	a := []byte(`<r><s id="1"/><s id="2"/></r>`)
	b := []byte(`<r><s id="1"/><s id="3"/></r>`)
	diffs, err := Compare(a, b)
	require.NoError(t, err)
	assert.Equal(t, []Difference{{Path: "/r/s[1]@id", Kind: Modified, Before: "2", After: "3"}}, diffs)
}

func TestCompareMalformed(t *testing.T) {
	_, err := Compare([]byte(`<r>`), []byte(`<r/>`))
	assert.ErrorIs(t, err, ErrMalformedArtifact)
}

func TestClean(t *testing.T) {
	assert.Equal(t, []byte("<a/>"), Clean([]byte("\xEF\xBB\xBF  <a/>\n")))
}
