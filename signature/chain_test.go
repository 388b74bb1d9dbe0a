package signature

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/xmlartifact"
)

const secret = "0123456789-signing-secret"

var t0 = time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)

func baseDoc(t *testing.T) xmlartifact.Document {
	t.Helper()
	doc, err := xmlartifact.Build(xmlartifact.Payload{
		Application: xmlartifact.ApplicationFields{TrackingNumber: "SOL-2025-000001", Amount: "15000000"},
		Applicant:   xmlartifact.ApplicantFields{DocumentNumber: "12345678"},
	}, t0)
	require.NoError(t, err)
	return doc
}

func signer(id string) Signer {
	return Signer{ID: id, Name: "Signer " + id, DocumentNumber: "DOC-" + id, Role: "applicant"}
}

func TestCreateChainAndAppend(t *testing.T) {
	a, err := CreateChain(baseDoc(t), []Signer{signer("s1")}, secret, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, a.NodeCount())

	a, err = Append(a, signer("s2"), secret, t0.Add(time.Minute))
	require.NoError(t, err)
	a, err = Append(a, signer("s3"), secret, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, a.NodeCount())
	assert.Equal(t, []string{"s1", "s2", "s3"}, a.SignerIDs())

	_, err = Append(a, signer("s2"), secret, t0.Add(3*time.Minute))
	assert.ErrorIs(t, err, ErrDuplicateSigner)
	var dup *DuplicateSignerError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "s2", dup.SignerID)
	assert.Equal(t, 3, a.NodeCount())

	out, err := a.Marshal()
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(out), "<signature "))
	assert.Contains(t, string(out), `node-count="3"`)
	assert.Contains(t, string(out), `algorithm="SHA256"`)
}

func TestAppendDoesNotMutateInput(t *testing.T) {
	a, err := CreateChain(baseDoc(t), nil, secret, t0)
	require.NoError(t, err)
	assert.Zero(t, a.NodeCount())

	b, err := Append(a, signer("x"), secret, t0)
	require.NoError(t, err)
	assert.Zero(t, a.NodeCount())
	assert.Equal(t, 1, b.NodeCount())
	assert.True(t, a.UpdatedAt.IsZero())
	assert.Equal(t, t0, b.UpdatedAt)
}

func TestAppendKEntries(t *testing.T) {
	a, err := CreateChain(baseDoc(t), nil, secret, t0)
	require.NoError(t, err)
	const k = 7
	for i := 0; i < k; i++ {
		a, err = Append(a, Signer{Name: "anon"}, secret, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, k, a.NodeCount())
	seen := map[string]bool{}
	for _, id := range a.SignerIDs() {
		assert.NotEmpty(t, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestCreateChainRejectsDuplicateSigners(t *testing.T) {
	_, err := CreateChain(baseDoc(t), []Signer{signer("a"), signer("a")}, secret, t0)
	assert.ErrorIs(t, err, ErrDuplicateSigner)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := CreateChain(baseDoc(t), nil, "short", t0)
	assert.ErrorIs(t, err, ErrInvalidSecret)

	a, err := CreateChain(baseDoc(t), nil, secret, t0)
	require.NoError(t, err)
	_, err = Append(a, signer("a"), "123456789", t0)
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestSignatureValueIsDeterministic(t *testing.T) {
	a, err := CreateChain(baseDoc(t), []Signer{signer("a")}, secret, t0)
	require.NoError(t, err)
	b, err := CreateChain(baseDoc(t), []Signer{signer("a")}, secret, t0)
	require.NoError(t, err)
	assert.Equal(t, a.Entries[0].Value, b.Entries[0].Value)
	assert.Len(t, a.Entries[0].Value, 64)
	assert.Equal(t, "2025-05-02 10:00:00", a.Entries[0].Date)
}

func TestVerify(t *testing.T) {
	a, err := CreateChain(baseDoc(t), []Signer{signer("a"), signer("b")}, secret, t0)
	require.NoError(t, err)

	results := VerifyChain(a, secret)
	assert.True(t, Valid(results))
	assert.Equal(t, "a", results[0].SignerID)

	assert.False(t, Valid(VerifyChain(a, secret+"x")))

	tampered := a.Entries[1]
	tampered.Role = "approver"
	assert.False(t, VerifyEntry(tampered, secret))
	assert.True(t, VerifyEntry(a.Entries[0], secret))
}

func TestParseArtifactRoundTrip(t *testing.T) {
	a, err := CreateChain(baseDoc(t), []Signer{signer("a")}, secret, t0)
	require.NoError(t, err)
	a, err = Append(a, signer("b"), secret, t0.Add(time.Hour))
	require.NoError(t, err)

	out, err := a.Marshal()
	require.NoError(t, err)

	parsed, err := ParseArtifact(out, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, a.Entries, parsed.Entries)
	assert.Equal(t, a.CreatedAt, parsed.CreatedAt)
	assert.Equal(t, a.UpdatedAt, parsed.UpdatedAt)
	assert.Nil(t, parsed.Base.Signatures)
	assert.True(t, Valid(VerifyChain(parsed, secret)))
	assert.Equal(t, "SOL-2025-000001", parsed.Base.Payload().Application.TrackingNumber)
}

func TestParseArtifactRejectsCountMismatch(t *testing.T) {
	a, err := CreateChain(baseDoc(t), []Signer{signer("a"), signer("b")}, secret, t0)
	require.NoError(t, err)
	out, err := a.Marshal()
	require.NoError(t, err)

	broken := strings.Replace(string(out), `node-count="2"`, `node-count="3"`, 1)
	_, err = ParseArtifact([]byte(broken), nil)
	assert.ErrorIs(t, err, xmlartifact.ErrMalformedArtifact)

	dupID := strings.Replace(string(out), `id="b"`, `id="a"`, 1)
	_, err = ParseArtifact([]byte(dupID), nil)
	assert.ErrorIs(t, err, xmlartifact.ErrMalformedArtifact)
}

func TestParseArtifactRequiresSignatures(t *testing.T) {
	out, err := xmlartifact.Marshal(baseDoc(t))
	require.NoError(t, err)
	_, err = ParseArtifact(out, nil)
	assert.ErrorIs(t, err, xmlartifact.ErrMalformedArtifact)
}

func TestSignerTextXMLCannotCarryIsRejected(t *testing.T) {
	a, err := CreateChain(baseDoc(t), []Signer{signer("s1")}, secret, t0)
	require.NoError(t, err)

	bad := []Signer{
		{ID: "s2", Name: "Ana\x01Maria"},
		{ID: "s2", DocumentNumber: "12\xff34"},
		{ID: "s2\x00", Name: "Ana"},
		{ID: "s2", Role: "wit\x1bness"},
	}
	for _, s := range bad {
		_, err := Append(a, s, secret, t0.Add(time.Minute))
		assert.ErrorIs(t, err, ErrInvalidSigner)

		var invalid *InvalidSignerError
		assert.ErrorAs(t, err, &invalid)

		_, err = CreateChain(baseDoc(t), []Signer{s}, secret, t0)
		assert.ErrorIs(t, err, ErrInvalidSigner)
	}
	assert.Equal(t, 1, a.NodeCount())
}

func TestAppendedSignerStillVerifiesAfterReload(t *testing.T) {
	a, err := CreateChain(baseDoc(t), nil, secret, t0)
	require.NoError(t, err)
	a, err = Append(a, Signer{ID: "s1", Name: "Ana María\tO'Brien & Co \U0001F58A", DocumentNumber: "<123>", Role: "applicant"}, secret, t0)
	require.NoError(t, err)
	require.True(t, Valid(VerifyChain(a, secret)))

	out, err := a.Marshal()
	require.NoError(t, err)
	parsed, err := ParseArtifact(out, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, a.Entries, parsed.Entries)
	assert.True(t, Valid(VerifyChain(parsed, secret)))
}
