// Package signature maintains the append-only chain of signer entries
// attached to an application document.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"creditflow/xmlartifact"
)

const (
	Algorithm       = "SHA256"
	ChainVersion    = "1.0"
	MinSecretLength = 10
)

var (
	// ErrDuplicateSigner is matched by every *DuplicateSignerError.
	ErrDuplicateSigner = errors.New("signature: duplicate signer")
	ErrInvalidSecret   = fmt.Errorf("signature: secret must be at least %d characters", MinSecretLength)
	// ErrInvalidSigner is matched by every *InvalidSignerError.
	ErrInvalidSigner = errors.New("signature: invalid signer")
)

// InvalidSignerError reports a signer field the artifact XML could not store
// verbatim. The signed value would no longer verify after a reload.
type InvalidSignerError struct {
	SignerID string
	Field    string
}

func (e *InvalidSignerError) Error() string {
	return fmt.Sprintf("signature: signer %q field %s contains characters XML cannot represent", e.SignerID, e.Field)
}

func (e *InvalidSignerError) Is(target error) bool {
	return target == ErrInvalidSigner
}

// DuplicateSignerError reports an append for a signer id already in the chain.
type DuplicateSignerError struct {
	SignerID string
}

func (e *DuplicateSignerError) Error() string {
	return fmt.Sprintf("signature: signer %s already signed", e.SignerID)
}

func (e *DuplicateSignerError) Is(target error) bool {
	return target == ErrDuplicateSigner
}

// Signer identifies the party about to sign. An empty ID is replaced with a
// generated one.
type Signer struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	DocumentNumber string `json:"document_number"`
	Role           string `json:"role"`
}

// Entry is one appended signature. Entries never change once appended.
type Entry struct {
	ID             string
	Name           string
	DocumentNumber string
	Role           string
	Date           string
	Value          string
	Timestamp      string
}

// Artifact is a base document plus its ordered signature entries.
type Artifact struct {
	Base      xmlartifact.Document
	Entries   []Entry
	Algorithm string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NodeCount is always derived from the entries.
func (a Artifact) NodeCount() int {
	return len(a.Entries)
}

// Has reports whether signerID already signed.
func (a Artifact) Has(signerID string) bool {
	for _, e := range a.Entries {
		if e.ID == signerID {
			return true
		}
	}
	return false
}

// SignerIDs lists signer ids in append order.
func (a Artifact) SignerIDs() []string {
	ids := make([]string, len(a.Entries))
	for i, e := range a.Entries {
		ids[i] = e.ID
	}
	return ids
}

// CreateChain starts a chain over base with one entry per signer.
func CreateChain(base xmlartifact.Document, signers []Signer, secret string, now time.Time) (Artifact, error) {
	if err := checkSecret(secret); err != nil {
		return Artifact{}, err
	}

	base = base.Clone()
	base.Signatures = nil
	a := Artifact{
		Base:      base,
		Algorithm: Algorithm,
		CreatedAt: now,
	}
	for _, s := range signers {
		if err := checkSigner(s); err != nil {
			return Artifact{}, err
		}
		e := newEntry(s, secret, now)
		if a.Has(e.ID) {
			return Artifact{}, &DuplicateSignerError{SignerID: e.ID}
		}
		a.Entries = append(a.Entries, e)
	}
	return a, nil
}

// Append returns a copy of a with one more entry. a itself is not modified.
func Append(a Artifact, s Signer, secret string, now time.Time) (Artifact, error) {
	if err := checkSecret(secret); err != nil {
		return Artifact{}, err
	}
	if err := checkSigner(s); err != nil {
		return Artifact{}, err
	}
	if s.ID != "" && a.Has(s.ID) {
		return Artifact{}, &DuplicateSignerError{SignerID: s.ID}
	}

	out := a
	out.Base = a.Base.Clone()
	out.Entries = make([]Entry, len(a.Entries), len(a.Entries)+1)
	copy(out.Entries, a.Entries)
	out.Entries = append(out.Entries, newEntry(s, secret, now))
	out.UpdatedAt = now
	return out, nil
}

// Result is the verification outcome for one entry.
type Result struct {
	SignerID string
	Name     string
	Valid    bool
}

// VerifyEntry recomputes the entry value and compares it.
func VerifyEntry(e Entry, secret string) bool {
	return e.Value != "" && e.Value == computeValue(e, secret)
}

// VerifyChain verifies every entry in order.
func VerifyChain(a Artifact, secret string) []Result {
	out := make([]Result, len(a.Entries))
	for i, e := range a.Entries {
		out[i] = Result{SignerID: e.ID, Name: e.Name, Valid: VerifyEntry(e, secret)}
	}
	return out
}

// Valid reports whether every result passed.
func Valid(results []Result) bool {
	for _, r := range results {
		if !r.Valid {
			return false
		}
	}
	return true
}

func newEntry(s Signer, secret string, now time.Time) Entry {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	e := Entry{
		ID:             s.ID,
		Name:           s.Name,
		DocumentNumber: s.DocumentNumber,
		Role:           s.Role,
		Date:           now.Format(xmlartifact.TimeLayout),
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
	e.Value = computeValue(e, secret)
	return e
}

type signedFields struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	DocumentNumber string `json:"document_number"`
	Role           string `json:"role"`
	Date           string `json:"date"`
}

// computeValue is hex(sha256(json(fields) + secret)). It is a keyed digest,
// not an asymmetric signature.
func computeValue(e Entry, secret string) string {
	b, err := json.Marshal(signedFields{
		ID:             e.ID,
		Name:           e.Name,
		DocumentNumber: e.DocumentNumber,
		Role:           e.Role,
		Date:           e.Date,
	})
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(append(b, secret...))
	return hex.EncodeToString(sum[:])
}

func checkSigner(s Signer) error {
	fields := []struct{ name, value string }{
		{"id", s.ID},
		{"name", s.Name},
		{"document_number", s.DocumentNumber},
		{"role", s.Role},
	}
	for _, f := range fields {
		if !xmlartifact.ValidText(f.value) {
			return &InvalidSignerError{SignerID: s.ID, Field: f.name}
		}
	}
	return nil
}

func checkSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return ErrInvalidSecret
	}
	return nil
}
