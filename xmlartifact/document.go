// Package xmlartifact converts loan application payloads to and from the
// XML document that signers sign.
package xmlartifact

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
)

const (
	RootElement = "loan_application"
	Version     = "1.0"
	System      = "creditflow"
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

var (
	// ErrMalformedArtifact is matched by every *MalformedArtifactError.
	ErrMalformedArtifact = errors.New("xmlartifact: malformed artifact")
	// ErrInvalidPayload wraps field validation failures.
	ErrInvalidPayload = errors.New("xmlartifact: invalid payload")
)

// MalformedArtifactError reports a document without the fixed root or
// without both mandatory sections.
type MalformedArtifactError struct {
	Reason string
}

func (e *MalformedArtifactError) Error() string {
	return "xmlartifact: malformed artifact: " + e.Reason
}

func (e *MalformedArtifactError) Is(target error) bool {
	return target == ErrMalformedArtifact
}

// ApplicationFields are the scalar fields of the application section.
type ApplicationFields struct {
	TrackingNumber string `xml:"tracking_number,omitempty" json:"tracking_number,omitempty" validate:"omitempty,max=50"`
	CreditType     string `xml:"credit_type,omitempty" json:"credit_type,omitempty" validate:"omitempty,max=10"`
	Amount         string `xml:"amount,omitempty" json:"amount,omitempty" validate:"omitempty,numeric"`
	TermMonths     string `xml:"term_months,omitempty" json:"term_months,omitempty" validate:"omitempty,number"`
	InterestRate   string `xml:"interest_rate,omitempty" json:"interest_rate,omitempty" validate:"omitempty,numeric"`
	MonthlyPayment string `xml:"monthly_payment,omitempty" json:"monthly_payment,omitempty" validate:"omitempty,numeric"`
	Purpose        string `xml:"purpose,omitempty" json:"purpose,omitempty" validate:"omitempty,max=500"`
	State          string `xml:"state,omitempty" json:"state,omitempty"`
	CreatedAt      string `xml:"created_at,omitempty" json:"created_at,omitempty"`
}

// ApplicantFields are the scalar fields of the applicant section.
type ApplicantFields struct {
	DocumentType   string `xml:"document_type,omitempty" json:"document_type,omitempty" validate:"omitempty,max=10"`
	DocumentNumber string `xml:"document_number,omitempty" json:"document_number,omitempty" validate:"omitempty,max=20"`
	FirstNames     string `xml:"first_names,omitempty" json:"first_names,omitempty" validate:"omitempty,max=200"`
	LastNames      string `xml:"last_names,omitempty" json:"last_names,omitempty" validate:"omitempty,max=200"`
	Email          string `xml:"email,omitempty" json:"email,omitempty" validate:"omitempty,email"`
	Mobile         string `xml:"mobile,omitempty" json:"mobile,omitempty" validate:"omitempty,max=20"`
	Phone          string `xml:"phone,omitempty" json:"phone,omitempty" validate:"omitempty,max=20"`
	Address        string `xml:"address,omitempty" json:"address,omitempty" validate:"omitempty,max=200"`
	City           string `xml:"city,omitempty" json:"city,omitempty" validate:"omitempty,max=100"`
	EmployerID     string `xml:"employer_id,omitempty" json:"employer_id,omitempty" validate:"omitempty,max=20"`
	MonthlyIncome  string `xml:"monthly_income,omitempty" json:"monthly_income,omitempty" validate:"omitempty,numeric"`
}

// Field is one free-form supplementary value. A field has either a Value or Children.
type Field struct {
	Name     string  `json:"name"`
	Value    string  `json:"value,omitempty"`
	Children []Field `json:"children,omitempty"`
}

// Payload is the structured content of an application document.
type Payload struct {
	Application   ApplicationFields `json:"application"`
	Applicant     ApplicantFields   `json:"applicant"`
	Supplementary []Field           `json:"supplementary,omitempty"`
}

// Document is the XML tree. Values are treated as immutable; functions in
// this package and in signature return modified copies.
type Document struct {
	XMLName       xml.Name           `xml:"loan_application"`
	Application   *ApplicationFields `xml:"application,omitempty"`
	Applicant     *ApplicantFields   `xml:"applicant,omitempty"`
	Supplementary *supplementary     `xml:"supplementary,omitempty"`
	Metadata      Metadata           `xml:"metadata"`
	Signatures    *SignatureBlock    `xml:"signatures,omitempty"`
}

type Metadata struct {
	GeneratedAt string `xml:"generated_at"`
	Version     string `xml:"version"`
	System      string `xml:"system"`
}

// SignatureBlock is the signatures section of a signed document.
type SignatureBlock struct {
	Signatures []SignatureNode `xml:"signature"`
	Metadata   ChainMetadata   `xml:"metadata"`
}

type SignatureNode struct {
	ID             string `xml:"id,attr"`
	Name           string `xml:"name,attr"`
	DocumentNumber string `xml:"document-number,attr"`
	Role           string `xml:"role,attr"`
	Date           string `xml:"date,attr"`
	Value          string `xml:"signature-value,attr"`
	Timestamp      string `xml:"timestamp"`
}

type ChainMetadata struct {
	Version   string `xml:"version,attr"`
	CreatedAt string `xml:"created-at,attr"`
	UpdatedAt string `xml:"updated-at,attr,omitempty"`
	NodeCount int    `xml:"node-count,attr"`
	Algorithm string `xml:"algorithm,attr"`
}

type supplementary struct {
	Fields []node `xml:",any"`
}

type node struct {
	XMLName  xml.Name
	Value    string `xml:",chardata"`
	Children []node `xml:",any"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := d
	if d.Application != nil {
		a := *d.Application
		out.Application = &a
	}
	if d.Applicant != nil {
		a := *d.Applicant
		out.Applicant = &a
	}
	if d.Supplementary != nil {
		out.Supplementary = &supplementary{Fields: cloneNodes(d.Supplementary.Fields)}
	}
	if d.Signatures != nil {
		sb := SignatureBlock{Metadata: d.Signatures.Metadata}
		sb.Signatures = append([]SignatureNode(nil), d.Signatures.Signatures...)
		out.Signatures = &sb
	}
	return out
}

// Payload returns the structured content carried by d.
func (d Document) Payload() Payload {
	var p Payload
	if d.Application != nil {
		p.Application = *d.Application
	}
	if d.Applicant != nil {
		p.Applicant = *d.Applicant
	}
	if d.Supplementary != nil {
		p.Supplementary = toFields(d.Supplementary.Fields)
	}
	return p
}

func cloneNodes(in []node) []node {
	if in == nil {
		return nil
	}
	out := make([]node, len(in))
	for i, n := range in {
		out[i] = node{XMLName: n.XMLName, Value: n.Value, Children: cloneNodes(n.Children)}
	}
	return out
}

func toNodes(fields []Field) ([]node, error) {
	var out []node
	for _, f := range fields {
		if !fieldName.MatchString(f.Name) {
			return nil, fmt.Errorf("%w: supplementary field name %q", ErrInvalidPayload, f.Name)
		}
		if !ValidText(f.Value) {
			return nil, fmt.Errorf("%w: supplementary field %s contains characters XML cannot represent", ErrInvalidPayload, f.Name)
		}
		if f.Value == "" && len(f.Children) == 0 {
			continue
		}
		children, err := toNodes(f.Children)
		if err != nil {
			return nil, err
		}
		n := node{XMLName: xml.Name{Local: f.Name}, Children: children}
		if len(children) == 0 {
			n.Value = f.Value
		}
		out = append(out, n)
	}
	return out, nil
}

func toFields(nodes []node) []Field {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]Field, len(nodes))
	for i, n := range nodes {
		f := Field{Name: n.XMLName.Local, Children: toFields(n.Children)}
		if len(n.Children) == 0 {
			f.Value = n.Value
		}
		out[i] = f
	}
	return out
}
