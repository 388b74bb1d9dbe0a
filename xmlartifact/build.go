package xmlartifact

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// TimeLayout is used for every timestamp written into a document.
const TimeLayout = "2006-01-02 15:04:05"

// Build renders p into a document. Empty fields and empty sections are left
// out. Text XML cannot represent is rejected with ErrInvalidPayload.
func Build(p Payload, generatedAt time.Time) (Document, error) {
	if err := checkPayloadText(p); err != nil {
		return Document{}, err
	}
	doc := Document{
		XMLName: xml.Name{Local: RootElement},
		Metadata: Metadata{
			GeneratedAt: generatedAt.Format(TimeLayout),
			Version:     Version,
			System:      System,
		},
	}
	if p.Application != (ApplicationFields{}) {
		a := p.Application
		doc.Application = &a
	}
	if p.Applicant != (ApplicantFields{}) {
		a := p.Applicant
		doc.Applicant = &a
	}
	nodes, err := toNodes(p.Supplementary)
	if err != nil {
		return Document{}, err
	}
	if len(nodes) > 0 {
		doc.Supplementary = &supplementary{Fields: nodes}
	}
	return doc, nil
}

// Marshal encodes d with an XML declaration and two-space indentation.
func Marshal(d Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("xmlartifact: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("xmlartifact: encode: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse decodes a document after checking its structure.
func Parse(data []byte) (Document, error) {
	data = Clean(data)
	if err := ValidateStructure(data); err != nil {
		return Document{}, err
	}
	var d Document
	if err := xml.Unmarshal(data, &d); err != nil {
		return Document{}, &MalformedArtifactError{Reason: err.Error()}
	}
	trimNodes(d.supplementaryNodes())
	return d, nil
}

// Extract returns the payload carried by data. With validate set, the root
// element and the presence of an application or applicant section are
// checked before anything is read.
func Extract(data []byte, validate bool) (Payload, error) {
	data = Clean(data)
	if validate {
		if err := ValidateStructure(data); err != nil {
			return Payload{}, err
		}
	}

	var d struct {
		Application   *ApplicationFields `xml:"application"`
		Applicant     *ApplicantFields   `xml:"applicant"`
		Supplementary *supplementary     `xml:"supplementary"`
	}
	if err := xml.Unmarshal(data, &d); err != nil {
		return Payload{}, &MalformedArtifactError{Reason: err.Error()}
	}
	doc := Document{Application: d.Application, Applicant: d.Applicant, Supplementary: d.Supplementary}
	trimNodes(doc.supplementaryNodes())
	return doc.Payload(), nil
}

// ValidateStructure checks the root element and that at least one of the
// application or applicant sections sits directly below it.
func ValidateStructure(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))

	root, err := firstStart(dec)
	if err != nil {
		return &MalformedArtifactError{Reason: "no root element: " + err.Error()}
	}
	if root.Name.Local != RootElement {
		return &MalformedArtifactError{Reason: fmt.Sprintf("root element is <%s>, expected <%s>", root.Name.Local, RootElement)}
	}

	depth := 1
	found := false
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return &MalformedArtifactError{Reason: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 1 && (t.Name.Local == "application" || t.Name.Local == "applicant") {
				found = true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if !found {
		return &MalformedArtifactError{Reason: "missing application and applicant sections"}
	}
	return nil
}

func firstStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, io.ErrUnexpectedEOF
			}
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func (d Document) supplementaryNodes() []node {
	if d.Supplementary == nil {
		return nil
	}
	return d.Supplementary.Fields
}

// Indentation between child elements is decoded as character data on the parent.
func trimNodes(nodes []node) {
	for i := range nodes {
		if len(nodes[i].Children) > 0 {
			nodes[i].Value = strings.TrimSpace(nodes[i].Value)
			trimNodes(nodes[i].Children)
		}
	}
}
