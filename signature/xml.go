package signature

import (
	"fmt"
	"time"

	"creditflow/xmlartifact"
)

// Document renders the artifact as a document with a signatures section.
func (a Artifact) Document() xmlartifact.Document {
	d := a.Base.Clone()
	block := &xmlartifact.SignatureBlock{
		Metadata: xmlartifact.ChainMetadata{
			Version:   ChainVersion,
			CreatedAt: a.CreatedAt.Format(xmlartifact.TimeLayout),
			NodeCount: a.NodeCount(),
			Algorithm: a.Algorithm,
		},
	}
	if !a.UpdatedAt.IsZero() {
		block.Metadata.UpdatedAt = a.UpdatedAt.Format(xmlartifact.TimeLayout)
	}
	for _, e := range a.Entries {
		block.Signatures = append(block.Signatures, xmlartifact.SignatureNode{
			ID:             e.ID,
			Name:           e.Name,
			DocumentNumber: e.DocumentNumber,
			Role:           e.Role,
			Date:           e.Date,
			Value:          e.Value,
			Timestamp:      e.Timestamp,
		})
	}
	d.Signatures = block
	return d
}

func (a Artifact) Marshal() ([]byte, error) {
	return xmlartifact.Marshal(a.Document())
}

// ParseArtifact reads a signed document. The node count must match the
// number of signature nodes and signer ids must be unique.
func ParseArtifact(data []byte, loc *time.Location) (Artifact, error) {
	if loc == nil {
		loc = time.UTC
	}
	doc, err := xmlartifact.Parse(data)
	if err != nil {
		return Artifact{}, err
	}
	if doc.Signatures == nil {
		return Artifact{}, &xmlartifact.MalformedArtifactError{Reason: "missing signatures section"}
	}

	block := doc.Signatures
	if block.Metadata.NodeCount != len(block.Signatures) {
		return Artifact{}, &xmlartifact.MalformedArtifactError{
			Reason: fmt.Sprintf("node count %d does not match %d signature nodes", block.Metadata.NodeCount, len(block.Signatures)),
		}
	}

	a := Artifact{Algorithm: block.Metadata.Algorithm}
	if a.CreatedAt, err = time.ParseInLocation(xmlartifact.TimeLayout, block.Metadata.CreatedAt, loc); err != nil {
		return Artifact{}, &xmlartifact.MalformedArtifactError{Reason: "bad created-at: " + err.Error()}
	}
	if block.Metadata.UpdatedAt != "" {
		if a.UpdatedAt, err = time.ParseInLocation(xmlartifact.TimeLayout, block.Metadata.UpdatedAt, loc); err != nil {
			return Artifact{}, &xmlartifact.MalformedArtifactError{Reason: "bad updated-at: " + err.Error()}
		}
	}

	seen := make(map[string]struct{}, len(block.Signatures))
	for _, n := range block.Signatures {
		if _, dup := seen[n.ID]; dup {
			return Artifact{}, &xmlartifact.MalformedArtifactError{Reason: "duplicate signer id " + n.ID}
		}
		seen[n.ID] = struct{}{}
		a.Entries = append(a.Entries, Entry{
			ID:             n.ID,
			Name:           n.Name,
			DocumentNumber: n.DocumentNumber,
			Role:           n.Role,
			Date:           n.Date,
			Value:          n.Value,
			Timestamp:      n.Timestamp,
		})
	}

	doc.Signatures = nil
	a.Base = doc
	return a, nil
}
