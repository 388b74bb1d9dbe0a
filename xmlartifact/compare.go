package xmlartifact

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Clean strips a UTF-8 byte order mark and surrounding whitespace.
func Clean(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	return bytes.TrimSpace(data)
}

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Difference is one leaf value that differs between two documents.
type Difference struct {
	Path   string
	Kind   ChangeKind
	Before string
	After  string
}

// Compare lists leaf differences between two documents, ordered by path.
// Repeated sibling elements are distinguished by a [n] suffix.
func Compare(before, after []byte) ([]Difference, error) {
	a, err := flatten(before)
	if err != nil {
		return nil, err
	}
	b, err := flatten(after)
	if err != nil {
		return nil, err
	}

	var diffs []Difference
	for path, av := range a {
		bv, ok := b[path]
		switch {
		case !ok:
			diffs = append(diffs, Difference{Path: path, Kind: Removed, Before: av})
		case av != bv:
			diffs = append(diffs, Difference{Path: path, Kind: Modified, Before: av, After: bv})
		}
	}
	for path, bv := range b {
		if _, ok := a[path]; !ok {
			diffs = append(diffs, Difference{Path: path, Kind: Added, After: bv})
		}
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
	return diffs, nil
}

type frame struct {
	path     string
	text     strings.Builder
	children map[string]int
	leaf     bool
}

// flatten maps every leaf element and attribute to its value.
func flatten(data []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(Clean(data)))
	out := make(map[string]string)
	var stack []*frame

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedArtifactError{Reason: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			path := "/" + t.Name.Local
			if n := len(stack); n > 0 {
				parent := stack[n-1]
				parent.leaf = false
				idx := parent.children[t.Name.Local]
				parent.children[t.Name.Local] = idx + 1
				path = parent.path + "/" + t.Name.Local
				if idx > 0 {
					path = fmt.Sprintf("%s[%d]", path, idx)
				}
			}
			for _, attr := range t.Attr {
				out[path+"@"+attr.Name.Local] = attr.Value
			}
			stack = append(stack, &frame{path: path, children: map[string]int{}, leaf: true})
		case xml.CharData:
			if n := len(stack); n > 0 {
				stack[n-1].text.Write(t)
			}
		case xml.EndElement:
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f.leaf {
				out[f.path] = strings.TrimSpace(f.text.String())
			}
		}
	}
	if len(stack) != 0 {
		return nil, &MalformedArtifactError{Reason: "unclosed element"}
	}
	return out, nil
}
