package xmlartifact

import (
	"fmt"
	"reflect"
	"unicode/utf8"
)

// ValidText reports whether s is valid UTF-8 made only of runes allowed by
// the XML Char production. Anything else is replaced on encode and would not
// come back unchanged.
func ValidText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return false
		}
	}
	return true
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

// checkSectionText rejects string fields of a section struct that XML cannot carry.
func checkSectionText(section any) error {
	v := reflect.ValueOf(section)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() != reflect.String || ValidText(f.String()) {
			continue
		}
		return fmt.Errorf("%w: %s contains characters XML cannot represent", ErrInvalidPayload, xmlName(t.Field(i)))
	}
	return nil
}

func checkPayloadText(p Payload) error {
	if err := checkSectionText(p.Application); err != nil {
		return err
	}
	return checkSectionText(p.Applicant)
}
