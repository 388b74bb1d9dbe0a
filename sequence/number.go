package sequence

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// MaxValue is the largest counter value the six-digit format can hold.
const MaxValue = 999999

var numberPattern = regexp.MustCompile(`^SOL-(\d{4})-(\d{6})$`)

var (
	// ErrFormat is matched by every *FormatError.
	ErrFormat = errors.New("sequence: malformed tracking number")
	// ErrExhausted is returned when a year has issued MaxValue numbers.
	ErrExhausted = errors.New("sequence: year capacity exhausted")
	// ErrYearOutOfRange is returned for years that do not have four digits.
	ErrYearOutOfRange = errors.New("sequence: year out of range")
)

// FormatError reports a tracking number that does not match SOL-YYYY-NNNNNN.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("sequence: %q is not a tracking number", e.Input)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Number is a parsed tracking number.
type Number struct {
	Year     int
	Sequence int
}

func (n Number) String() string {
	return Format(DefaultPrefix(n.Year), n.Sequence)
}

// DefaultPrefix is the prefix a year counter is created with.
func DefaultPrefix(year int) string {
	return fmt.Sprintf("SOL-%04d-", year)
}

// Format renders prefix followed by the zero-padded value.
func Format(prefix string, value int) string {
	return fmt.Sprintf("%s%06d", prefix, value)
}

// Parse splits a tracking number into year and sequence.
func Parse(s string) (Number, error) {
	m := numberPattern.FindStringSubmatch(s)
	if m == nil {
		return Number{}, &FormatError{Input: s}
	}
	year, _ := strconv.Atoi(m[1])
	seq, _ := strconv.Atoi(m[2])
	return Number{Year: year, Sequence: seq}, nil
}
