package sequence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "SOL-2025-000001", Format(DefaultPrefix(2025), 1))
	assert.Equal(t, "SOL-2025-999999", Format(DefaultPrefix(2025), MaxValue))
	assert.Equal(t, "SOL-2026-000042", Number{Year: 2026, Sequence: 42}.String())
}

func TestParse(t *testing.T) {
	n, err := Parse("SOL-2025-000123")
	require.NoError(t, err)
	assert.Equal(t, Number{Year: 2025, Sequence: 123}, n)

	for _, bad := range []string{"", "SOL-25-000001", "SOL-2025-1", "sol-2025-000001", "SOL-2025-0000001", " SOL-2025-000001", "XYZ-2025-000001"} {
		_, err := Parse(bad)
		assert.True(t, errors.Is(err, ErrFormat), "input %q", bad)
		var fe *FormatError
		assert.ErrorAs(t, err, &fe)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, v := range []int{1, 7, 1000, 654321, MaxValue} {
		n, err := Parse(Format(DefaultPrefix(2024), v))
		require.NoError(t, err)
		assert.Equal(t, 2024, n.Year)
		assert.Equal(t, v, n.Sequence)
	}
}

func TestCounterNextAndLast(t *testing.T) {
	c := Counter{Year: 2025, Prefix: DefaultPrefix(2025)}
	assert.Equal(t, "", c.Last())
	assert.Equal(t, "SOL-2025-000001", c.Next())

	c.Value = 41
	assert.Equal(t, "SOL-2025-000041", c.Last())
	assert.Equal(t, "SOL-2025-000042", c.Next())
}
