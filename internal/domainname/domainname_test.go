package domainname

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	name, err := Normalize(" Foo.Example. ")
	require.NoError(t, err)
	assert.Equal(t, "foo.example", name)

	name, err = Normalize("bücher.example")
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", name)

	for _, bad := range []string{"-foo.example", "foo-.example", "fo_o.example", "ab--cd.example", "foo..example"} {
		_, err := Normalize(bad)
		assert.Error(t, err, bad)
	}

	_, err = Normalize("  ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestSplitAndParseUnder(t *testing.T) {
	label, tld, err := Split("foo.example")
	require.NoError(t, err)
	assert.Equal(t, "foo", label)
	assert.Equal(t, "example", tld)

	_, _, err = Split("example")
	assert.ErrorIs(t, err, ErrNotSecondLevel)

	name, label, err := ParseUnder("FOO.example", "example")
	require.NoError(t, err)
	assert.Equal(t, "foo.example", name)
	assert.Equal(t, "foo", label)

	_, _, err = ParseUnder("www.foo.example", "example")
	assert.ErrorIs(t, err, ErrNotSecondLevel)
}
