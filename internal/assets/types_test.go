package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIdUnique(t *testing.T) {
	a := NewId()
	b := NewId()
	assert.NotEqual(t, a, b)
}

func TestParseId(t *testing.T) {
	valid := make([]byte, 16)
	valid[0] = 0x01

	id, ok := ParseId(valid)
	assert.True(t, ok)
	assert.Equal(t, valid, id.Bytes())

	_, ok = ParseId([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestIdString(t *testing.T) {
	var id Id
	id[0] = 0xAB
	assert.Equal(t, "ab000000000000000000000000000000", id.String())
}

func TestSourceValid(t *testing.T) {
	assert.True(t, SourceFile.Valid())
	assert.False(t, Source(99).Valid())
}
