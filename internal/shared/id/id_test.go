package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnIDPrefix(t *testing.T) {
	cid := NewConnID()
	assert.True(t, strings.HasPrefix(cid.String(), ConnPrefix+"_"))

	raw := strings.TrimPrefix(cid.String(), ConnPrefix+"_")
	assert.True(t, IsValid(raw))
}

func TestRequestIDPrefix(t *testing.T) {
	rid := NewRequestID()
	assert.True(t, strings.HasPrefix(rid.String(), RequestPrefix+"_"))
}

func TestGenerateUnique(t *testing.T) {
	g := NewGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := g.Generate().String()
		require.False(t, seen[s], "duplicate ULID generated")
		seen[s] = true
	}
}

func TestIsValidRejectsGarbage(t *testing.T) {
	assert.False(t, IsValid("not-a-ulid"))
	assert.False(t, IsValid(""))
}
