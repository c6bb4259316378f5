package routetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixTableLookup(t *testing.T) {
	p := NewPrefixTable(map[string]string{
		"car":   "http://localhost:5008",
		"/user": "http://localhost:5005",
	})
	assert.Equal(t, 2, p.Len())

	e, ok := p.Lookup("patch", "/car/cars/1")
	require.True(t, ok)
	assert.Equal(t, "car", e.Backend)
	assert.Equal(t, "cars/1", e.TargetPath)
	assert.Equal(t, "http://localhost:5008/cars/1", e.TargetURL())
	assert.Equal(t, NewKey("PATCH", "car/cars/1"), e.Key)

	e, ok = p.Lookup("GET", "user/login/")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:5005/login", e.TargetURL())
}

func TestPrefixTableMisses(t *testing.T) {
	p := NewPrefixTable(map[string]string{"car": "http://localhost:5008"})

	for _, path := range []string{"", "/", "car", "/car/", "boat/list"} {
		_, ok := p.Lookup("GET", path)
		assert.False(t, ok, path)
	}
}
