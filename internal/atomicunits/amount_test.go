package atomicunits

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	a, err := Parse("1000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000", a.String())

	_, err = Parse("-1")
	assert.Error(t, err)

	_, err = Parse("not-a-number")
	assert.Error(t, err)
}

func TestParseRejectsOverflow(t *testing.T) {
	tooBig := new(big.Int).Add(MaxAmount, big.NewInt(1))
	_, err := Parse(tooBig.String())
	assert.Error(t, err)
}

func TestAddSubCmp(t *testing.T) {
	a := New(100)
	b := New(40)
	assert.Equal(t, "140", Add(a, b).String())
	assert.Equal(t, "60", Sub(a, b).String())
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, 0, a.Cmp(New(100)))
}

func TestJSONRoundTrip(t *testing.T) {
	a := New(1250000)
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"1250000"`, string(data))

	var out Amount
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0, a.Cmp(out))
}

func TestScanValue(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan("42"))
	assert.Equal(t, "42", a.String())

	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	require.NoError(t, a.Scan(nil))
	assert.True(t, a.IsZero())
}
