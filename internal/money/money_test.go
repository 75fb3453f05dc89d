package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmeticIsExact(t *testing.T) {
	a := MustParse("0.1")
	b := MustParse("0.2")
	assert.True(t, a.Add(b).Equal(MustParse("0.3")))

	cash := MustParse("10000.00")
	cost := MustParse("150.00").Mul(2)
	assert.Equal(t, "9700.00", cash.Sub(cost).String())
	assert.True(t, cash.Sub(cost).Add(cost).Equal(cash))
}

func TestBuySellConservationAtOddPrices(t *testing.T) {
	cash := MustParse("10000.00")
	price := MustParse("33.3333")
	after := cash.Sub(price.Mul(7)).Add(price.Mul(7))
	assert.True(t, after.Equal(cash), "got %s", after)
}

func TestComparisons(t *testing.T) {
	small := MustParse("9.99")
	big := FromInt(10)
	assert.True(t, small.LessThan(big))
	assert.True(t, big.GreaterThan(small))
	assert.True(t, big.LessThanOrEqual(FromInt(10)))
	assert.Equal(t, -1, small.Cmp(big))
	assert.True(t, small.Sub(big).IsNegative())
	assert.True(t, Zero.IsZero())
}

func TestDivRoundsToScale(t *testing.T) {
	assert.Equal(t, "3.3333", FromInt(10).Div(3).String())
}

func TestString(t *testing.T) {
	assert.Equal(t, "150.00", MustParse("150").String())
	assert.Equal(t, "150.25", MustParse("150.250").String())
	assert.Equal(t, "150.1234", MustParse("150.1234").String())
	assert.Equal(t, "0.0001", MustParse("0.00005").String())
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "$9,700.00", MustParse("9700").Display())
}

func TestPercentChange(t *testing.T) {
	pct, ok := MustParse("110").PercentChange(MustParse("100"))
	require.True(t, ok)
	assert.Equal(t, "10", pct.String())

	_, ok = FromInt(5).PercentChange(Zero)
	assert.False(t, ok)
}

func TestJSON(t *testing.T) {
	type payload struct {
		Cash Money `json:"cash"`
	}
	out, err := json.Marshal(payload{Cash: MustParse("9700")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cash": 9700.00}`, string(out))

	var in payload
	require.NoError(t, json.Unmarshal([]byte(`{"cash":"12.5"}`), &in))
	assert.True(t, in.Cash.Equal(MustParse("12.50")))

	require.NoError(t, json.Unmarshal([]byte(`{"cash":12.5}`), &in))
	assert.True(t, in.Cash.Equal(MustParse("12.50")))

	assert.Error(t, json.Unmarshal([]byte(`{"cash":"abc"}`), &in))
}

func TestScan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("10000.0000"))
	assert.True(t, m.Equal(FromInt(10000)))

	require.NoError(t, m.Scan([]byte("1.25")))
	assert.True(t, m.Equal(MustParse("1.25")))

	require.NoError(t, m.Scan(int64(7)))
	assert.True(t, m.Equal(FromInt(7)))

	require.NoError(t, m.Scan(nil))
	assert.True(t, m.IsZero())

	assert.Error(t, m.Scan(true))
}

func TestValue(t *testing.T) {
	v, err := MustParse("150.123456").Value()
	require.NoError(t, err)
	assert.Equal(t, "150.1235", v)
}
