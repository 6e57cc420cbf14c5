package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPreservesKeyOrder(t *testing.T) {
	t.Parallel()

	got, err := Canonical([]byte(`{ "b": 1, "a": [1, 2, {"z": null, "y": true}] }`))
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":[1,2,{"z":null,"y":true}]}`, string(got))
}

func TestSameValue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical arrays", `[1,2]`, `[1, 2]`, true},
		{"number vs string", `2`, `"2"`, false},
		{"key order differs", `{"a":1,"b":2}`, `{"b":2,"a":1}`, false},
		{"float spelling", `1.0`, `1`, true},
		{"exponent spelling", `1e3`, `1000`, true},
		{"nested shape differs", `[[1],2]`, `[1,[2]]`, false},
		{"null vs empty object", `null`, `{}`, false},
		{"unicode escapes", `"\u00e9"`, `"é"`, true},
		{"html not escaped", `"<a&b>"`, `"<a&b>"`, true},
		{"distinct lone surrogates", `"\ud800"`, `"\udfff"`, false},
		{"lone surrogate vs replacement char", `"\ud800"`, `"\ufffd"`, false},
		{"escaped pair vs literal", `"\ud83d\ude00"`, `"😀"`, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := SameValue([]byte(tc.a), []byte(tc.b))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalStrings(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`"\ud800"`:                `"\ud800"`,
		`"x\uDFFFy"`:              `"x\udfffy"`,
		`"\ud83d\ude00"`:          `"😀"`,
		`"tab\there \"q\" \\ \/"`: `"tab\there \"q\" \\ /"`,
		`"\u0001\u001F"`:          `"\u0001\u001f"`,
		`{"\ud800":["\ud800"]}`:   `{"\ud800":["\ud800"]}`,
		`["a\\", "b"]`:            `["a\\","b"]`,
	}
	for in, want := range cases {
		got, err := Canonical([]byte(in))
		require.NoError(t, err, "input %s", in)
		assert.Equal(t, want, string(got), "input %s", in)
	}
}

func TestCanonicalRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{``, `{`, `[1,]`, `1 2`, `undefined`} {
		_, err := Canonical([]byte(raw))
		assert.Error(t, err, "input %q", raw)
	}
}

func TestFormatNumberMatchesECMAScript(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:          "0",
		-0.5:       "-0.5",
		6:          "6",
		1.5:        "1.5",
		100:        "100",
		0.1:        "0.1",
		0.000001:   "0.000001",
		0.0000001:  "1e-7",
		1.5e-7:     "1.5e-7",
		1e21:       "1e+21",
		1.25e21:    "1.25e+21",
		1e20:       "100000000000000000000",
		123456.789: "123456.789",
	}

	for in, want := range cases {
		assert.Equal(t, want, FormatNumber(in), "FormatNumber(%v)", in)
	}
}
