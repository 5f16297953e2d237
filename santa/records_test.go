package santa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUnsetFields(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte(""), []byte(" null ")} {
		subs, err := DecodeSubmissions(raw)
		require.NoError(t, err)
		assert.NotNil(t, subs)
		assert.Empty(t, subs)

		matches, err := DecodeMatches(raw)
		require.NoError(t, err)
		assert.NotNil(t, matches)
		assert.Empty(t, matches)

		host, err := DecodeHost(raw)
		require.NoError(t, err)
		assert.Empty(t, host)
	}
}

func TestDecodeSubmissions(t *testing.T) {
	subs, err := DecodeSubmissions([]byte(`[
		{"name":"Amy","items":["socks"],"deviceIdentity":"dev-a"},
		{"name":"Bo","items":[]}
	]`))
	require.NoError(t, err)

	assert.Equal(t, []Submission{
		{Name: "Amy", Items: []string{"socks"}, DeviceIdentity: "dev-a"},
		{Name: "Bo", Items: []string{}},
	}, subs)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]struct {
		decode func([]byte) error
		raw    string
		field  string
	}{
		"wishlists object":         {decodeSubs, `{"name":"Amy"}`, "wishlists"},
		"wishlists null entry":     {decodeSubs, `[null]`, "wishlists"},
		"wishlists missing name":   {decodeSubs, `[{"items":["a"]}]`, "wishlists"},
		"wishlists missing items":  {decodeSubs, `[{"name":"Amy"}]`, "wishlists"},
		"wishlists wrong type":     {decodeSubs, `[{"name":3,"items":["a"]}]`, "wishlists"},
		"matches string":           {decodeMatches, `"nope"`, "matches"},
		"matches missing receiver": {decodeMatches, `[{"giver":"Amy"}]`, "matches"},
		"host number":              {decodeHost, `42`, "host"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.decode([]byte(tc.raw))
			require.ErrorIs(t, err, ErrMalformedRecord)

			var mre *MalformedRecordError
			require.ErrorAs(t, err, &mre)
			assert.Equal(t, tc.field, mre.Field)
			assert.Equal(t, KindMalformed, KindOf(err))
		})
	}
}

func decodeSubs(raw []byte) error {
	_, err := DecodeSubmissions(raw)
	return err
}

func decodeMatches(raw []byte) error {
	_, err := DecodeMatches(raw)
	return err
}

func decodeHost(raw []byte) error {
	_, err := DecodeHost(raw)
	return err
}

func TestEncodeAlwaysArrays(t *testing.T) {
	raw, err := EncodeSubmissions(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	raw, err = EncodeMatches(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	_, err = EncodeSubmissions([]Submission{{Name: "Amy"}})
	assert.Error(t, err)

	raw, err = EncodeSubmissions([]Submission{{Name: "Amy", Items: []string{"socks"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Amy","items":["socks"]}]`, string(raw))
}
