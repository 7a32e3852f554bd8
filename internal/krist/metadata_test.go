package krist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommonMeta(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want CommonMeta
	}{
		{
			name: "empty",
			raw:  "",
			want: CommonMeta{},
		},
		{
			name: "empty reserved value is absent",
			raw:  "message=;error=",
			want: CommonMeta{},
		},
		{
			name: "empty extra value is kept",
			raw:  "order=",
			want: CommonMeta{Extra: []Field{{Key: "order", Value: ""}}},
		},
		{
			name: "metaname shorthand",
			raw:  "bob@alice.kst",
			want: CommonMeta{MetaName: "bob", Name: "alice.kst", Recipient: "bob@alice.kst"},
		},
		{
			name: "name shorthand",
			raw:  "alice.kst",
			want: CommonMeta{Name: "alice.kst", Recipient: "alice.kst"},
		},
		{
			name: "shorthand then pairs",
			raw:  "shop@store.kst;message=thanks;order=42",
			want: CommonMeta{
				MetaName:  "shop",
				Name:      "store.kst",
				Recipient: "shop@store.kst",
				Message:   "thanks",
				Extra:     []Field{{Key: "order", Value: "42"}},
			},
		},
		{
			name: "last write wins",
			raw:  "a=1;a=2",
			want: CommonMeta{Extra: []Field{{Key: "a", Value: "2"}}},
		},
		{
			name: "positional and pair",
			raw:  "solo;k=v",
			want: CommonMeta{Extra: []Field{{Key: "0", Value: "solo"}, {Key: "k", Value: "v"}}},
		},
		{
			name: "positional index counts shorthand",
			raw:  "alice.kst;hello",
			want: CommonMeta{
				Name:      "alice.kst",
				Recipient: "alice.kst",
				Extra:     []Field{{Key: "1", Value: "hello"}},
			},
		},
		{
			name: "value keeps later equals signs",
			raw:  "query=a=b=c",
			want: CommonMeta{Extra: []Field{{Key: "query", Value: "a=b=c"}}},
		},
		{
			name: "shorthand only in first segment",
			raw:  "x=1;alice.kst",
			want: CommonMeta{Extra: []Field{{Key: "x", Value: "1"}, {Key: "1", Value: "alice.kst"}}},
		},
		{
			name: "uppercase name is not shorthand",
			raw:  "Alice.kst",
			want: CommonMeta{Extra: []Field{{Key: "0", Value: "Alice.kst"}}},
		},
		{
			name: "metaname too long",
			raw:  "abcdefghijklmnopqrstuvwxyz0123456@alice.kst",
			want: CommonMeta{Extra: []Field{{Key: "0", Value: "abcdefghijklmnopqrstuvwxyz0123456@alice.kst"}}},
		},
		{
			name: "metaname with dash and underscore",
			raw:  "a-b_c@alice.kst",
			want: CommonMeta{MetaName: "a-b_c", Name: "alice.kst", Recipient: "a-b_c@alice.kst"},
		},
		{
			name: "reserved keys",
			raw:  "return=kreturn000;username=steve;error=oops",
			want: CommonMeta{Return: "kreturn000", Username: "steve", Error: "oops"},
		},
		{
			name: "pair overrides shorthand",
			raw:  "alice.kst;name=bob.kst",
			want: CommonMeta{Name: "bob.kst", Recipient: "alice.kst"},
		},
		{
			name: "empty segment is positional",
			raw:  "a=1;;b=2",
			want: CommonMeta{Extra: []Field{{Key: "a", Value: "1"}, {Key: "1", Value: ""}, {Key: "b", Value: "2"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommonMeta(tt.raw))
		})
	}
}

func TestCommonMeta_String(t *testing.T) {
	var m CommonMeta
	m.Set("order", "42")
	m.Set(MetaKeyMessage, "thanks")
	m.Set(MetaKeyReturn, "kabcdefghi")
	m.Set("0", "solo")

	assert.Equal(t, "return=kabcdefghi;message=thanks;order=42;0=solo", m.String())
	assert.Equal(t, "", CommonMeta{}.String())
}

func TestCommonMeta_ShorthandIsNotReencoded(t *testing.T) {
	m := ParseCommonMeta("bob@alice.kst")
	assert.Equal(t, "metaname=bob;name=alice.kst;recipient=bob@alice.kst", m.String())
}

func TestCommonMeta_RoundTrip(t *testing.T) {
	metas := []CommonMeta{
		{},
		{Message: "hi"},
		{Name: "alice.kst", Error: "too small", Extra: []Field{{Key: "k", Value: "v"}}},
		{Return: "k1234567890", Extra: []Field{{Key: "0", Value: "solo"}, {Key: "eq", Value: "a=b"}}},
	}

	for _, m := range metas {
		assert.Equal(t, m, ParseCommonMeta(m.String()), "round trip of %q", m.String())
	}
}

func TestCommonMeta_GetSet(t *testing.T) {
	m := ParseCommonMeta("alice.kst;k=v")

	v, ok := m.Get(MetaKeyName)
	assert.True(t, ok)
	assert.Equal(t, "alice.kst", v)

	v, ok = m.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = m.Get(MetaKeyMessage)
	assert.False(t, ok)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	m.Set("k", "w")
	assert.Equal(t, []Field{{Key: "k", Value: "w"}}, m.Extra)

	m = ParseCommonMeta("message=")
	_, ok = m.Get(MetaKeyMessage)
	assert.False(t, ok)
	assert.Empty(t, m.Fields())
}
