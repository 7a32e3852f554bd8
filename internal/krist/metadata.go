package krist

import (
	"regexp"
	"strconv"
	"strings"
)

// Reserved metadata keys, in serialization order.
const (
	MetaKeyMetaName  = "metaname"
	MetaKeyName      = "name"
	MetaKeyUsername  = "username"
	MetaKeyRecipient = "recipient"
	MetaKeyReturn    = "return"
	MetaKeyMessage   = "message"
	MetaKeyError     = "error"
)

// nameRe matches the "metaname@name.kst" shorthand allowed in the first segment.
var nameRe = regexp.MustCompile(`^(?:([a-z0-9_-]{1,32})@)?([a-z0-9]{1,64}\.kst)$`)

// Field is a single key/value pair of transaction metadata.
type Field struct {
	Key   string
	Value string
}

// CommonMeta is decoded CommonMeta transaction metadata. Reserved keys
// get their own fields; everything else, including positional segments
// keyed by their index, is kept in Extra in first-seen order.
//
// An empty reserved field is treated as absent.
type CommonMeta struct {
	MetaName  string
	Name      string
	Username  string
	Recipient string
	Return    string
	Message   string
	Error     string

	Extra []Field
}

// ParseCommonMeta decodes a semicolon-delimited metadata string.
//
// The first segment may be a "metaname@name.kst" or "name.kst" shorthand,
// in which case it fills MetaName, Name and Recipient. Remaining segments
// are split on the first '='; a segment without '=' is stored under its
// index. Later keys overwrite earlier ones.
func ParseCommonMeta(raw string) CommonMeta {
	var m CommonMeta
	if raw == "" {
		return m
	}

	parts := strings.Split(raw, ";")

	start := 0
	if match := nameRe.FindStringSubmatch(parts[0]); match != nil {
		m.MetaName = match[1]
		m.Name = match[2]
		if match[1] != "" {
			m.Recipient = match[1] + "@" + match[2]
		} else {
			m.Recipient = match[2]
		}
		start = 1
	}

	for i := start; i < len(parts); i++ {
		key, value, ok := strings.Cut(parts[i], "=")
		if !ok {
			m.Set(strconv.Itoa(i), parts[i])
			continue
		}
		m.Set(key, value)
	}

	return m
}

// Get returns the value stored under key.
func (m *CommonMeta) Get(key string) (string, bool) {
	if p := m.reserved(key); p != nil {
		return *p, *p != ""
	}
	for _, f := range m.Extra {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set stores value under key, replacing any previous value in place.
func (m *CommonMeta) Set(key, value string) {
	if p := m.reserved(key); p != nil {
		*p = value
		return
	}
	for i := range m.Extra {
		if m.Extra[i].Key == key {
			m.Extra[i].Value = value
			return
		}
	}
	m.Extra = append(m.Extra, Field{Key: key, Value: value})
}

// Fields returns all present key/value pairs: reserved keys first in a
// fixed order, then Extra in insertion order.
func (m CommonMeta) Fields() []Field {
	fields := make([]Field, 0, 7+len(m.Extra))
	for _, f := range []Field{
		{MetaKeyMetaName, m.MetaName},
		{MetaKeyName, m.Name},
		{MetaKeyUsername, m.Username},
		{MetaKeyRecipient, m.Recipient},
		{MetaKeyReturn, m.Return},
		{MetaKeyMessage, m.Message},
		{MetaKeyError, m.Error},
	} {
		if f.Value != "" {
			fields = append(fields, f)
		}
	}
	return append(fields, m.Extra...)
}

// String encodes the metadata as "key=value" pairs joined by ';'. The
// name shorthand is never produced, so decoding a shorthand and encoding
// it again yields explicit pairs.
func (m CommonMeta) String() string {
	fields := m.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Key + "=" + f.Value
	}
	return strings.Join(parts, ";")
}

func (m *CommonMeta) reserved(key string) *string {
	switch key {
	case MetaKeyMetaName:
		return &m.MetaName
	case MetaKeyName:
		return &m.Name
	case MetaKeyUsername:
		return &m.Username
	case MetaKeyRecipient:
		return &m.Recipient
	case MetaKeyReturn:
		return &m.Return
	case MetaKeyMessage:
		return &m.Message
	case MetaKeyError:
		return &m.Error
	}
	return nil
}
