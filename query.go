package retrieve

import (
	"net/url"
	"strings"
	"time"
)

// TokenKind identifies the shape of a query parameter value.
type TokenKind int

// Token kinds.
const (
	// TokenEquality matches a uri or string value exactly (e.g. _profile).
	TokenEquality TokenKind = iota
	// TokenIdentifier matches the logical id of the resource (_id).
	TokenIdentifier
	// TokenReference matches a reference "Type/id".
	TokenReference
	// TokenCode matches a coded element "system|code".
	TokenCode
	// TokenMembership matches a coded element that is a member of a value set.
	TokenMembership
	// TokenRange compares an ordered value with a prefix (ge, le).
	TokenRange
)

// String returns the kind name.
func (k TokenKind) String() string {
	switch k {
	case TokenEquality:
		return "equality"
	case TokenIdentifier:
		return "identifier"
	case TokenReference:
		return "reference"
	case TokenCode:
		return "code"
	case TokenMembership:
		return "membership"
	case TokenRange:
		return "range"
	default:
		return "unknown"
	}
}

// Prefix is a FHIR search comparison prefix.
type Prefix string

// Search prefixes used by range tokens.
const (
	PrefixGE Prefix = "ge"
	PrefixLE Prefix = "le"
)

// ModifierIn is the value-set membership modifier.
const ModifierIn = "in"

// Token is one parameter value descriptor.
type Token struct {
	Kind   TokenKind
	Prefix Prefix
	System string
	Value  string
}

// EqualityToken returns an exact-match token.
func EqualityToken(value string) Token {
	return Token{Kind: TokenEquality, Value: value}
}

// IdentifierToken returns an _id token.
func IdentifierToken(id string) Token {
	return Token{Kind: TokenIdentifier, Value: id}
}

// ReferenceToken returns a reference token for resourceType/id.
func ReferenceToken(resourceType, id string) Token {
	if resourceType == "" {
		return Token{Kind: TokenReference, Value: id}
	}
	return Token{Kind: TokenReference, Value: resourceType + "/" + id}
}

// CodeToken returns a system|code token.
func CodeToken(c Code) Token {
	return Token{Kind: TokenCode, System: c.System, Value: c.Code}
}

// MembershipToken returns a value-set membership token.
func MembershipToken(valueSetID string) Token {
	return Token{Kind: TokenMembership, Value: valueSetID}
}

// RangeToken returns a prefixed timestamp token.
func RangeToken(p Prefix, t time.Time) Token {
	return Token{Kind: TokenRange, Prefix: p, Value: t.UTC().Format(time.RFC3339)}
}

// String returns the wire form of the token. Search separators inside a
// system, code or value are escaped with a backslash. Canonical values keep
// "|" as the version separator.
func (t Token) String() string {
	switch t.Kind {
	case TokenCode:
		if t.System == "" {
			return escapeValue(t.Value)
		}
		return escapeValue(t.System) + "|" + escapeValue(t.Value)
	case TokenRange:
		return string(t.Prefix) + t.Value
	case TokenEquality, TokenMembership:
		return canonicalEscaper.Replace(t.Value)
	default:
		return escapeValue(t.Value)
	}
}

var (
	valueEscaper     = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `|`, `\|`, `$`, `\$`)
	canonicalEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `$`, `\$`)
)

func escapeValue(s string) string {
	if !strings.ContainsAny(s, `\,|$`) {
		return s
	}
	return valueEscaper.Replace(s)
}

// QueryParameterSet is an ordered mapping from parameter key to values.
// The key of a membership token carries the ":in" modifier.
// The zero value is empty and ready to use.
type QueryParameterSet struct {
	keys   []string
	values map[string][]Token
}

// NewQueryParameterSet returns an empty set.
func NewQueryParameterSet() *QueryParameterSet {
	return &QueryParameterSet{}
}

// ParamKey returns the key under which tok is stored for parameter name.
func ParamKey(name string, tok Token) string {
	if tok.Kind == TokenMembership {
		return name + ":" + ModifierIn
	}
	return name
}

// Add appends a token for parameter name.
func (q *QueryParameterSet) Add(name string, tok Token) {
	key := ParamKey(name, tok)
	if q.values == nil {
		q.values = make(map[string][]Token)
	}
	if _, ok := q.values[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.values[key] = append(q.values[key], tok)
}

// Merge appends every parameter of other, keeping first-seen key order.
func (q *QueryParameterSet) Merge(other *QueryParameterSet) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		for _, tok := range other.values[key] {
			if q.values == nil {
				q.values = make(map[string][]Token)
			}
			if _, ok := q.values[key]; !ok {
				q.keys = append(q.keys, key)
			}
			q.values[key] = append(q.values[key], tok)
		}
	}
}

// Names returns the parameter keys in insertion order.
func (q *QueryParameterSet) Names() []string {
	if q == nil {
		return nil
	}
	out := make([]string, len(q.keys))
	copy(out, q.keys)
	return out
}

// Tokens returns the tokens stored under key.
func (q *QueryParameterSet) Tokens(key string) []Token {
	if q == nil {
		return nil
	}
	return q.values[key]
}

// Len returns the number of keys.
func (q *QueryParameterSet) Len() int {
	if q == nil {
		return 0
	}
	return len(q.keys)
}

// IsEmpty reports whether no parameter is set.
func (q *QueryParameterSet) IsEmpty() bool {
	return q.Len() == 0
}

// Encode renders the set as URL query values. Range tokens become repeated
// keys (all must hold); other tokens under one key are joined with a comma
// (any may hold).
func (q *QueryParameterSet) Encode() url.Values {
	v := url.Values{}
	if q == nil {
		return v
	}
	for _, key := range q.keys {
		var alternatives []string
		for _, tok := range q.values[key] {
			if tok.Kind == TokenRange {
				v.Add(key, tok.String())
				continue
			}
			alternatives = append(alternatives, tok.String())
		}
		if len(alternatives) > 0 {
			v.Add(key, strings.Join(alternatives, ","))
		}
	}
	return v
}

// String renders the set in insertion order, e.g. "code=a|b&date=ge2020...".
func (q *QueryParameterSet) String() string {
	if q.IsEmpty() {
		return ""
	}
	enc := q.Encode()
	var b strings.Builder
	for _, key := range q.keys {
		for _, val := range enc[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(val)
		}
	}
	return b.String()
}
