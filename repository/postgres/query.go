package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/service"
)

// ErrUnsupportedToken is returned by BuildQuery for tokens SQL cannot
// evaluate, such as value-set membership.
var ErrUnsupportedToken = errors.New("postgres: unsupported search token")

// builder accumulates a WHERE clause and its positional arguments.
type builder struct {
	where []string
	args  []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// pathExists renders jsonb_path_exists(data, path, vars).
func (b *builder) pathExists(path string, vars map[string]any) (string, error) {
	raw, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encode jsonpath vars: %w", err)
	}
	return fmt.Sprintf("jsonb_path_exists(data, %s::jsonpath, %s::jsonb)", b.arg(path), b.arg(string(raw))), nil
}

// BuildQuery translates a search into SQL over the resources table. Keys
// are ANDed; non-range tokens under a key are ORed. lookup maps parameter
// names to element paths.
func BuildQuery(table, resourceType string, q *retrieve.QueryParameterSet, lookup func(name string) (service.SearchParameter, bool)) (string, []any, error) {
	b := &builder{}
	b.where = append(b.where, "resource_type = "+b.arg(resourceType))

	for _, key := range q.Names() {
		name, modifier, _ := strings.Cut(key, ":")
		if modifier != "" {
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedToken, key)
		}
		p, ok := lookup(name)
		if !ok {
			return "", nil, fmt.Errorf("unsupported search parameter %s on %s", key, resourceType)
		}

		var alternatives []string
		for _, tok := range q.Tokens(key) {
			clause, err := b.token(p, tok)
			if err != nil {
				return "", nil, err
			}
			if tok.Kind == retrieve.TokenRange {
				b.where = append(b.where, clause)
				continue
			}
			alternatives = append(alternatives, clause)
		}
		switch len(alternatives) {
		case 0:
		case 1:
			b.where = append(b.where, alternatives[0])
		default:
			b.where = append(b.where, "("+strings.Join(alternatives, " OR ")+")")
		}
	}

	sql := fmt.Sprintf("SELECT data FROM %s WHERE %s ORDER BY id", table, strings.Join(b.where, " AND "))
	return sql, b.args, nil
}

func (b *builder) token(p service.SearchParameter, tok retrieve.Token) (string, error) {
	path := jsonPath(p.Path)
	switch tok.Kind {
	case retrieve.TokenIdentifier:
		if p.Name == service.ParamID {
			return "id = " + b.arg(tok.Value), nil
		}
		return b.pathExists(path+` ? (@ == $v)`, map[string]any{"v": tok.Value})
	case retrieve.TokenEquality:
		return b.pathExists(path+` ? (@ == $v)`, map[string]any{"v": tok.Value})
	case retrieve.TokenReference:
		return b.pathExists(path+`."reference" ? (@ == $v)`, map[string]any{"v": tok.Value})
	case retrieve.TokenCode:
		if tok.System == "" {
			return b.pathExists(path+` ? (exists(@.coding ? (@.code == $c)) || @.code == $c || @ == $c)`,
				map[string]any{"c": tok.Value})
		}
		return b.pathExists(path+` ? (exists(@.coding ? (@.system == $s && @.code == $c)) || (@.system == $s && @.code == $c))`,
			map[string]any{"s": tok.System, "c": tok.Value})
	case retrieve.TokenRange:
		return b.dateRange(path, tok)
	default:
		return "", fmt.Errorf("%w: %s %s", ErrUnsupportedToken, tok.Kind, p.Name)
	}
}

// dateRange compares ISO-8601 text at day granularity: ge holds when the
// value or its period end is on or after the bound's day, le when the value
// or its period start is before the day after the bound.
func (b *builder) dateRange(path string, tok retrieve.Token) (string, error) {
	t, err := time.Parse(time.RFC3339, tok.Value)
	if err != nil {
		return "", fmt.Errorf("invalid range value %q: %w", tok.Value, err)
	}
	switch tok.Prefix {
	case retrieve.PrefixGE:
		return b.pathExists(path+` ? (@ >= $d || @.end >= $d || (exists(@.start) && !exists(@.end)))`,
			map[string]any{"d": t.UTC().Format(time.DateOnly)})
	case retrieve.PrefixLE:
		return b.pathExists(path+` ? (@ < $d || @.start < $d || (exists(@.end) && !exists(@.start)))`,
			map[string]any{"d": t.UTC().AddDate(0, 0, 1).Format(time.DateOnly)})
	default:
		return "", fmt.Errorf("%w: prefix %q", ErrUnsupportedToken, tok.Prefix)
	}
}

// jsonPath renders an element path as SQL/JSON path. The last step also
// matches choice type variants, so "effective" finds effectiveDateTime and
// effectivePeriod.
func jsonPath(path string) string {
	steps := strings.Split(path, ".")
	var b strings.Builder
	b.WriteString("$")
	for i, step := range steps {
		if i < len(steps)-1 {
			fmt.Fprintf(&b, ".%q", step)
			continue
		}
		fmt.Fprintf(&b, `.keyvalue() ? (@.key like_regex "^%s([A-Z][A-Za-z]*)?$").value`, step)
	}
	return b.String()
}
