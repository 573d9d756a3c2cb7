package postgres

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/searchparam"
	"github.com/gofhir/retrieve/service"
)

func lookup(resourceType string) func(string) (service.SearchParameter, bool) {
	s := New(nil, WithCatalog(searchparam.Default()))
	return func(name string) (service.SearchParameter, bool) { return s.lookup(resourceType, name) }
}

const choice = `.keyvalue() ? (@.key like_regex "^%s([A-Z][A-Za-z]*)?$").value`

func last(step string) string {
	return strings.Replace(choice, "%s", step, 1)
}

func TestBuildQuery(t *testing.T) {
	jan1 := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		build     func(q *retrieve.QueryParameterSet)
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "no parameters",
			build:     func(*retrieve.QueryParameterSet) {},
			wantWhere: "resource_type = $1",
			wantArgs:  []any{"Observation"},
		},
		{
			name:      "id",
			build:     func(q *retrieve.QueryParameterSet) { q.Add("_id", retrieve.IdentifierToken("a1c")) },
			wantWhere: "resource_type = $1 AND id = $2",
			wantArgs:  []any{"Observation", "a1c"},
		},
		{
			name: "profile",
			build: func(q *retrieve.QueryParameterSet) {
				q.Add("_profile", retrieve.EqualityToken("http://example.org/lab"))
			},
			wantWhere: "resource_type = $1 AND jsonb_path_exists(data, $2::jsonpath, $3::jsonb)",
			wantArgs: []any{"Observation", `$."meta"` + last("profile") + ` ? (@ == $v)`,
				`{"v":"http://example.org/lab"}`},
		},
		{
			name:      "subject",
			build:     func(q *retrieve.QueryParameterSet) { q.Add("subject", retrieve.ReferenceToken("Patient", "123")) },
			wantWhere: "resource_type = $1 AND jsonb_path_exists(data, $2::jsonpath, $3::jsonb)",
			wantArgs: []any{"Observation", "$" + last("subject") + `."reference" ? (@ == $v)`,
				`{"v":"Patient/123"}`},
		},
		{
			name: "code alternatives",
			build: func(q *retrieve.QueryParameterSet) {
				q.Add("code", retrieve.CodeToken(retrieve.Code{System: "http://loinc.org", Code: "4548-4"}))
				q.Add("code", retrieve.CodeToken(retrieve.Code{Code: "85354-9"}))
			},
			wantWhere: "resource_type = $1 AND (jsonb_path_exists(data, $2::jsonpath, $3::jsonb) OR jsonb_path_exists(data, $4::jsonpath, $5::jsonb))",
			wantArgs: []any{"Observation",
				"$" + last("code") + ` ? (exists(@.coding ? (@.system == $s && @.code == $c)) || (@.system == $s && @.code == $c))`,
				`{"c":"4548-4","s":"http://loinc.org"}`,
				"$" + last("code") + ` ? (exists(@.coding ? (@.code == $c)) || @.code == $c || @ == $c)`,
				`{"c":"85354-9"}`,
			},
		},
		{
			name: "date range",
			build: func(q *retrieve.QueryParameterSet) {
				q.Add("date", retrieve.RangeToken(retrieve.PrefixGE, jan1))
				q.Add("date", retrieve.RangeToken(retrieve.PrefixLE, jan1.AddDate(0, 11, 30)))
			},
			wantWhere: "resource_type = $1 AND jsonb_path_exists(data, $2::jsonpath, $3::jsonb) AND jsonb_path_exists(data, $4::jsonpath, $5::jsonb)",
			wantArgs: []any{"Observation",
				"$" + last("effective") + ` ? (@ >= $d || @.end >= $d || (exists(@.start) && !exists(@.end)))`,
				`{"d":"2020-01-01"}`,
				"$" + last("effective") + ` ? (@ < $d || @.start < $d || (exists(@.end) && !exists(@.start)))`,
				`{"d":"2021-01-01"}`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := retrieve.NewQueryParameterSet()
			tt.build(q)
			sql, args, err := BuildQuery(DefaultTable, "Observation", q, lookup("Observation"))
			if err != nil {
				t.Fatalf("BuildQuery() error = %v", err)
			}
			want := "SELECT data FROM resources WHERE " + tt.wantWhere + " ORDER BY id"
			if sql != want {
				t.Errorf("sql = %s\nwant  %s", sql, want)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v\nwant   %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestBuildQuery_Errors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(q *retrieve.QueryParameterSet)
		wantErr error
	}{
		{"membership", func(q *retrieve.QueryParameterSet) { q.Add("code", retrieve.MembershipToken("vs")) }, ErrUnsupportedToken},
		{"unknown parameter", func(q *retrieve.QueryParameterSet) { q.Add("focus", retrieve.EqualityToken("x")) }, nil},
		{"bad range prefix", func(q *retrieve.QueryParameterSet) {
			q.Add("date", retrieve.Token{Kind: retrieve.TokenRange, Prefix: "gt", Value: "2020-01-01T00:00:00Z"})
		}, ErrUnsupportedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := retrieve.NewQueryParameterSet()
			tt.build(q)
			_, _, err := BuildQuery(DefaultTable, "Observation", q, lookup("Observation"))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSONPath(t *testing.T) {
	if got, want := jsonPath("a.b.c"), `$."a"."b"`+last("c"); got != want {
		t.Errorf("jsonPath() = %s; want %s", got, want)
	}
}

// fakeDB records statements and answers queries with canned rows.
type fakeDB struct {
	rows  [][]byte
	err   error
	execs []string
	args  [][]any
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	return &fakeRows{data: f.rows, pos: -1}, nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, f.err
}

type fakeRows struct {
	data   [][]byte
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return []any{r.data[r.pos]}, nil }
func (r *fakeRows) RawValues() [][]byte                          { return [][]byte{r.data[r.pos]} }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.pos+1 >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*[]byte)) = r.data[r.pos]
	return nil
}

func TestStore_Search(t *testing.T) {
	db := &fakeDB{rows: [][]byte{
		[]byte(`{"resourceType":"Observation","id":"1"}`),
		[]byte(`{"resourceType":"Observation","id":"2"}`),
	}}
	s := New(db)

	q := retrieve.NewQueryParameterSet()
	q.Add("subject", retrieve.ReferenceToken("Patient", "123"))

	var ids []string
	for r, err := range s.Search(context.Background(), "Observation", q) {
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID())
	}
	if got := strings.Join(ids, ","); got != "1,2" {
		t.Errorf("ids = %q; want 1,2", got)
	}
	if len(db.args) != 1 || len(db.args[0]) != 3 {
		t.Errorf("query args = %v", db.args)
	}
}

func TestStore_SearchErrors(t *testing.T) {
	ctx := context.Background()

	down := New(&fakeDB{err: errors.New("connection refused")})
	var got error
	for _, err := range down.Search(ctx, "Observation", nil) {
		got = err
	}
	if got == nil || !strings.Contains(got.Error(), "connection refused") {
		t.Errorf("error = %v", got)
	}

	corrupt := New(&fakeDB{rows: [][]byte{[]byte(`{`)}})
	got = nil
	for _, err := range corrupt.Search(ctx, "Observation", nil) {
		got = err
	}
	if got == nil {
		t.Error("expected decode error")
	}
}

func TestStore_PutAndMigrate(t *testing.T) {
	db := &fakeDB{}
	s := New(db, WithTable("fhir_resources"))
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if len(db.execs) != 2 || !strings.Contains(db.execs[0], `"fhir_resources"`) {
		t.Errorf("migrate statements = %v", db.execs)
	}

	r := retrieve.Resource{"resourceType": "Patient"}
	if err := s.Put(ctx, r); err != nil {
		t.Fatal(err)
	}
	if r.ID() == "" {
		t.Error("expected generated id")
	}
	if err := s.Put(ctx, retrieve.Resource{"id": "x"}); err == nil {
		t.Error("expected error for missing resourceType")
	}
}

func TestStore_DeclaresSupport(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	tests := []struct {
		param string
		want  bool
	}{
		{"code", true},
		{"_id", true},
		{"_profile", true},
		{"date", true},
		{"code:in", false},
		{"focus", false},
	}
	for _, tt := range tests {
		if got := s.DeclaresSupport(ctx, "Observation", tt.param); got != tt.want {
			t.Errorf("DeclaresSupport(%q) = %v; want %v", tt.param, got, tt.want)
		}
	}
}
