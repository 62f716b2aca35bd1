package feeder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func drain(t *testing.T, f Feeder, n int, field string) []string {
	t.Helper()
	var got []string
	for i := 0; i < n; i++ {
		rec, err := f.Next(context.Background())
		require.NoError(t, err)
		got = append(got, rec[field])
	}
	return got
}

func TestCSVFeederWrapsAround(t *testing.T) {
	path := writeFile(t, "accounts.csv", "account, region\nacme, eu\nglobex,us\ninitech,apac\n")

	f, err := NewCSVFeeder(path)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []string{"acme", "globex", "initech", "acme"}, drain(t, f, 4, "account"))

	// Leading spaces after the delimiter are trimmed.
	rec, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "us", rec["region"])
}

func TestJSONFeederStringifiesValues(t *testing.T) {
	path := writeFile(t, "orders.json", `[
		{"order": "o-1", "qty": 2, "rush": true},
		{"order": "o-2", "qty": 1.5, "rush": false}
	]`)

	f, err := NewJSONFeeder(path)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	first, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Record{"order": "o-1", "qty": "2", "rush": "true"}, first)
	assert.Equal(t, []string{"1.5", "2"}, drain(t, f, 2, "qty"))
}

func TestFeederSharedAcrossGoroutines(t *testing.T) {
	rows := []string{"id"}
	for i := 1; i <= 100; i++ {
		rows = append(rows, fmt.Sprint(i))
	}
	f, err := NewCSVFeeder(writeFile(t, "ids.csv", strings.Join(rows, "\n")))
	require.NoError(t, err)

	const vus = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	wg.Add(vus)
	for i := 0; i < vus; i++ {
		go func() {
			defer wg.Done()
			rec, err := f.Next(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[rec["id"]]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, vus)
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %s handed out twice", id)
	}
}

func TestFeederLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		open    func(string) (Feeder, error)
		isEmpty bool
	}{
		{name: "empty csv", file: "empty.csv", content: "", isEmpty: true},
		{name: "header only csv", file: "header.csv", content: "id,name\n", isEmpty: true},
		{name: "ragged csv", file: "ragged.csv", content: "id,name\n1\n"},
		{name: "invalid json", file: "bad.json", content: `{invalid json`},
		{name: "empty json array", file: "empty.json", content: `[]`, isEmpty: true},
		{name: "empty json object", file: "blank.json", content: `[{}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			if tt.isEmpty {
				assert.ErrorIs(t, err, ErrEmpty)
			}
		})
	}

	_, err := NewCSVFeeder(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestOpenPicksFeederByExtension(t *testing.T) {
	f, err := Open(writeFile(t, "DATA.CSV", "id\n1\n2"))
	require.NoError(t, err)
	assert.IsType(t, &CSVFeeder{}, f)
	assert.Equal(t, 2, f.Len())

	f, err = Open(writeFile(t, "data.json", `[{"id": 1}]`))
	require.NoError(t, err)
	assert.IsType(t, &JSONFeeder{}, f)

	_, err = Open(writeFile(t, "data.xml", "<id/>"))
	assert.ErrorContains(t, err, "unsupported data file")
}

func TestNextHonoursCancelledContext(t *testing.T) {
	f, err := NewCSVFeeder(writeFile(t, "ids.csv", "id\n1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		template string
		record   Record
		want     string
	}{
		{"single field", "order {{order}} accepted", Record{"order": "123"}, "order 123 accepted"},
		{"several fields", "{{region}}/{{account}}/{{id}}", Record{"region": "eu", "account": "acme", "id": "p456"}, "eu/acme/p456"},
		{"json payload", `{"account":"{{account}}","qty":{{qty}}}`, Record{"account": "acme", "qty": "3"}, `{"account":"acme","qty":3}`},
		{"repeated field", "{{id}}-{{id}}", Record{"id": "7"}, "7-7"},
		{"unknown field kept", "account {{missing}}", Record{"account": "acme"}, "account {{missing}}"},
		{"no placeholders", "static payload", Record{"account": "acme"}, "static payload"},
		{"nil record", "{{account}}", nil, "{{account}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.template, tt.record))
		})
	}
}
