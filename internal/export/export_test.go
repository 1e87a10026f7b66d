package export

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

type fakeObjects struct {
	key, contentType string
	data             []byte
}

func (f *fakeObjects) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	f.key, f.contentType, f.data = key, contentType, data
	return "https://objects.test/" + key, nil
}

type fixture struct {
	ctx     context.Context
	e       *grid.Engine
	board   store.Board
	flat    store.View
	grouped store.View
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	e := grid.New(store.NewMemoryStore())
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	ws, err := e.CreateWorkspace(ctx, "Acme")
	must(err)
	b, err := e.CreateBoard(ctx, grid.BoardInput{WorkspaceID: ws.ID, Name: "Orders"})
	must(err)
	price, err := e.CreateColumn(ctx, grid.ColumnInput{BoardID: b.ID, Title: "Price", Type: coltype.TypeNumbers})
	must(err)
	status, err := e.CreateColumn(ctx, grid.ColumnInput{BoardID: b.ID, Title: "Status", Type: coltype.TypeStatus})
	must(err)
	q1, err := e.CreateGroup(ctx, grid.GroupInput{BoardID: b.ID, Title: "Q1"})
	must(err)
	_, err = e.CreateItem(ctx, grid.ItemInput{BoardID: b.ID, GroupID: &q1.ID, Name: "door", Cells: map[int64]any{price.ID: 100, status.ID: "Done"}})
	must(err)
	_, err = e.CreateItem(ctx, grid.ItemInput{BoardID: b.ID, Name: "window, bay", Cells: map[int64]any{price.ID: 30, status.ID: "Stuck"}})
	must(err)

	flat, err := e.SaveView(ctx, b.ID, "Open orders", view.Spec{Sort: []view.SortKey{{ColumnID: price.ID, Desc: true}}})
	must(err)
	grouped, err := e.SaveView(ctx, b.ID, "By group", view.Spec{GroupBy: &view.GroupBy{}})
	must(err)
	return fixture{ctx: ctx, e: e, board: b, flat: flat, grouped: grouped}
}

func fixedClock() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestExportCSV(t *testing.T) {
	f := setup(t)
	svc := NewService(f.e, WithClock(fixedClock))

	res, err := svc.Export(f.ctx, Request{ViewID: f.flat.ID, Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	want := "Name,Price,Status\ndoor,100,Done\n\"window, bay\",30,Stuck\n"
	if string(res.Data) != want {
		t.Errorf("csv = %q, want %q", res.Data, want)
	}
	if res.Filename != "Open-orders.csv" || !strings.HasPrefix(res.MimeType, "text/csv") {
		t.Errorf("unexpected metadata %q %q", res.Filename, res.MimeType)
	}
	if res.ObjectKey != "" || res.URL != "" {
		t.Error("result should not be stored")
	}

	res, err = svc.Export(f.ctx, Request{ViewID: f.grouped.ID, Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	want = "Group,Name,Price,Status\nQ1,door,100,Done\n,\"window, bay\",30,Stuck\n"
	if string(res.Data) != want {
		t.Errorf("grouped csv = %q, want %q", res.Data, want)
	}
}

func TestExportStore(t *testing.T) {
	f := setup(t)

	if _, err := NewService(f.e).Export(f.ctx, Request{ViewID: f.flat.ID, Store: true}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	objects := &fakeObjects{}
	svc := NewService(f.e, WithObjectStore(objects), WithClock(fixedClock))
	res, err := svc.Export(f.ctx, Request{ViewID: f.flat.ID, Format: FormatCSV, Store: true})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	wantKey := "views/" + strconv.FormatInt(f.flat.ID, 10) + "/20260102T030405Z-Open-orders.csv"
	if res.ObjectKey != wantKey || objects.key != wantKey {
		t.Errorf("object key = %q (stored %q), want %q", res.ObjectKey, objects.key, wantKey)
	}
	if res.URL != "https://objects.test/"+wantKey {
		t.Errorf("unexpected url %q", res.URL)
	}
	if string(objects.data) != string(res.Data) || objects.contentType != res.MimeType {
		t.Error("stored object does not match the result")
	}
}

func TestExportErrors(t *testing.T) {
	f := setup(t)
	svc := NewService(f.e, WithPandoc("/nonexistent/pandoc"))

	if _, err := svc.Export(f.ctx, Request{ViewID: f.flat.ID, Format: "xlsx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := svc.Export(f.ctx, Request{ViewID: f.flat.ID, Format: FormatDOCX}); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Errorf("expected ErrDOCXDependencyMissing, got %v", err)
	}
	if _, err := svc.Export(f.ctx, Request{ViewID: 9999, Format: FormatCSV}); !errors.Is(err, grid.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{"pdf", FormatPDF, false},
		{"docx", FormatDOCX, false},
		{"PDF", "", true},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v", tt.input, got, err)
			}
		})
	}
}

func TestRenderTableHTML(t *testing.T) {
	table := Table{
		Title:       "Open orders",
		BoardName:   "Orders",
		Columns:     []string{"Name", "Price"},
		Count:       1,
		GeneratedAt: fixedClock(),
		Groups: []TableGroup{
			{Title: "Q1", Rows: [][]string{{"<b>door</b>", "100"}}},
			{Title: "Q2"},
		},
	}

	html, err := RenderTableHTML(table)
	if err != nil {
		t.Fatalf("RenderTableHTML() error = %v", err)
	}
	for _, want := range []string{"Open orders", "Orders | 1 item |", "<th>Price</th>", "<h2>Q1</h2>", "<td>100</td>", "No items", "Jan 2, 2026 03:04"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<b>door</b>") || !strings.Contains(html, "&lt;b&gt;door&lt;/b&gt;") {
		t.Error("cell text should be escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Open orders v1.2", "Open-orders-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "view"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
