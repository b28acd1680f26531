package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func texts(qs []Query) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Text
	}
	return out
}

func TestFile_Lines(t *testing.T) {
	path := writeFile(t, "queries.txt", "Widget Pro 3000\n\n# comment\n  Gadget   Max \nwidget pro 3000\n")

	qs, err := File{Path: path}.Queries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Widget Pro 3000", "Gadget Max"}, texts(qs))
	assert.Equal(t, "line:1", qs[0].Ref)
	assert.Equal(t, "line:4", qs[1].Ref)
}

func TestFile_CSV(t *testing.T) {
	path := writeFile(t, "queries.csv", "id,Query\n1,Widget Pro\n2,\"Gadget, Max\"\n3\n")

	qs, err := File{Path: path}.Queries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Widget Pro", "Gadget, Max"}, texts(qs))
	assert.Equal(t, "row:2", qs[0].Ref)
}

func TestFile_CSV_NamedColumn(t *testing.T) {
	path := writeFile(t, "queries.csv", "product,notes\nWidget Pro,x\n")

	qs, err := File{Path: path, Column: "missing"}.Queries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Widget Pro"}, texts(qs))
}

func TestFile_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Queue")
	require.NoError(t, err)
	for _, r := range [][]string{{"notes", "query"}, {"a", "Widget Pro"}, {"b", ""}, {"c", "Gadget Max"}} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "queries.xlsx")
	require.NoError(t, f.Save(path))

	qs, err := File{Path: path}.Queries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Widget Pro", "Gadget Max"}, texts(qs))
	assert.Equal(t, "row:4", qs[1].Ref)

	_, err = File{Path: path, Sheet: "Nope"}.Queries(context.Background())
	assert.ErrorContains(t, err, `sheet "Nope" not found`)
}

func TestFile_Missing(t *testing.T) {
	_, err := File{Path: filepath.Join(t.TempDir(), "nope.txt")}.Queries(context.Background())
	assert.ErrorContains(t, err, "source: open")
}

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func titlePage(id, text string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"Query": &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: text}}},
		},
	}
}

func TestNotion_Queries(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == "Status" && pf.Status.Equals == "Queued"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{
			titlePage("p1", "Widget Pro"),
			titlePage("p2", " "),
			{ID: "p3", Properties: notionapi.Properties{
				"Query": &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: "Gadget "}, {PlainText: "Max"}}},
			}},
		},
	}, nil).Once()

	qs, err := Notion{Client: mc, DatabaseID: "db-1"}.Queries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Query{{Text: "Widget Pro", Ref: "p1"}, {Text: "Gadget Max", Ref: "p3"}}, qs)
	mc.AssertExpectations(t)
}

func TestNotion_ReportStatus(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	mc.On("UpdatePage", ctx, "p1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		sp, ok := req.Properties["Status"].(notionapi.StatusProperty)
		if !ok || sp.Status.Name != "Partial" {
			return false
		}
		rt, ok := req.Properties["Run ID"].(notionapi.RichTextProperty)
		return ok && rt.RichText[0].Text.Content == "run-1"
	})).Return(&notionapi.Page{ID: "p1"}, nil).Once()

	n := Notion{Client: mc, DatabaseID: "db-1"}
	require.NoError(t, n.ReportStatus(ctx, Query{Text: "Widget Pro", Ref: "p1"}, "run-1", "partial"))
	require.NoError(t, n.ReportStatus(ctx, Query{Text: "no ref"}, "run-2", "failed"))
	mc.AssertExpectations(t)
}

func TestNotionStatus(t *testing.T) {
	assert.Equal(t, "Complete", notionStatus("complete"))
	assert.Equal(t, "Failed", notionStatus("failed"))
	assert.Equal(t, "Failed", notionStatus(""))
	assert.Equal(t, "Researching", notionStatus("researching"))
}
