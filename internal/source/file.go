package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// File reads queries from a local file. The format follows the extension:
// .csv and .xlsx take the column named Column (default "query", falling
// back to the first column); anything else is one query per line.
type File struct {
	Path   string
	Column string
	Sheet  string // xlsx only; default is the first sheet
}

func (f File) Queries(ctx context.Context) ([]Query, error) {
	var (
		qs  []Query
		err error
	)
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".csv":
		qs, err = f.readCSV(ctx)
	case ".xlsx":
		qs, err = f.readXLSX()
	default:
		qs, err = f.readLines(ctx)
	}
	if err != nil {
		return nil, err
	}
	return normalize(qs), nil
}

func (f File) readLines(ctx context.Context) ([]Query, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", f.Path)
	}
	defer fh.Close() //nolint:errcheck

	var qs []Query
	sc := bufio.NewScanner(fh)
	for n := 1; sc.Scan(); n++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "source: context cancelled")
		}
		qs = append(qs, Query{Text: sc.Text(), Ref: "line:" + strconv.Itoa(n)})
	}
	return qs, eris.Wrapf(sc.Err(), "source: read %s", f.Path)
}

func (f File) readCSV(ctx context.Context) ([]Query, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", f.Path)
	}
	defer fh.Close() //nolint:errcheck

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "source: csv header")
	}
	col := f.columnIndex(header)

	var qs []Query
	for row := 2; ; row++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "source: context cancelled")
		}
		rec, err := r.Read()
		if err == io.EOF {
			return qs, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "source: csv row %d", row)
		}
		if col < len(rec) {
			qs = append(qs, Query{Text: rec[col], Ref: "row:" + strconv.Itoa(row)})
		}
	}
}

func (f File) readXLSX() ([]Query, error) {
	wb, err := xlsx.OpenFile(f.Path)
	if err != nil {
		return nil, eris.Wrap(err, "source: xlsx open file")
	}

	var sheet *xlsx.Sheet
	switch {
	case f.Sheet != "":
		s, ok := wb.Sheet[f.Sheet]
		if !ok {
			return nil, eris.Errorf("source: xlsx sheet %q not found", f.Sheet)
		}
		sheet = s
	case len(wb.Sheets) > 0:
		sheet = wb.Sheets[0]
	default:
		return nil, eris.New("source: xlsx file has no sheets")
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, c := range sheet.Rows[0].Cells {
		header[i] = c.String()
	}
	col := f.columnIndex(header)

	var qs []Query
	for i, row := range sheet.Rows[1:] {
		if col < len(row.Cells) {
			qs = append(qs, Query{Text: row.Cells[col].String(), Ref: "row:" + strconv.Itoa(i+2)})
		}
	}
	return qs, nil
}

func (f File) columnIndex(header []string) int {
	want := f.Column
	if want == "" {
		want = "query"
	}
	if i := slices.IndexFunc(header, func(h string) bool {
		return strings.EqualFold(strings.TrimSpace(h), want)
	}); i >= 0 {
		return i
	}
	return 0
}
