package source

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/pkg/notion"
)

// Notion property defaults.
const (
	DefaultQueryProperty  = "Query"
	DefaultStatusProperty = "Status"
	DefaultQueuedStatus   = "Queued"
	runIDProperty         = "Run ID"
	lastRunProperty       = "Last Run"
)

// Notion reads queued queries from a Notion database and writes run
// outcomes back onto the originating page.
type Notion struct {
	Client         notion.Client
	DatabaseID     string
	QueryProperty  string
	StatusProperty string
	QueuedStatus   string
}

func (n Notion) Queries(ctx context.Context) ([]Query, error) {
	pages, err := notion.QueryByStatus(ctx, n.Client, n.DatabaseID, n.statusProperty(), or(n.QueuedStatus, DefaultQueuedStatus))
	if err != nil {
		return nil, eris.Wrap(err, "source: notion queries")
	}

	qs := make([]Query, 0, len(pages))
	for _, p := range pages {
		qs = append(qs, Query{Text: pageText(p, or(n.QueryProperty, DefaultQueryProperty)), Ref: string(p.ID)})
	}
	return normalize(qs), nil
}

// ReportStatus sets the page status to the run's terminal status (title
// cased, e.g. "Complete") and records the run ID.
func (n Notion) ReportStatus(ctx context.Context, q Query, runID, status string) error {
	if q.Ref == "" {
		return nil
	}
	now := notionapi.Date(time.Now())
	_, err := n.Client.UpdatePage(ctx, q.Ref, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			n.statusProperty(): notionapi.StatusProperty{
				Status: notionapi.Status{Name: notionStatus(status)},
			},
			runIDProperty: notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: runID}}},
			},
			lastRunProperty: notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &now},
			},
		},
	})
	return eris.Wrapf(err, "source: report status for page %s", q.Ref)
}

func (n Notion) statusProperty() string {
	return or(n.StatusProperty, DefaultStatusProperty)
}

func notionStatus(status string) string {
	switch model.RunStatus(status) {
	case model.RunStatusComplete:
		return "Complete"
	case model.RunStatusPartial:
		return "Partial"
	case model.RunStatusFailed:
		return "Failed"
	}
	if status == "" {
		return "Failed"
	}
	return strings.ToUpper(status[:1]) + status[1:]
}

// pageText concatenates the plain text of a title or rich text property.
func pageText(p notionapi.Page, property string) string {
	var b strings.Builder
	switch prop := p.Properties[property].(type) {
	case *notionapi.TitleProperty:
		for _, rt := range prop.Title {
			b.WriteString(rt.PlainText)
		}
	case *notionapi.RichTextProperty:
		for _, rt := range prop.RichText {
			b.WriteString(rt.PlainText)
		}
	}
	return strings.TrimSpace(b.String())
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
