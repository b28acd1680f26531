package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page of a database query, following cursors.
// The next page is fetched in the background while the current one is
// appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	newReq := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}
		return req
	}

	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	var all []notionapi.Page
	var next <-chan result
	for {
		var r result
		if next != nil {
			r = <-next
		} else {
			r.resp, r.err = c.QueryDatabase(ctx, dbID, newReq(""))
		}
		if r.err != nil {
			return nil, eris.Wrap(r.err, "notion: query all page")
		}

		all = append(all, r.resp.Results...)
		if !r.resp.HasMore {
			return all, nil
		}

		ch := make(chan result, 1)
		next = ch
		req := newReq(r.resp.NextCursor)
		go func() {
			resp, err := c.QueryDatabase(ctx, dbID, req)
			ch <- result{resp: resp, err: err}
		}()
	}
}

// QueryByStatus fetches all pages whose status property equals status.
func QueryByStatus(ctx context.Context, c Client, dbID, property, status string) ([]notionapi.Page, error) {
	pages, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: property,
			Status:   &notionapi.StatusFilterCondition{Equals: status},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query %s = %s", property, status)
	}
	return pages, nil
}
