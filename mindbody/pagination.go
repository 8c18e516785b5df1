package mindbody

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PaginationEnvelope is the pagination metadata Mindbody returns alongside
// results. Fields are not consistently populated across endpoints, so every
// consumer has to treat them defensively.
type PaginationEnvelope struct {
	RequestedLimit  int `json:"RequestedLimit"`
	RequestedOffset int `json:"RequestedOffset"`
	PageSize        int `json:"PageSize"`
	TotalResults    int `json:"TotalResults"`
}

// Page is one decoded page of results plus its pagination envelope, when the
// endpoint returned one.
type Page struct {
	Results    []map[string]interface{}
	Pagination *PaginationEnvelope
}

// Advance computes the cursor after this page and whether iteration is done.
// Termination policy, in order:
//  1. no envelope: single-page endpoint, done after this page;
//  2. offset already at or past TotalResults: done (malformed pagination
//     must not loop forever);
//  3. cursor reaches TotalResults, or the page was empty: done;
//  4. otherwise advance by the actual number of results returned; the
//     provider's PageSize hint is unreliable and advancing by it can skip
//     or repeat records.
func (p *Page) Advance(offset int) (next int, done bool) {
	if p.Pagination == nil {
		return offset + len(p.Results), true
	}

	total := p.Pagination.TotalResults
	if offset >= total {
		return offset, true
	}

	next = offset + len(p.Results)
	if next >= total || len(p.Results) == 0 {
		return next, true
	}
	return next, false
}

// decodePage decodes a Mindbody response body into a Page. The results key
// is matched case-insensitively because the API is not consistent about
// casing between endpoints.
func decodePage(body []byte, resultKey string) (*Page, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", resultKey, err)
	}

	page := &Page{}

	for key, value := range raw {
		switch {
		case strings.EqualFold(key, "PaginationResponse"):
			var envelope PaginationEnvelope
			if err := json.Unmarshal(value, &envelope); err == nil {
				page.Pagination = &envelope
			}
		case strings.EqualFold(key, resultKey):
			if err := json.Unmarshal(value, &page.Results); err != nil {
				return nil, fmt.Errorf("decode %s results: %w", resultKey, err)
			}
		}
	}

	return page, nil
}

// fetchAll walks every page of an endpoint using the Advance termination
// policy and returns the accumulated results.
func (c *Client) fetchAll(ctx context.Context, endpoint string, params url.Values, resultKey string) ([]map[string]interface{}, error) {
	const pageLimit = 200

	offset := 0
	var all []map[string]interface{}

	for {
		pageParams := url.Values{}
		for k, v := range params {
			pageParams[k] = v
		}
		pageParams.Set("limit", strconv.Itoa(pageLimit))
		pageParams.Set("offset", strconv.Itoa(offset))

		body, err := c.get(ctx, endpoint, pageParams)
		if err != nil {
			return nil, err
		}
		page, err := decodePage(body, resultKey)
		if err != nil {
			return nil, err
		}

		next, done := page.Advance(offset)
		if page.Pagination == nil || offset < page.Pagination.TotalResults {
			all = append(all, page.Results...)
		}
		if done {
			return all, nil
		}
		offset = next
	}
}
