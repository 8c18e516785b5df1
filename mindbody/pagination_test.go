package mindbody

import (
	"testing"
)

func page(count, total int, withEnvelope bool) *Page {
	p := &Page{}
	for i := 0; i < count; i++ {
		p.Results = append(p.Results, map[string]interface{}{"Id": i})
	}
	if withEnvelope {
		p.Pagination = &PaginationEnvelope{TotalResults: total, PageSize: count}
	}
	return p
}

func TestAdvance_NoEnvelope(t *testing.T) {
	next, done := page(3, 0, false).Advance(0)
	if !done {
		t.Error("missing envelope should terminate after one page")
	}
	if next != 3 {
		t.Errorf("next = %d, want 3", next)
	}
}

func TestAdvance_OffsetPastTotal(t *testing.T) {
	// Malformed provider response: offset already beyond TotalResults.
	next, done := page(2, 1, true).Advance(5)
	if !done {
		t.Error("offset past TotalResults must terminate")
	}
	if next != 5 {
		t.Errorf("next = %d, want unchanged offset 5", next)
	}
}

func TestAdvance_ReachesTotal(t *testing.T) {
	next, done := page(2, 4, true).Advance(2)
	if !done {
		t.Error("cursor at TotalResults should terminate")
	}
	if next != 4 {
		t.Errorf("next = %d, want 4", next)
	}
}

func TestAdvance_EmptyPage(t *testing.T) {
	_, done := page(0, 10, true).Advance(4)
	if !done {
		t.Error("empty page should terminate even below TotalResults")
	}
}

func TestAdvance_AdvancesByActualCount(t *testing.T) {
	// PageSize hints are unreliable; cursor moves by the real result count.
	p := page(3, 100, true)
	p.Pagination.PageSize = 50

	next, done := p.Advance(10)
	if done {
		t.Error("mid-iteration page should not terminate")
	}
	if next != 13 {
		t.Errorf("next = %d, want 13 (offset + actual results)", next)
	}
}

func TestAdvance_Monotonic(t *testing.T) {
	offsets := []int{0, 7, 50, 99}
	for _, offset := range offsets {
		next, _ := page(5, 1000, true).Advance(offset)
		if next < offset {
			t.Errorf("Advance(%d) = %d, cursor must never move backwards", offset, next)
		}
	}
}

func TestDecodePage_CaseInsensitiveKeys(t *testing.T) {
	body := []byte(`{"paginationResponse":{"TotalResults":7},"clients":[{"Id":1}]}`)

	p, err := decodePage(body, "Clients")
	if err != nil {
		t.Fatalf("decodePage: %v", err)
	}
	if p.Pagination == nil || p.Pagination.TotalResults != 7 {
		t.Errorf("pagination envelope not decoded: %+v", p.Pagination)
	}
	if len(p.Results) != 1 {
		t.Errorf("got %d results, want 1", len(p.Results))
	}
}

func TestDecodePage_MissingEnvelope(t *testing.T) {
	body := []byte(`{"Visits":[{"Id":1},{"Id":2}]}`)

	p, err := decodePage(body, "Visits")
	if err != nil {
		t.Fatalf("decodePage: %v", err)
	}
	if p.Pagination != nil {
		t.Error("expected nil envelope")
	}
	if len(p.Results) != 2 {
		t.Errorf("got %d results, want 2", len(p.Results))
	}
}
