package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

// stubFetcher serves pages from a map and records which were requested.
type stubFetcher struct {
	pages     map[int][]map[string]any
	failPage  int
	requested []int
	sizes     []int
}

func (s *stubFetcher) FetchPage(ctx context.Context, token, endpoint string, pageSize, pageNumber int) ([]map[string]any, error) {
	s.requested = append(s.requested, pageNumber)
	s.sizes = append(s.sizes, pageSize)
	if pageNumber == s.failPage {
		return nil, errors.New("upstream unavailable")
	}
	if data, ok := s.pages[pageNumber]; ok {
		return data, nil
	}
	return []map[string]any{}, nil
}

func rec(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"attributes": map[string]any{"createdAt": "2024-01-01T12:00:00Z"},
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		lastPage  int
		wantStart int
		wantEnd   int
	}{
		{0, 1, 5},
		{5, 6, 10},
		{12, 13, 17},
		{-3, 1, 5},
	}

	for _, tt := range tests {
		start, end := Window(tt.lastPage)
		if start != tt.wantStart || end != tt.wantEnd {
			t.Errorf("Window(%d) = [%d, %d], want [%d, %d]", tt.lastPage, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}

func TestFetchWindow_RequestsEveryPage(t *testing.T) {
	stub := &stubFetcher{pages: map[int][]map[string]any{
		6: {rec("1"), rec("2")},
		8: {rec("3")},
	}}
	fetcher := NewWindowFetcher(stub, zerolog.Nop())

	res := fetcher.FetchWindow(context.Background(), "tok", "/sales", 6, 10, 500)

	if res.Status != StatusOK {
		t.Fatalf("Status = %v, want ok", res.Status)
	}
	want := []int{6, 7, 8, 9, 10}
	if len(stub.requested) != len(want) {
		t.Fatalf("requested %v, want %v", stub.requested, want)
	}
	for i := range want {
		if stub.requested[i] != want[i] {
			t.Errorf("requested[%d] = %d, want %d", i, stub.requested[i], want[i])
		}
		if stub.sizes[i] != 500 {
			t.Errorf("page size = %d, want 500", stub.sizes[i])
		}
	}
	if len(res.Records) != 3 {
		t.Errorf("Records = %d, want 3", len(res.Records))
	}
	if res.EmptyPages != 3 {
		t.Errorf("EmptyPages = %d, want 3", res.EmptyPages)
	}
	if res.PagesFetched != 5 {
		t.Errorf("PagesFetched = %d, want 5", res.PagesFetched)
	}
	if got := res.Records[0]["attributes.createdAt"]; got != "2024-01-01T12:00:00Z" {
		t.Errorf("records should be flattened, got %q", got)
	}
}

func TestFetchWindow_AllEmpty(t *testing.T) {
	stub := &stubFetcher{}
	res := NewWindowFetcher(stub, zerolog.Nop()).FetchWindow(context.Background(), "tok", "/sales", 1, 5, 500)

	if res.Status != StatusNoData {
		t.Errorf("Status = %v, want no_data", res.Status)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}
	if len(stub.requested) != 5 {
		t.Errorf("requested %d pages, want 5", len(stub.requested))
	}
}

func TestFetchWindow_FailureAbandonsWindow(t *testing.T) {
	stub := &stubFetcher{
		pages:    map[int][]map[string]any{1: {rec("1")}},
		failPage: 3,
	}
	res := NewWindowFetcher(stub, zerolog.Nop()).FetchWindow(context.Background(), "tok", "/sales", 1, 5, 500)

	if res.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", res.Status)
	}
	if res.Err == nil {
		t.Fatal("Err should be set")
	}
	if res.Records != nil {
		t.Errorf("Records = %v, want nil on failure", res.Records)
	}
	if len(stub.requested) != 3 {
		t.Errorf("requested %v, want to stop at page 3", stub.requested)
	}
}

func TestFetchWindow_InvalidRange(t *testing.T) {
	stub := &stubFetcher{}
	res := NewWindowFetcher(stub, zerolog.Nop()).FetchWindow(context.Background(), "tok", "/sales", 5, 4, 500)

	if res.Status != StatusFailed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
	if len(stub.requested) != 0 {
		t.Errorf("no requests expected, got %v", stub.requested)
	}
}

func TestFetchWindow_DefaultPageSize(t *testing.T) {
	stub := &stubFetcher{}
	NewWindowFetcher(stub, zerolog.Nop()).FetchWindow(context.Background(), "tok", "/sales", 1, 1, 0)

	if len(stub.sizes) != 1 || stub.sizes[0] != DefaultPageSize {
		t.Errorf("sizes = %v, want [%d]", stub.sizes, DefaultPageSize)
	}
}

func TestStatus_String(t *testing.T) {
	if StatusOK.String() != "ok" || StatusNoData.String() != "no_data" || StatusFailed.String() != "failed" {
		t.Error("unexpected status names")
	}
}
