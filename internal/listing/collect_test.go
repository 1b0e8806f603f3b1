package listing

import (
	"context"
	"errors"
	"testing"
)

func pagedFetcher(total int, calls *[]int) Fetcher[int] {
	return func(_ context.Context, _ Filters, page int) (Page[int], error) {
		*calls = append(*calls, page)
		return NewPage([]int{page * 10, page*10 + 1}, page, total), nil
	}
}

func TestCollect_FetchesAllPagesInOrder(t *testing.T) {
	var calls []int
	items, truncated, err := Collect(context.Background(), pagedFetcher(3, &calls), nil, 0)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}
	if truncated {
		t.Error("truncated = true, want false")
	}
	want := []int{10, 11, 20, 21, 30, 31}
	if len(items) != len(want) {
		t.Fatalf("items = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("items[%d] = %d, want %d", i, items[i], want[i])
		}
	}
	if len(calls) != 3 {
		t.Errorf("calls = %v, want 3 pages", calls)
	}
}

func TestCollect_StopsAtMaxPages(t *testing.T) {
	var calls []int
	items, truncated, err := Collect(context.Background(), pagedFetcher(10, &calls), nil, 2)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}
	if !truncated {
		t.Error("truncated = false, want true")
	}
	if len(items) != 4 || len(calls) != 2 {
		t.Errorf("items = %v, calls = %v", items, calls)
	}
}

func TestCollect_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(_ context.Context, _ Filters, page int) (Page[int], error) {
		if page == 2 {
			return Page[int]{}, boom
		}
		return NewPage([]int{1}, page, 3), nil
	}
	items, _, err := Collect(context.Background(), fetch, nil, 0)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
	if items != nil {
		t.Errorf("items = %v, want nil on error", items)
	}
}
