package listing

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// ErrSuperseded は後から開始された取得によって結果が破棄された場合に返される。
var ErrSuperseded = errors.New("listing: fetch superseded by a newer request")

// ViewState は一覧画面の表示状態。
type ViewState int

const (
	ViewLoading ViewState = iota
	ViewError
	ViewEmpty
	ViewLoaded
)

// String は状態名を返す。
func (s ViewState) String() string {
	switch s {
	case ViewLoading:
		return "loading"
	case ViewError:
		return "error"
	case ViewEmpty:
		return "empty"
	case ViewLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Resolve は表示状態を決める。
// 読み込み中を最優先し、次にエラー、読み込み完了後に0件なら空表示とする。
func Resolve(loading bool, err error, itemCount int) ViewState {
	switch {
	case loading:
		return ViewLoading
	case err != nil:
		return ViewError
	case itemCount == 0:
		return ViewEmpty
	default:
		return ViewLoaded
	}
}

// Fetcher は1ページ分を取得する。
type Fetcher[T any] func(ctx context.Context, filters Filters, page int) (Page[T], error)

// View は一覧画面のある時点の状態。
type View[T any] struct {
	State   ViewState
	Page    Page[T]
	Err     error
	Filters Filters
}

// Screen は1つの一覧画面の取得状態を管理する。
// 新しい取得を開始すると実行中の取得をキャンセルし、
// 最新でない取得の結果はErrSupersededとして破棄する。
type Screen[T any] struct {
	fetch Fetcher[T]

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	loading bool
	page    Page[T]
	err     error
	filters Filters
	started bool
}

// NewScreen はScreenを生成する。
func NewScreen[T any](fetch Fetcher[T]) *Screen[T] {
	return &Screen[T]{fetch: fetch, filters: Filters{}}
}

// Load はfiltersとpageで一覧を取得し、画面の状態を置き換える。
func (s *Screen[T]) Load(ctx context.Context, filters Filters, page int) (Page[T], error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loading = true
	s.started = true
	s.filters = maps.Clone(filters)
	if s.filters == nil {
		s.filters = Filters{}
	}
	s.mu.Unlock()

	p, err := s.fetch(ctx, filters, page)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return Page[T]{}, ErrSuperseded
	}
	cancel()
	s.cancel = nil
	s.loading = false
	s.err = err
	if err != nil {
		s.page = Page[T]{}
		return Page[T]{}, err
	}
	s.page = p
	return p, nil
}

// SetFilters は絞り込み条件を変更して1ページ目を取得する。
func (s *Screen[T]) SetFilters(ctx context.Context, filters Filters) (Page[T], error) {
	return s.Load(ctx, filters, 1)
}

// GoTo は現在の絞り込み条件のままpageページ目を取得する。
func (s *Screen[T]) GoTo(ctx context.Context, page int) (Page[T], error) {
	return s.Load(ctx, s.currentFilters(), page)
}

// Reload は現在の条件とページで再取得する。
func (s *Screen[T]) Reload(ctx context.Context) (Page[T], error) {
	s.mu.Lock()
	page := s.page.Page
	s.mu.Unlock()
	return s.Load(ctx, s.currentFilters(), max(page, 1))
}

func (s *Screen[T]) currentFilters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.filters)
}

// View は現在の表示状態を返す。一度も取得していない場合は読み込み中とみなす。
func (s *Screen[T]) View() View[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	loading := s.loading || !s.started
	return View[T]{
		State:   Resolve(loading, s.err, len(s.page.Items)),
		Page:    s.page,
		Err:     s.err,
		Filters: maps.Clone(s.filters),
	}
}
