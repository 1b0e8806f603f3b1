package listing

import "strconv"

// stripThreshold 以下の総ページ数では全ページ番号を表示する。
const stripThreshold = 7

// Marker はページ番号ストリップの1要素。Ellipsisの場合Pageは0。
type Marker struct {
	Page     int
	Ellipsis bool
	Current  bool
}

// String はページ番号または"…"を返す。
func (m Marker) String() string {
	if m.Ellipsis {
		return "…"
	}
	return strconv.Itoa(m.Page)
}

// PageStrip はページ番号ストリップを返す。総ページ数が1以下の場合はnil。
//
// 総ページ数が7以下なら全ページを表示する。それ以外は先頭と末尾、
// 現在ページとその前後1ページを表示し、表示する番号の間が2以上空く箇所に省略記号を入れる。
func PageStrip(current, total int) []Marker {
	if total <= 1 {
		return nil
	}
	if current < 1 {
		current = 1
	}
	if current > total {
		current = total
	}

	var pages []int
	if total <= stripThreshold {
		for i := 1; i <= total; i++ {
			pages = append(pages, i)
		}
	} else {
		pages = append(pages, 1)
		for i := max(2, current-1); i <= min(total-1, current+1); i++ {
			pages = append(pages, i)
		}
		pages = append(pages, total)
	}

	markers := make([]Marker, 0, len(pages)+2)
	for i, p := range pages {
		if i > 0 && p-pages[i-1] > 1 {
			markers = append(markers, Marker{Ellipsis: true})
		}
		markers = append(markers, Marker{Page: p, Current: p == current})
	}
	return markers
}

// Pager はページ移動の操作を表す。
// 移動できるのは前後1ページと、ストリップに表示されたページ番号のみ。
type Pager struct {
	Current int
	Total   int
}

// PagerOf はPageからPagerを生成する。
func PagerOf[T any](p Page[T]) Pager {
	return Pager{Current: p.Page, Total: p.TotalPages}
}

// Prev は前のページ番号を返す。先頭ページの場合はfalse。
func (p Pager) Prev() (int, bool) {
	if p.Current <= 1 {
		return 0, false
	}
	return p.Current - 1, true
}

// Next は次のページ番号を返す。最終ページの場合はfalse。
func (p Pager) Next() (int, bool) {
	if p.Current >= p.Total {
		return 0, false
	}
	return p.Current + 1, true
}

// Strip はページ番号ストリップを返す。
func (p Pager) Strip() []Marker {
	return PageStrip(p.Current, p.Total)
}

// CanJump はpageがストリップに表示されていて移動可能かを返す。
func (p Pager) CanJump(page int) bool {
	for _, m := range p.Strip() {
		if !m.Ellipsis && m.Page == page {
			return true
		}
	}
	return false
}
