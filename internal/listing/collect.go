package listing

import (
	"context"
	"fmt"
)

// Collect は1ページ目から順に取得し、全ページの項目をつなげて返す。
// maxPagesを超えて続きがある場合はtruncated=trueを返す。maxPagesが0以下の場合は無制限。
func Collect[T any](ctx context.Context, fetch Fetcher[T], filters Filters, maxPages int) (items []T, truncated bool, err error) {
	for page := 1; ; page++ {
		if maxPages > 0 && page > maxPages {
			return items, true, nil
		}
		p, err := fetch(ctx, filters, page)
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		items = append(items, p.Items...)
		if !p.HasNext {
			return items, false, nil
		}
	}
}
