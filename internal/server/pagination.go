package server

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// paginateSlice handles common pagination logic for list endpoints.
// It takes items fetched with limit+1, and returns the page of items, the
// next cursor (if any), and whether more items remain.
func paginateSlice[T any](items []T, limit int, getCursor func(T) string) ([]T, *string, bool) {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor *string
	if hasMore && len(items) > 0 {
		c := getCursor(items[len(items)-1])
		nextCursor = &c
	}

	return items, nextCursor, hasMore
}
