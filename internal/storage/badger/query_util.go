package badger

import (
	"sort"
	"strings"

	"github.com/ternarybob/lodestar/internal/models"
)

// sortByColumns orders items by a chain of signed column names (leading '-'
// means descending). cmp compares two items on one unsigned column name and
// returns <0, 0 or >0. Unknown columns compare equal, leaving prior keys in
// control.
func sortByColumns[T any](items []*T, orderBy []string, cmp func(a, b *T, col string) int) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, col := range orderBy {
			name := strings.TrimPrefix(col, "-")
			c := cmp(items[i], items[j], name)
			if c == 0 {
				continue
			}
			if strings.HasPrefix(col, "-") {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// paginate slices items to the requested window. A nil paginator or zero
// limit returns everything from the offset on.
func paginate[T any](items []*T, p *models.Paginator) []*T {
	if p == nil {
		return items
	}
	start := p.Offset
	if start > len(items) {
		return nil
	}
	end := len(items)
	if p.Limit > 0 && start+p.Limit < end {
		end = start + p.Limit
	}
	return items[start:end]
}

// subsetMatch reports whether every key/value pair of sub appears in super.
func subsetMatch(super, sub map[string]string) bool {
	for k, v := range sub {
		if got, ok := super[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// containsID reports whether id appears in ids.
func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
