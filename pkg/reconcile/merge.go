package reconcile

import (
	"slices"
	"strings"

	"github.com/void-labs/void-supply/pkg/types"
)

// Merge combines freshly classified events with the cached history. Fresh events come
// first so they win signature collisions. The result is sorted by block time, newest
// first, with unknown block times last and equal times ordered by signature, and
// truncated to limit (limit <= 0 keeps all).
func Merge(fresh, cached []types.BurnEvent, limit int) []types.BurnEvent {
	seen := make(map[string]struct{}, len(fresh)+len(cached))
	out := make([]types.BurnEvent, 0, len(fresh)+len(cached))
	for _, list := range [][]types.BurnEvent{fresh, cached} {
		for _, e := range list {
			if e.Signature == "" {
				continue
			}
			if _, dup := seen[e.Signature]; dup {
				continue
			}
			seen[e.Signature] = struct{}{}
			out = append(out, e)
		}
	}
	slices.SortFunc(out, byBlockTimeDesc)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// byBlockTimeDesc is a total order over distinct signatures so the entries kept at
// the cap do not depend on input order.
func byBlockTimeDesc(a, b types.BurnEvent) int {
	switch {
	case a.BlockTime == nil && b.BlockTime == nil:
		return strings.Compare(a.Signature, b.Signature)
	case a.BlockTime == nil:
		return 1
	case b.BlockTime == nil:
		return -1
	case *a.BlockTime > *b.BlockTime:
		return -1
	case *a.BlockTime < *b.BlockTime:
		return 1
	}
	return strings.Compare(a.Signature, b.Signature)
}
