package graph

import (
	"log/slog"
	"net/url"
)

// normalizeListing cleans up a paginated children listing:
//  1. URL-decode names (Graph sometimes returns %20-encoded names)
//  2. drop duplicate IDs, keeping the last occurrence, since an item that
//     changes between pages can be returned twice
func normalizeListing(items []Item, logger *slog.Logger) []Item {
	items = decodeURLEncodedNames(items, logger)
	items = deduplicateItems(items, logger)

	return items
}

// deduplicateItems removes duplicate item IDs, keeping only the last
// occurrence and otherwise preserving order.
func deduplicateItems(items []Item, logger *slog.Logger) []Item {
	if len(items) == 0 {
		return items
	}

	last := make(map[string]int, len(items))
	for i := range items {
		last[items[i].ID] = i
	}

	if len(last) == len(items) {
		return items
	}

	kept := make([]Item, 0, len(last))

	for i := range items {
		if last[items[i].ID] != i {
			logger.Debug("dropping duplicate listing entry",
				slog.String("item_id", items[i].ID),
				slog.String("name", items[i].Name),
			)

			continue
		}

		kept = append(kept, items[i])
	}

	logger.Info("deduplicated listing",
		slog.Int("duplicate_count", len(items)-len(kept)),
		slog.Int("remaining_count", len(kept)),
	)

	return kept
}

// decodeURLEncodedNames applies url.PathUnescape to item names.
func decodeURLEncodedNames(items []Item, logger *slog.Logger) []Item {
	for i := range items {
		unescaped, err := url.PathUnescape(items[i].Name)
		if err != nil {
			// Malformed percent-encoding: keep the name as returned.
			continue
		}

		if unescaped != items[i].Name {
			logger.Debug("URL-decoded item name",
				slog.String("item_id", items[i].ID),
				slog.String("decoded", unescaped),
			)

			items[i].Name = unescaped
		}
	}

	return items
}
