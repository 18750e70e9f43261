package frontier

import (
	"context"
	"fmt"
	"log"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/urls"
)

// DocChecker reports whether a document id is already in the corpus.
type DocChecker interface {
	HasDoc(ctx context.Context, docID string) (bool, error)
}

// Frontier is the ordered set of discovered items that still need to be fetched.
type Frontier struct {
	Entries []domain.FrontierEntry
	// Skipped counts items dropped because they were already stored or repeated in this run.
	Skipped int
}

// Diff computes the frontier: items whose Stable ID is not in the corpus, in discovery order.
// Items sharing a Stable ID within the same run keep only their first occurrence.
func Diff(ctx context.Context, items []domain.DiscoveryItem, store DocChecker) (Frontier, error) {
	seen := make(map[string]bool, len(items))
	var f Frontier

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return f, err
		}

		source := item.CanonicalURL
		if source == "" {
			source = item.URL
		}
		id := urls.StableID(source)

		if seen[id] {
			f.Skipped++
			continue
		}
		seen[id] = true

		exists, err := store.HasDoc(ctx, id)
		if err != nil {
			return f, fmt.Errorf("check document %s: %w", id, err)
		}
		if exists {
			f.Skipped++
			continue
		}

		f.Entries = append(f.Entries, domain.FrontierEntry{URL: item.URL, ID: id, Item: item})
	}

	log.Printf("Frontier: %d discovered, %d new, %d already known", len(items), len(f.Entries), f.Skipped)
	return f, nil
}
