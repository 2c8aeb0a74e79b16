package cloud

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
)

// defaultSearchConcurrency bounds concurrent subfolder searches per level.
const defaultSearchConcurrency = 4

// SearchOptions tunes Folder.Search.
type SearchOptions struct {
	// IgnoreCase compares names with Unicode case folding.
	IgnoreCase bool
	// Recursive descends into subfolders. Single level by default.
	Recursive bool
	// Load lists each searched folder from the provider first.
	Load bool
	// Concurrency bounds concurrent subfolder searches per level.
	Concurrency int
}

// Search returns the nodes named name, in tree order: this folder's
// children first, then each subfolder's results in child order.
func (f *Folder[N]) Search(ctx context.Context, name string, opts SearchOptions) ([]Node[N], error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultSearchConcurrency
	}

	if opts.IgnoreCase {
		name = cases.Fold().String(name)
	}

	return f.search(ctx, name, opts)
}

func (f *Folder[N]) search(ctx context.Context, name string, opts SearchOptions) ([]Node[N], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Load {
		if err := f.Load(ctx); err != nil {
			return nil, err
		}
	}

	// A Caser is stateful, so each call gets its own.
	var fold cases.Caser
	if opts.IgnoreCase {
		fold = cases.Fold()
	}

	var (
		found []Node[N]
		subs  []*Folder[N]
	)

	for _, child := range f.Children() {
		childName := child.Name()
		if opts.IgnoreCase {
			childName = fold.String(childName)
		}

		if childName == name {
			found = append(found, child)
		}

		if sub, ok := child.(*Folder[N]); ok && opts.Recursive {
			subs = append(subs, sub)
		}
	}

	if len(subs) == 0 {
		return found, nil
	}

	results := make([][]Node[N], len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, sub := range subs {
		g.Go(func() error {
			r, err := sub.search(gctx, name, opts)
			results[i] = r

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		found = append(found, r...)
	}

	return found, nil
}
