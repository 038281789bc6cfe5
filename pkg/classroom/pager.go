package classroom

import "context"

type pageFetcher[T any] func(ctx context.Context, pageToken string) (items []T, malformed int, next string, err error)

// Pager walks a paginated provider listing one page per NextPage call.
// Pages are fetched lazily; nothing is requested until NextPage runs.
type Pager[T any] struct {
	fetch     pageFetcher[T]
	token     string
	done      bool
	malformed int
}

func newPager[T any](fetch pageFetcher[T]) *Pager[T] {
	return &Pager[T]{fetch: fetch}
}

// More reports whether another page may be fetched.
func (p *Pager[T]) More() bool {
	return !p.done
}

// NextPage fetches the next page. Items that failed validation are left out
// and counted in Malformed.
func (p *Pager[T]) NextPage(ctx context.Context) ([]T, error) {
	if p.done {
		return nil, nil
	}
	items, malformed, next, err := p.fetch(ctx, p.token)
	if err != nil {
		return nil, err
	}
	p.malformed += malformed
	p.token = next
	if next == "" {
		p.done = true
	}
	return items, nil
}

// All drains the remaining pages.
func (p *Pager[T]) All(ctx context.Context) ([]T, error) {
	var all []T
	for p.More() {
		items, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// Malformed returns how many items were dropped so far.
func (p *Pager[T]) Malformed() int {
	return p.malformed
}
