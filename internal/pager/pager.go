// Package pager turns continuation-token APIs into lazy sequences.
package pager

import (
	"context"
	"iter"
)

// PageFunc fetches the page that starts at token. The zero token requests the
// first page; a zero next token means there are no further pages.
type PageFunc[T any, K comparable] func(ctx context.Context, token K) (items []T, next K, err error)

// All yields every item across all pages, fetching lazily. Iteration stops at
// the first error, which is yielded with a zero item. Each call to the
// returned sequence starts again from the first page.
func All[T any, K comparable](ctx context.Context, fetch PageFunc[T, K]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var token, zero K
		for {
			items, next, err := fetch(ctx, token)
			if err != nil {
				var item T
				yield(item, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == zero {
				return
			}
			token = next
		}
	}
}

// Pages yields whole pages instead of single items.
func Pages[T any, K comparable](ctx context.Context, fetch PageFunc[T, K]) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		var token, zero K
		for {
			items, next, err := fetch(ctx, token)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(items) > 0 && !yield(items, nil) {
				return
			}
			if next == zero {
				return
			}
			token = next
		}
	}
}

// Collect drains seq into a slice.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}
