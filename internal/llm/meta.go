package llm

import "context"

// CallMeta ties a call to the book, job and page it serves.
type CallMeta struct {
	BookID  string
	JobID   string
	PageNum int
}

type metaKey struct{}

// WithMeta attaches call metadata to ctx.
func WithMeta(ctx context.Context, m CallMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// WithPage returns ctx with the page number replaced.
func WithPage(ctx context.Context, page int) context.Context {
	m := MetaFrom(ctx)
	m.PageNum = page
	return WithMeta(ctx, m)
}

// MetaFrom returns the call metadata stored in ctx, if any.
func MetaFrom(ctx context.Context) CallMeta {
	m, _ := ctx.Value(metaKey{}).(CallMeta)
	return m
}
