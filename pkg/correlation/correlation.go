// Package correlation carries the id that ties an API request to the audit
// rows, outbox events and error bodies it produced.
package correlation

import "context"

type key struct{}

// With tags ctx with id. An empty id leaves ctx unchanged.
func With(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// From returns the id set by With, or "".
func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}
