package enums

import (
	"fmt"
	"slices"
	"strings"
)

// values is the closed set of a string enum.
type values[T ~string] []T

func (vs values[T]) has(v T) bool { return slices.Contains(vs, v) }

// parse accepts raw after trimming surrounding space. what names the enum in
// the error message.
func (vs values[T]) parse(raw, what string) (T, error) {
	v := T(strings.TrimSpace(raw))
	if vs.has(v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", what, raw)
}
