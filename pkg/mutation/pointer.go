package mutation

import "strings"

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// EscapePointerSegment escapes a single reference token for use in a JSON
// Pointer (RFC 6901 section 3). '~' is escaped before '/' so that an input
// "~1" round-trips as "~01".
func EscapePointerSegment(segment string) string {
	return pointerEscaper.Replace(segment)
}

// UnescapePointerSegment reverses EscapePointerSegment.
func UnescapePointerSegment(segment string) string {
	return strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
}

// JoinPointer appends the escaped segments to base.
func JoinPointer(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(EscapePointerSegment(s))
	}
	return b.String()
}
