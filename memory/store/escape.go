package store

import "strings"

// escapeLiteral prepares caller-controlled text for interpolation into a
// query string literal. This is the module's sole defense against query
// injection and malformed documents: backslashes and control characters are
// backslash-escaped, and single quotes are doubled per SQL literal rules.
//
// Backslash escaping runs first so later replacements never introduce
// sequences that would be re-escaped.
func escapeLiteral(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
		`"`, `\"`,
	)
	escaped := r.Replace(s)
	return strings.ReplaceAll(escaped, `'`, `''`)
}

// unescapeLiteral reverses the backslash escaping applied by escapeLiteral.
// Quote doubling is consumed by the query parser on write, so stored values
// carry real single quotes and only the backslash sequences need decoding.
func unescapeLiteral(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"':
			b.WriteByte('"')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
