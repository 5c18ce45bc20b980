package chat

import "strings"

// Tokenize splits a command line on whitespace. A token starting with a
// double quote absorbs the following tokens, joined by single spaces, up to
// the token that ends with a double quote. An unterminated quote runs to the
// end of the input and `""` yields an empty argument.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))

	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		if !strings.HasPrefix(tok, `"`) {
			out = append(out, tok)
			continue
		}

		if len(tok) >= 2 && strings.HasSuffix(tok, `"`) {
			out = append(out, tok[1:len(tok)-1])
			continue
		}

		parts := []string{tok[1:]}
		for i+1 < len(fields) {
			i++
			next := fields[i]
			if strings.HasSuffix(next, `"`) {
				parts = append(parts, next[:len(next)-1])
				break
			}
			parts = append(parts, next)
		}
		out = append(out, strings.Join(parts, " "))
	}
	return out
}

// ParseMention turns a chat mention (<@id> or <@!id>) into the bare id.
// Anything else is returned trimmed and unchanged.
func ParseMention(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<@") || !strings.HasSuffix(s, ">") {
		return s
	}
	id := strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
	return strings.TrimPrefix(id, "!")
}

// IsMention reports whether s is written as a chat mention.
func IsMention(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") && len(ParseMention(s)) > 0
}
