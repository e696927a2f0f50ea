package agent

import "strings"

// normalizePyLiteral rewrites a Python-style dict literal into JSON: single
// quoted strings become double quoted, and the bare constants True/False/None
// become their JSON spellings. Returns ok=false when the input does not look
// like a dict at all.
func normalizePyLiteral(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(s))

	inSingle := false
	inDouble := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inSingle:
			switch c {
			case '\\':
				if i+1 < len(s) {
					next := s[i+1]
					if next == '\'' {
						// \' has no meaning in JSON strings
						b.WriteByte('\'')
					} else {
						b.WriteByte('\\')
						b.WriteByte(next)
					}
					i++
				} else {
					b.WriteByte('\\')
				}
			case '\'':
				inSingle = false
				b.WriteByte('"')
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		case inDouble:
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			}
			if c == '"' {
				inDouble = false
			}
			b.WriteByte(c)
		case c == '\'':
			inSingle = true
			b.WriteByte('"')
		case c == '"':
			inDouble = true
			b.WriteByte(c)
		default:
			if replaced, width := replacePyConstant(s[i:]); width > 0 {
				b.WriteString(replaced)
				i += width - 1
				continue
			}
			b.WriteByte(c)
		}
	}

	if inSingle || inDouble {
		return "", false
	}
	return b.String(), true
}

var pyConstants = []struct {
	literal string
	json    string
}{
	{"True", "true"},
	{"False", "false"},
	{"None", "null"},
}

func replacePyConstant(s string) (string, int) {
	for _, pc := range pyConstants {
		if strings.HasPrefix(s, pc.literal) && !followedByWordChar(s, len(pc.literal)) {
			return pc.json, len(pc.literal)
		}
	}
	return "", 0
}

func followedByWordChar(s string, at int) bool {
	if at >= len(s) {
		return false
	}
	c := s[at]
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
