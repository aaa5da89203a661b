package envfile

import (
	"fmt"
	"strings"
)

// ParseError carries line/column context for a malformed .env file.
type ParseError struct {
	Line, Column int
	Message      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Map is a plain string-keyed env var map; its iteration order is not
// defined. Callers in this package merge each Parse result into the
// accumulated map in one pass, so order within one file doesn't affect
// determinism (a later line's value for a key replaces an earlier one); cross-file
// ordering is handled by the caller (Load) applying files outer-to-inner.
type Map map[string]string

// Parse parses the contents of a single .env-style file: "KEY=VALUE" lines,
// '#' comments, blank lines ignored. Values may be unquoted, single-quoted
// (literal, no expansion), or double-quoted (expansion + escape sequences
// apply). Expansion resolves "${NAME}" against extra (the accumulated map
// from files already loaded step 3) plus keys defined
// earlier in this same file. Undefined variables expand to "".
//
// Grounded on a Rust env-file crate's parse/lexer/expand design, adapted
// to a single-pass line-oriented scanner instead of a token lexer, since Go's
// idiom favors bufio.Scanner over a hand-rolled lexer for this shape of
// format (matching turborepo's internal/env wildcard parsing style, which
// also favors small single-purpose scan functions over a generic lexer).
func Parse(text string, extra Map) (Map, error) {
	out := Map{}
	combined := Map{}
	for k, v := range extra {
		combined[k] = v
	}

	lines := strings.Split(text, "\n")
	for i, rawLine := range lines {
		lineNo := i + 1
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, &ParseError{Line: lineNo, Column: 1, Message: "expected '='"}
		}
		keyPart := strings.TrimSpace(line[:eq])
		key := strings.TrimPrefix(keyPart, "export ")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, &ParseError{Line: lineNo, Column: 1, Message: "expected identifier"}
		}
		if !isValidKey(key) {
			return nil, &ParseError{Line: lineNo, Column: 1, Message: fmt.Sprintf("invalid identifier %q", key)}
		}

		valuePart := strings.TrimSpace(line[eq+1:])
		value, expandable, err := extractValue(valuePart)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Column: eq + 2, Message: err.Error()}
		}

		final := value
		if expandable {
			final = Expand(unescape(value), combined)
		}

		out[key] = final
		combined[key] = final
	}
	return out, nil
}

func isValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && !isAlpha {
			return false
		}
		if !isAlpha && !isDigit {
			return false
		}
	}
	return true
}

// extractValue strips one layer of quoting (if present) and reports whether
// the value should go through variable expansion: unquoted and
// double-quoted values expand, single-quoted values are literal.
func extractValue(raw string) (value string, expandable bool, err error) {
	if raw == "" {
		return "", true, nil
	}
	// Strip a trailing inline comment from unquoted values.
	if raw[0] != '"' && raw[0] != '\'' {
		if idx := strings.IndexByte(raw, '#'); idx >= 0 {
			raw = strings.TrimSpace(raw[:idx])
		}
		return raw, true, nil
	}
	quote := raw[0]
	if len(raw) < 2 || raw[len(raw)-1] != quote {
		return "", false, fmt.Errorf("unterminated quoted string")
	}
	inner := raw[1 : len(raw)-1]
	return inner, quote == '"', nil
}

func unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			next := s[i+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"', '\'', '\\', '$':
				b.WriteByte(next)
			default:
				b.WriteByte(s[i])
				b.WriteByte(next)
				i++
				continue
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Expand performs deterministic single-pass "${NAME}" substitution against
// vars. Undefined variables expand to the empty string.
func Expand(s string, vars Map) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				name := s[i+2 : i+2+end]
				b.WriteString(vars[name])
				i += 2 + end
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
