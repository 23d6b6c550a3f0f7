package interpolate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eugenenazirov/expconf/internal/tree"
)

// piece is either a literal run of text or a single "${...}" expression.
type piece struct {
	literal string
	expr    *expression
}

type expression struct {
	raw      string
	resolver string   // empty for plain key references
	args     []string // resolver arguments
	path     string   // key reference, possibly relative (leading dots)
}

var resolverName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*:`)

// parse splits s into literal and expression pieces. A nil result means s
// contains no interpolation at all.
func parse(s string) ([]piece, error) {
	if !strings.Contains(s, "${") {
		return nil, nil
	}

	var pieces []piece
	var lit strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], `\${`) {
			lit.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(s[i:], "${") {
			lit.WriteByte(s[i])
			i++
			continue
		}
		end := closingBrace(s[i+2:])
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated %q", ErrSyntax, s)
		}
		body := s[i+2 : i+2+end]
		if strings.Contains(body, "${") {
			return nil, fmt.Errorf("%w: nested interpolation in %q", ErrSyntax, s)
		}
		expr, err := parseExpression(body)
		if err != nil {
			return nil, err
		}
		if lit.Len() > 0 {
			pieces = append(pieces, piece{literal: lit.String()})
			lit.Reset()
		}
		pieces = append(pieces, piece{expr: expr})
		i += end + 3
	}
	if lit.Len() > 0 {
		pieces = append(pieces, piece{literal: lit.String()})
	}

	hasExpr := false
	for _, p := range pieces {
		if p.expr != nil {
			hasExpr = true
			break
		}
	}
	if !hasExpr {
		// Only escaped sequences; keep the unescaped literal.
		return []piece{{literal: pieces[0].literal}}, nil
	}
	return pieces, nil
}

func parseExpression(body string) (*expression, error) {
	raw := strings.TrimSpace(body)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	if loc := resolverName.FindStringIndex(raw); loc != nil {
		name := raw[:loc[1]-1]
		args, err := splitArgs(raw[loc[1]:])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, raw, err)
		}
		return &expression{raw: raw, resolver: name, args: args}, nil
	}

	rel := strings.TrimLeft(raw, ".")
	if rel == "" {
		return nil, fmt.Errorf("%w: %q has no key", ErrSyntax, raw)
	}
	if _, err := tree.Split(rel); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, raw, err)
	}
	return &expression{raw: raw, path: raw}, nil
}

// closingBrace returns the index of the "}" ending an expression body,
// skipping quoted resolver arguments, or -1.
func closingBrace(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '}':
			return i
		}
	}
	return -1
}

// splitArgs splits resolver arguments on commas; single or double quotes
// protect commas and are stripped.
func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			cur.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
		case c == ',':
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unclosed %c quote", quote)
	}
	return append(args, strings.TrimSpace(cur.String())), nil
}

// absolute turns a possibly relative reference into an absolute key path.
// One leading dot addresses a sibling of the key holding the expression, each
// further dot climbs one level.
func absolute(ref, from string) (string, error) {
	dots := len(ref) - len(strings.TrimLeft(ref, "."))
	if dots == 0 {
		return ref, nil
	}
	segments, err := tree.Split(from)
	if err != nil {
		return "", err
	}
	if dots > len(segments) {
		return "", fmt.Errorf("%w: %q climbs above the root from %q", ErrSyntax, ref, from)
	}
	base := tree.JoinAll(segments[:len(segments)-dots])
	return tree.Join(base, ref[dots:]), nil
}
