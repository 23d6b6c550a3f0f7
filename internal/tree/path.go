package tree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned when a dotted key path cannot be parsed.
var ErrInvalidPath = errors.New("invalid key path")

// Split breaks a dotted key path such as "a.b[0].c" into its segments.
// List indexes are returned in bracket form ("[0]") so callers can tell them
// apart from map keys that happen to be numeric.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	var segments []string
	var cur strings.Builder
	flush := func() error {
		if cur.Len() == 0 {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		segments = append(segments, cur.String())
		cur.Reset()
		return nil
	}

	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.':
			// "a[0].b" has already flushed the index segment.
			if cur.Len() == 0 && i > 0 && path[i-1] == ']' {
				continue
			}
			if err := flush(); err != nil {
				return nil, err
			}
		case '[':
			if cur.Len() > 0 {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated index in %q", ErrInvalidPath, path)
			}
			index := path[i+1 : i+end]
			if _, err := strconv.Atoi(index); err != nil {
				return nil, fmt.Errorf("%w: index %q in %q", ErrInvalidPath, index, path)
			}
			segments = append(segments, "["+index+"]")
			i += end
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	} else if path[len(path)-1] == '.' {
		return nil, fmt.Errorf("%w: trailing dot in %q", ErrInvalidPath, path)
	}
	return segments, nil
}

// Join appends a key or "[i]" index segment to a path.
func Join(path, next string) string {
	sep := "."
	if isIndex(next) {
		sep = ""
	}
	if path == "" {
		return next
	}
	if next == "" {
		return path
	}
	return path + sep + next
}

// JoinAll rebuilds a path from segments produced by Split.
func JoinAll(segments []string) string {
	var path string
	for _, s := range segments {
		path = Join(path, s)
	}
	return path
}

// Index formats a list index segment.
func Index(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// Parent returns the path of the container holding path, and the last segment.
func Parent(path string) (string, string) {
	segments, err := Split(path)
	if err != nil || len(segments) == 0 {
		return "", path
	}
	return JoinAll(segments[:len(segments)-1]), segments[len(segments)-1]
}

func isIndex(segment string) bool {
	if len(segment) < 3 || segment[0] != '[' || segment[len(segment)-1] != ']' {
		return false
	}
	_, err := strconv.Atoi(segment[1 : len(segment)-1])
	return err == nil
}

func indexOf(segment string) (int, bool) {
	if isIndex(segment) {
		i, _ := strconv.Atoi(segment[1 : len(segment)-1])
		return i, true
	}
	// "a.0" is accepted as an alias of "a[0]" when the container is a list.
	i, err := strconv.Atoi(segment)
	return i, err == nil
}
