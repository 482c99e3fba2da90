// Node lists as the scheduler prints them.
//
//   list     ::= pattern ("," pattern)*
//   pattern  ::= (literal | range)+
//   range    ::= "[" elt ("," elt)* "]"
//   elt      ::= number | number "-" number
//
// A range expands to each of its numbers; when the first number of an element has leading zeroes
// the expansion is zero-padded to that width, so "c[08-10]" is c08, c09, c10.  A pattern with
// several ranges expands to the cross product, leftmost range varying slowest.  The order of the
// expansion follows the order in the pattern and duplicates are not removed.

package nodelist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Split a list into its patterns.  Commas inside brackets do not split.

func Split(s string) ([]string, error) {
	result := make([]string, 0)
	if s == "" {
		return result, nil
	}
	depth := 0
	start := 0
	for ix, c := range s {
		switch c {
		case '[':
			if depth > 0 {
				return nil, fmt.Errorf("Nested '[' in %s", s)
			}
			depth++
		case ']':
			if depth == 0 {
				return nil, fmt.Errorf("Unmatched ']' in %s", s)
			}
			depth--
		case ',':
			if depth == 0 {
				if ix == start {
					return nil, fmt.Errorf("Empty pattern in %s", s)
				}
				result = append(result, s[start:ix])
				start = ix + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("Unmatched '[' in %s", s)
	}
	if start == len(s) {
		return nil, fmt.Errorf("Empty pattern in %s", s)
	}
	return append(result, s[start:]), nil
}

// Expand a single pattern.

func Expand(pattern string) ([]string, error) {
	results := []string{""}
	rest := pattern
	for rest != "" {
		lb := strings.IndexByte(rest, '[')
		if lb == -1 {
			results = appendAll(results, []string{rest})
			break
		}
		if lb > 0 {
			results = appendAll(results, []string{rest[:lb]})
		}
		rb := strings.IndexByte(rest[lb:], ']')
		if rb == -1 {
			return nil, fmt.Errorf("Unmatched '[' in %s", pattern)
		}
		numbers, err := expandRange(rest[lb+1 : lb+rb])
		if err != nil {
			return nil, fmt.Errorf("In %s: %w", pattern, err)
		}
		results = appendAll(results, numbers)
		rest = rest[lb+rb+1:]
	}
	return results, nil
}

// Split and expand a list.

func ExpandList(s string) ([]string, error) {
	patterns, err := Split(s)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		names, err := Expand(p)
		if err != nil {
			return nil, err
		}
		result = append(result, names...)
	}
	return result, nil
}

// The short name of a host is the part before the first dot.

func Short(host string) string {
	if ix := strings.IndexByte(host, '.'); ix != -1 {
		return host[:ix]
	}
	return host
}

func appendAll(prefixes, suffixes []string) []string {
	result := make([]string, 0, len(prefixes)*len(suffixes))
	for _, p := range prefixes {
		for _, s := range suffixes {
			result = append(result, p+s)
		}
	}
	return result
}

var errEmptyRange = errors.New("Empty range element")

func expandRange(r string) ([]string, error) {
	result := make([]string, 0)
	for _, elt := range strings.Split(r, ",") {
		if elt == "" {
			return nil, errEmptyRange
		}
		lo, hi, found := strings.Cut(elt, "-")
		if !found {
			hi = lo
		}
		a, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("Bad number %s", lo)
		}
		b, err := strconv.ParseUint(hi, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("Bad number %s", hi)
		}
		if a > b {
			return nil, fmt.Errorf("Inverted range %s", elt)
		}
		width := 0
		if len(lo) > 1 && lo[0] == '0' {
			width = len(lo)
		}
		for n := a; n <= b; n++ {
			result = append(result, fmt.Sprintf("%0*d", width, n))
		}
	}
	return result, nil
}
