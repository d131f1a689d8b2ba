package gudasum

import (
	"fmt"
	"sort"
	"strings"
)

// Equation is a parsed contraction specification of the form
// "ab,bc->ac". Each input and output is a string of single-letter labels,
// one per tensor axis. Several comma-separated outputs may follow the
// arrow; an empty output denotes a scalar.
type Equation struct {
	Inputs  []string
	Outputs []string
	source  string
}

// ParseEquation parses and validates a contraction equation.
func ParseEquation(s string) (Equation, error) {
	const op = "ParseEquation"

	lhs, rhs, ok := strings.Cut(s, "->")
	if !ok {
		return Equation{}, NewEquationError(op, s, "missing \"->\"")
	}
	if strings.Contains(rhs, "->") {
		return Equation{}, NewEquationError(op, s, "more than one \"->\"")
	}
	lhs = strings.ReplaceAll(lhs, " ", "")
	rhs = strings.ReplaceAll(rhs, " ", "")
	if lhs == "" {
		return Equation{}, NewEquationError(op, s, "no inputs")
	}

	eq := Equation{
		Inputs:  strings.Split(lhs, ","),
		Outputs: strings.Split(rhs, ","),
		source:  s,
	}

	seen := make(map[byte]bool)
	for _, in := range eq.Inputs {
		if err := checkLabels(in); err != nil {
			return Equation{}, NewEquationError(op, s, fmt.Sprintf("input %q: %v", in, err))
		}
		for i := 0; i < len(in); i++ {
			seen[in[i]] = true
		}
	}
	for _, out := range eq.Outputs {
		if err := checkLabels(out); err != nil {
			return Equation{}, NewEquationError(op, s, fmt.Sprintf("output %q: %v", out, err))
		}
		for i := 0; i < len(out); i++ {
			if !seen[out[i]] {
				return Equation{}, NewEquationError(op, s,
					fmt.Sprintf("output label %q does not appear in any input", out[i]))
			}
		}
	}
	return eq, nil
}

func checkLabels(labels string) error {
	for i := 0; i < len(labels); i++ {
		c := labels[i]
		if !isLabel(c) {
			return fmt.Errorf("invalid label %q", c)
		}
		if strings.IndexByte(labels[:i], c) >= 0 {
			return fmt.Errorf("repeated label %q", c)
		}
	}
	return nil
}

func isLabel(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// String returns the equation as it was given to ParseEquation.
func (e Equation) String() string {
	if e.source != "" {
		return e.source
	}
	return strings.Join(e.Inputs, ",") + "->" + strings.Join(e.Outputs, ",")
}

// BatchDims is a set of plate labels. The zero value is the empty set.
type BatchDims struct {
	labels string // sorted, unique
}

// ParseBatchDims parses a string of plate labels such as "ij".
// Duplicates are ignored.
func ParseBatchDims(s string) (BatchDims, error) {
	var set []byte
	for i := 0; i < len(s); i++ {
		if !isLabel(s[i]) {
			return BatchDims{}, NewInvalidArgError("ParseBatchDims", fmt.Sprintf("invalid batch label %q in %q", s[i], s))
		}
		set = append(set, s[i])
	}
	return BatchDims{labels: sortedSet(string(set))}, nil
}

// Contains reports whether label is a plate label
func (b BatchDims) Contains(label byte) bool {
	return strings.IndexByte(b.labels, label) >= 0
}

// Plates returns the plate labels that occur in labels, sorted.
func (b BatchDims) Plates(labels string) string {
	var out []byte
	for i := 0; i < len(labels); i++ {
		if b.Contains(labels[i]) {
			out = append(out, labels[i])
		}
	}
	return sortedSet(string(out))
}

// Len returns the number of plate labels
func (b BatchDims) Len() int { return len(b.labels) }

// String returns the canonical sorted form, used as a cache key.
func (b BatchDims) String() string { return b.labels }

// Plate sets are kept as sorted strings of unique labels so they can be
// compared and used as map keys directly.

func sortedSet(s string) string {
	b := []byte(s)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	out := b[:0]
	for i, c := range b {
		if i == 0 || c != b[i-1] {
			out = append(out, c)
		}
	}
	return string(out)
}

func isSubset(a, b string) bool {
	for i := 0; i < len(a); i++ {
		if strings.IndexByte(b, a[i]) < 0 {
			return false
		}
	}
	return true
}

func intersect(a, b string) string {
	var out []byte
	for i := 0; i < len(a); i++ {
		if strings.IndexByte(b, a[i]) >= 0 {
			out = append(out, a[i])
		}
	}
	return string(out)
}

func union(a, b string) string {
	return sortedSet(a + b)
}

// minus returns the labels of a not in b, preserving a's order.
func minus(a, b string) string {
	var out []byte
	for i := 0; i < len(a); i++ {
		if strings.IndexByte(b, a[i]) < 0 {
			out = append(out, a[i])
		}
	}
	return string(out)
}
