package config

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches template tokens such as __SEED__ or __FF_PORT__.
var placeholderRe = regexp.MustCompile(`__([A-Za-z0-9]+(?:_[A-Za-z0-9]+)*)__`)

// Placeholder is one unresolved template token.
type Placeholder struct {
	Name string
	Line int
}

// SubstitutionError lists the placeholders that had no value.
type SubstitutionError struct {
	Missing []Placeholder
}

func (e *SubstitutionError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		parts[i] = fmt.Sprintf("__%s__ (line %d)", p.Name, p.Line)
	}
	return "config: unresolved placeholders: " + strings.Join(parts, ", ")
}

// Names returns the distinct missing placeholder names, sorted.
func (e *SubstitutionError) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range e.Missing {
		if !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Substitute replaces every __NAME__ token in doc with vars[NAME]. Tokens
// without a value are reported in a SubstitutionError unless keep is set,
// in which case they are left verbatim.
func Substitute(doc []byte, vars Vars, keep bool) ([]byte, error) {
	var (
		out     bytes.Buffer
		missing []Placeholder
		last    int
	)
	for _, loc := range placeholderRe.FindAllSubmatchIndex(doc, -1) {
		name := string(doc[loc[2]:loc[3]])
		out.Write(doc[last:loc[0]])
		last = loc[1]
		if v, ok := vars[name]; ok {
			out.WriteString(v)
			continue
		}
		out.Write(doc[loc[0]:loc[1]])
		if !keep {
			missing = append(missing, Placeholder{Name: name, Line: 1 + bytes.Count(doc[:loc[0]], []byte("\n"))})
		}
	}
	out.Write(doc[last:])

	if len(missing) > 0 {
		return nil, &SubstitutionError{Missing: missing}
	}
	return out.Bytes(), nil
}

func isPlaceholder(s string) bool {
	loc := placeholderRe.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// Placeholders lists the distinct placeholder names used in doc, sorted.
func Placeholders(doc []byte) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRe.FindAllSubmatch(doc, -1) {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
