package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var criterionAliases = map[string]Criterion{
	"title":     CriterionTitle,
	"source":    CriterionSource,
	"site":      CriterionSource,
	"domain":    CriterionSource,
	"size":      CriterionSize,
	"size (px)": CriterionSize,
	"pixels":    CriterionSize,
	"date":      CriterionDate,
	"age":       CriterionAge,
}

var operatorAliases = map[Criterion]map[string]Operator{
	CriterionTitle:  textOperators,
	CriterionSource: textOperators,
	CriterionSize: {
		"is greater than": GreaterThan,
		"greater than":    GreaterThan,
		">":               GreaterThan,
		"is less than":    LessThan,
		"less than":       LessThan,
		"<":               LessThan,
	},
	CriterionDate: {
		"is after":  After,
		"after":     After,
		">":         After,
		"is before": Before,
		"before":    Before,
		"<":         Before,
		"is on":     On,
		"on":        On,
		"=":         On,
	},
	CriterionAge: {
		"older than (days)": OlderThan,
		"older than":        OlderThan,
		">":                 OlderThan,
		"newer than (days)": NewerThan,
		"newer than":        NewerThan,
		"<":                 NewerThan,
	},
}

var textOperators = map[string]Operator{
	"contains":         Contains,
	"~":                Contains,
	"does not contain": NotContains,
	"not contains":     NotContains,
	"!~":               NotContains,
}

var dateLayouts = []string{dateLayout, "1/2/2006"}

// Parse builds a clause from its three textual parts.
func Parse(criterion, operator, value string) (Clause, error) {
	c, ok := criterionAliases[normalize(criterion)]
	if !ok {
		return nil, fmt.Errorf("unknown filter criterion %q", criterion)
	}
	op, ok := operatorAliases[c][normalize(operator)]
	if !ok {
		return nil, fmt.Errorf("operator %q not valid for %s", operator, c)
	}
	value = strings.TrimSpace(value)
	switch c {
	case CriterionTitle:
		return Title(op, value)
	case CriterionSource:
		return Source(op, value)
	case CriterionSize:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("size value %q: expected a pixel count", value)
		}
		return Size(op, n)
	case CriterionDate:
		day, err := parseDay(value)
		if err != nil {
			return nil, err
		}
		return Date(op, day)
	default:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("age value %q: expected a number of days", value)
		}
		return Age(op, n)
	}
}

// ParseExpr parses "<criterion> <operator> <value>", e.g. "size > 100000" or
// "title does not contain cartoon".
func ParseExpr(expr string) (Clause, error) {
	rest := strings.TrimSpace(expr)
	criterion, rest, ok := cutPrefix(rest, keys(criterionAliases))
	if !ok {
		return nil, fmt.Errorf("filter %q: unknown criterion", expr)
	}
	c := criterionAliases[criterion]
	operator, value, ok := cutPrefix(rest, keys(operatorAliases[c]))
	if !ok {
		return nil, fmt.Errorf("filter %q: missing or invalid operator for %s", expr, c)
	}
	if value == "" {
		return nil, fmt.Errorf("filter %q: missing value", expr)
	}
	return Parse(criterion, operator, value)
}

func ParseAll(exprs []string) ([]Clause, error) {
	clauses := make([]Clause, 0, len(exprs))
	for _, expr := range exprs {
		c, err := ParseExpr(expr)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

func parseDay(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date value %q: expected YYYY-MM-DD", value)
}

// cutPrefix matches the longest candidate that prefixes s as a whole word.
func cutPrefix(s string, candidates []string) (string, string, bool) {
	lower := strings.ToLower(s)
	for _, cand := range candidates {
		if !strings.HasPrefix(lower, cand) {
			continue
		}
		tail := s[len(cand):]
		if tail != "" && !unicode.IsSpace(rune(tail[0])) {
			continue
		}
		return cand, strings.TrimSpace(tail), true
	}
	return "", "", false
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
