// Package filter evaluates conjunctions of typed clauses over records.
package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/patrickjm/imgscout/internal/record"
)

type Criterion string

const (
	CriterionTitle  Criterion = "title"
	CriterionSource Criterion = "source"
	CriterionSize   Criterion = "size"
	CriterionDate   Criterion = "date"
	CriterionAge    Criterion = "age"
)

type Operator string

const (
	Contains    Operator = "contains"
	NotContains Operator = "does not contain"
	GreaterThan Operator = "is greater than"
	LessThan    Operator = "is less than"
	After       Operator = "is after"
	Before      Operator = "is before"
	On          Operator = "is on"
	OlderThan   Operator = "older than (days)"
	NewerThan   Operator = "newer than (days)"
)

// Operators lists the legal operators for each criterion.
var Operators = map[Criterion][]Operator{
	CriterionTitle:  {Contains, NotContains},
	CriterionSource: {Contains, NotContains},
	CriterionSize:   {GreaterThan, LessThan},
	CriterionDate:   {After, Before, On},
	CriterionAge:    {OlderThan, NewerThan},
}

const dateLayout = "2006-01-02"

// Clause is one condition. Values are built only through the constructors in
// this package, which reject operators the criterion does not support.
type Clause interface {
	Criterion() Criterion
	Operator() Operator
	Value() string
	String() string
	// match reports whether r satisfies the clause. Absent data is a
	// non-match; malformed data is an error.
	match(r record.Record) (bool, error)
}

type base struct {
	criterion Criterion
	op        Operator
}

func (b base) Criterion() Criterion { return b.criterion }
func (b base) Operator() Operator   { return b.op }

func newBase(c Criterion, op Operator) (base, error) {
	for _, allowed := range Operators[c] {
		if allowed == op {
			return base{criterion: c, op: op}, nil
		}
	}
	return base{}, fmt.Errorf("operator %q not valid for %s", op, c)
}

type textClause struct {
	base
	needle string
	field  func(record.Record) string
}

func Title(op Operator, value string) (Clause, error) {
	b, err := newBase(CriterionTitle, op)
	if err != nil {
		return nil, err
	}
	return textClause{base: b, needle: value, field: func(r record.Record) string { return r.Title }}, nil
}

func Source(op Operator, value string) (Clause, error) {
	b, err := newBase(CriterionSource, op)
	if err != nil {
		return nil, err
	}
	return textClause{base: b, needle: value, field: func(r record.Record) string { return r.SourceDomain }}, nil
}

func (c textClause) Value() string { return c.needle }

func (c textClause) String() string { return format(c) }

func (c textClause) match(r record.Record) (bool, error) {
	found := strings.Contains(strings.ToLower(c.field(r)), strings.ToLower(c.needle))
	if c.op == NotContains {
		return !found, nil
	}
	return found, nil
}

type sizeClause struct {
	base
	pixels int64
}

func Size(op Operator, pixels int64) (Clause, error) {
	b, err := newBase(CriterionSize, op)
	if err != nil {
		return nil, err
	}
	return sizeClause{base: b, pixels: pixels}, nil
}

func (c sizeClause) Value() string { return strconv.FormatInt(c.pixels, 10) }

func (c sizeClause) String() string { return format(c) }

func (c sizeClause) match(r record.Record) (bool, error) {
	if r.Size == "" {
		return false, nil
	}
	w, h, err := r.Dimensions()
	if err != nil {
		return false, err
	}
	if w < 0 || h < 0 {
		return false, fmt.Errorf("negative size %q", r.Size)
	}
	if w > 0 && int64(h) > math.MaxInt64/int64(w) {
		return false, fmt.Errorf("size %q overflows pixel count", r.Size)
	}
	count := int64(w) * int64(h)
	if c.op == GreaterThan {
		return count > c.pixels, nil
	}
	return count < c.pixels, nil
}

type dateClause struct {
	base
	day time.Time
}

func Date(op Operator, day time.Time) (Clause, error) {
	b, err := newBase(CriterionDate, op)
	if err != nil {
		return nil, err
	}
	return dateClause{base: b, day: record.CivilDate(day)}, nil
}

func (c dateClause) Value() string { return c.day.Format(dateLayout) }

func (c dateClause) String() string { return format(c) }

func (c dateClause) match(r record.Record) (bool, error) {
	if r.ParsedDate == nil {
		return false, nil
	}
	d := record.CivilDate(*r.ParsedDate)
	switch c.op {
	case After:
		return d.After(c.day), nil
	case Before:
		return d.Before(c.day), nil
	default:
		return d.Equal(c.day), nil
	}
}

type ageClause struct {
	base
	days int
}

func Age(op Operator, days int) (Clause, error) {
	b, err := newBase(CriterionAge, op)
	if err != nil {
		return nil, err
	}
	return ageClause{base: b, days: days}, nil
}

func (c ageClause) Value() string { return strconv.Itoa(c.days) }

func (c ageClause) String() string { return format(c) }

func (c ageClause) match(r record.Record) (bool, error) {
	if r.AgeDays == nil {
		return false, nil
	}
	if c.op == OlderThan {
		return *r.AgeDays > c.days, nil
	}
	return *r.AgeDays < c.days, nil
}

func format(c Clause) string {
	return fmt.Sprintf("%s %s %s", c.Criterion(), c.Operator(), c.Value())
}

// Failure records a clause that could not be evaluated against a record.
type Failure struct {
	RecordID string
	Clause   string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("record %s, %s: %v", f.RecordID, f.Clause, f.Err)
}

// Apply keeps the records that satisfy every clause, evaluating clauses in
// order. Records that fail evaluation are dropped and reported.
func Apply(records []record.Record, clauses []Clause) ([]record.Record, []Failure) {
	out := records
	var failures []Failure
	for _, c := range clauses {
		kept := make([]record.Record, 0, len(out))
		for _, r := range out {
			ok, err := c.match(r)
			if err != nil {
				failures = append(failures, Failure{RecordID: r.ID, Clause: c.String(), Err: err})
				continue
			}
			if ok {
				kept = append(kept, r)
			}
		}
		out = kept
	}
	return out, failures
}
