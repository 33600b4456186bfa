// Package querybuilder assembles parameterized SELECT statements for the
// postgres repositories when filters are optional.
package querybuilder

import (
	"errors"
	"fmt"
	"strings"
)

// QueryBuilder provides a fluent interface for building SELECT queries with
// positional pgx parameters
type QueryBuilder struct {
	table      string
	columns    []string
	conditions []Condition
	orderBy    []OrderBy
	limit      *int
	offset     *int
	forUpdate  bool
}

// Condition represents a WHERE condition
type Condition struct {
	Column   string
	Operator Operator
	Value    interface{}
}

// OrderBy represents an ORDER BY clause
type OrderBy struct {
	Column    string
	Direction Direction
}

// Operator represents SQL comparison operators
type Operator int

const (
	Equal Operator = iota
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	In
	IsNull
	IsNotNull
)

// Direction represents sort direction
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Select starts a SELECT query
func Select(columns ...string) *QueryBuilder {
	return &QueryBuilder{columns: columns}
}

func (qb *QueryBuilder) From(table string) *QueryBuilder {
	qb.table = table
	return qb
}

// Where adds an AND condition
func (qb *QueryBuilder) Where(column string, operator Operator, value interface{}) *QueryBuilder {
	qb.conditions = append(qb.conditions, Condition{Column: column, Operator: operator, Value: value})
	return qb
}

func (qb *QueryBuilder) WhereEqual(column string, value interface{}) *QueryBuilder {
	return qb.Where(column, Equal, value)
}

func (qb *QueryBuilder) OrderByAsc(column string) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, OrderBy{Column: column, Direction: Asc})
	return qb
}

func (qb *QueryBuilder) OrderByDesc(column string) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, OrderBy{Column: column, Direction: Desc})
	return qb
}

// Limit is ignored when limit is not positive
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	if limit > 0 {
		qb.limit = &limit
	}
	return qb
}

// Offset is ignored when offset is not positive
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	if offset > 0 {
		qb.offset = &offset
	}
	return qb
}

// ForUpdate locks the selected rows until the transaction ends
func (qb *QueryBuilder) ForUpdate() *QueryBuilder {
	qb.forUpdate = true
	return qb
}

// ToSQL generates the SQL query and parameter list
func (qb *QueryBuilder) ToSQL() (string, []interface{}, error) {
	if qb.table == "" {
		return "", nil, errors.New("table name is required for SELECT query")
	}

	var (
		query  strings.Builder
		params []interface{}
	)
	next := func(v interface{}) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	query.WriteString("SELECT ")
	if len(qb.columns) == 0 {
		query.WriteString("*")
	} else {
		query.WriteString(strings.Join(qb.columns, ", "))
	}
	query.WriteString(" FROM ")
	query.WriteString(qb.table)

	if len(qb.conditions) > 0 {
		clauses := make([]string, 0, len(qb.conditions))
		for _, c := range qb.conditions {
			clause, err := c.build(next)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, clause)
		}
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(clauses, " AND "))
	}

	if len(qb.orderBy) > 0 {
		orders := make([]string, len(qb.orderBy))
		for i, o := range qb.orderBy {
			direction := "ASC"
			if o.Direction == Desc {
				direction = "DESC"
			}
			orders[i] = o.Column + " " + direction
		}
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(orders, ", "))
	}

	if qb.limit != nil {
		query.WriteString(" LIMIT " + next(*qb.limit))
	}
	if qb.offset != nil {
		query.WriteString(" OFFSET " + next(*qb.offset))
	}
	if qb.forUpdate {
		query.WriteString(" FOR UPDATE")
	}

	return query.String(), params, nil
}

func (c Condition) build(next func(interface{}) string) (string, error) {
	switch c.Operator {
	case IsNull:
		return c.Column + " IS NULL", nil
	case IsNotNull:
		return c.Column + " IS NOT NULL", nil
	case In:
		// pgx encodes slices as arrays
		return fmt.Sprintf("%s = ANY(%s)", c.Column, next(c.Value)), nil
	}

	op, ok := comparisons[c.Operator]
	if !ok {
		return "", fmt.Errorf("unsupported operator %d on %s", c.Operator, c.Column)
	}
	return fmt.Sprintf("%s %s %s", c.Column, op, next(c.Value)), nil
}

var comparisons = map[Operator]string{
	Equal:              "=",
	NotEqual:           "<>",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
}
