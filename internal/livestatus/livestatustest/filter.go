package livestatustest

import (
	"fmt"
	"strconv"
	"strings"
)

type filter struct {
	name  string
	op    string
	value string
	col   int
}

var operators = []string{">=", "<=", "!=", "=", ">", "<", "~"}

func parseFilter(expr string) (filter, error) {
	parts := strings.SplitN(expr, " ", 3)
	if len(parts) < 2 {
		return filter{}, fmt.Errorf("Invalid filter '%s'", expr)
	}
	f := filter{name: parts[0], op: parts[1]}
	if len(parts) == 3 {
		f.value = parts[2]
	}
	for _, op := range operators {
		if f.op == op {
			return f, nil
		}
	}
	return filter{}, fmt.Errorf("Invalid filter operator '%s'", f.op)
}

func matchAll(filters []filter, row []string) bool {
	for _, f := range filters {
		if !f.match(row[f.col]) {
			return false
		}
	}
	return true
}

func (f filter) match(cell string) bool {
	if f.op == "~" {
		return strings.Contains(cell, f.value)
	}

	a, aerr := strconv.ParseFloat(cell, 64)
	b, berr := strconv.ParseFloat(f.value, 64)
	if aerr == nil && berr == nil {
		switch f.op {
		case "=":
			return a == b
		case "!=":
			return a != b
		case ">=":
			return a >= b
		case "<=":
			return a <= b
		case ">":
			return a > b
		case "<":
			return a < b
		}
	}

	switch f.op {
	case "=":
		return cell == f.value
	case "!=":
		return cell != f.value
	case ">=":
		return cell >= f.value
	case "<=":
		return cell <= f.value
	case ">":
		return cell > f.value
	case "<":
		return cell < f.value
	}
	return false
}
