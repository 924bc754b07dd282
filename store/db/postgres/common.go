package postgres

import (
	"fmt"
	"strings"
)

// placeholder returns a positional placeholder for PostgreSQL ($1, $2, ...)
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n placeholders for PostgreSQL
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// inClause builds "column IN ($n, ...)" and appends the values to args.
func inClause[T any](column string, values []T, args []any) (string, []any) {
	holders := make([]string, 0, len(values))
	for _, v := range values {
		args = append(args, v)
		holders = append(holders, placeholder(len(args)))
	}
	return column + " IN (" + strings.Join(holders, ", ") + ")", args
}
