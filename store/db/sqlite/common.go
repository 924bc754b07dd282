package sqlite

import "strings"

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(n int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// inClause builds "column IN (?, ?, ...)" and appends the values to args.
func inClause[T any](column string, values []T, args []any) (string, []any) {
	holders := make([]string, 0, len(values))
	for _, v := range values {
		args = append(args, v)
		holders = append(holders, placeholder(len(args)))
	}
	return column + " IN (" + strings.Join(holders, ", ") + ")", args
}
