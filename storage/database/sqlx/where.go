package sqlxrepos

import (
	"strconv"
	"strings"
)

// whereClause accumulates AND-ed conditions with positional arguments.
type whereClause struct {
	conds []string
	args  []interface{}
}

func (w *whereClause) placeholder(arg interface{}) string {
	w.args = append(w.args, arg)
	return "$" + strconv.Itoa(len(w.args))
}

// eq adds `column = value`, skipping empty values.
func (w *whereClause) eq(column, value string) {
	if value == "" {
		return
	}
	w.conds = append(w.conds, column+" = "+w.placeholder(value))
}

// search adds a case-insensitive substring match on any of columns.
func (w *whereClause) search(term string, columns ...string) {
	if term == "" {
		return
	}
	ph := w.placeholder("%" + escapeLike(term) + "%")
	ors := make([]string, 0, len(columns))
	for _, col := range columns {
		ors = append(ors, col+" ILIKE "+ph)
	}
	w.conds = append(w.conds, "("+strings.Join(ors, " OR ")+")")
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
