package sqlxrepos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_whereClause(t *testing.T) {
	tests := []struct {
		name     string
		build    func(w *whereClause)
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "empty",
			build:   func(w *whereClause) { w.eq("plan_id", "") },
			wantSQL: "",
		},
		{
			name: "equalities",
			build: func(w *whereClause) {
				w.eq("plan_id", "p1")
				w.eq("center_id", "")
				w.eq("course_id", "c1")
			},
			wantSQL:  " WHERE plan_id = $1 AND course_id = $2",
			wantArgs: []interface{}{"p1", "c1"},
		},
		{
			name: "search",
			build: func(w *whereClause) {
				w.eq("plan_id", "p1")
				w.search("50%_off", "student_fullname", "student_email")
			},
			wantSQL:  " WHERE plan_id = $1 AND (student_fullname ILIKE $2 OR student_email ILIKE $2)",
			wantArgs: []interface{}{"p1", `%50\%\_off%`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w whereClause
			tt.build(&w)
			assert.Equal(t, tt.wantSQL, w.String())
			assert.Equal(t, tt.wantArgs, w.args)
		})
	}
}

func Test_namedColumns(t *testing.T) {
	assert.Equal(t, ":id, :plan_id, :amount", namedColumns("id, plan_id, amount"))
}
