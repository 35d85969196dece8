package inmemdb

import (
	"sync"

	"github.com/samber/lo"

	"github.com/trezcool/bursar/core/billing"
)

type (
	DB struct {
		txMutex sync.Mutex // serializes writers; held for the whole of a transaction
		mutex   sync.RWMutex
		tables
	}

	tables struct {
		students map[string]*billing.Student
		courses  map[string]*billing.Course
		plans    map[string]*billing.PaymentPlan
		payments map[string]*billing.Payment
		invoices map[string]*billing.Invoice
	}
)

func Open() *DB {
	return &DB{tables: newTables()}
}

func newTables() tables {
	return tables{
		students: make(map[string]*billing.Student),
		courses:  make(map[string]*billing.Course),
		plans:    make(map[string]*billing.PaymentPlan),
		payments: make(map[string]*billing.Payment),
		invoices: make(map[string]*billing.Invoice),
	}
}

func (t tables) clone() tables {
	return tables{
		students: lo.MapValues(t.students, func(std *billing.Student, _ string) *billing.Student {
			c := copyStudent(*std)
			return &c
		}),
		courses:  cloneTable(t.courses),
		plans:    cloneTable(t.plans),
		payments: cloneTable(t.payments),
		invoices: cloneTable(t.invoices),
	}
}

func cloneTable[T any](table map[string]*T) map[string]*T {
	return lo.MapValues(table, func(row *T, _ string) *T {
		c := *row
		return &c
	})
}

func copyStudent(std billing.Student) billing.Student {
	std.PlanIDs = append([]string(nil), std.PlanIDs...)
	return std
}

// Flush removes every record.
func (db *DB) Flush() {
	db.txMutex.Lock()
	defer db.txMutex.Unlock()
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.tables = newTables()
}
