// Package principal describes the already-authenticated caller handed to the billing core.
// Token verification and role lookup happen upstream; the core trusts what it is given.
package principal

import "errors"

var ErrUnauthorized = errors.New("caller lacks the required role or center scope")

// Principal is one of Admin or Manager.
type Principal interface {
	UserID() string
	isPrincipal()
}

// Admin manages the whole network: centers, managers and courses. It is not bound to a center.
type Admin struct {
	ID       string
	Username string
	Email    string
}

// Manager runs a single center: its students, staff, plans, invoices and payments.
type Manager struct {
	ID       string
	Username string
	Email    string
	CenterID string
}

func (a Admin) UserID() string   { return a.ID }
func (m Manager) UserID() string { return m.ID }

func (Admin) isPrincipal()   {}
func (Manager) isPrincipal() {}

// CenterScope returns the center a principal is confined to; admins are not confined.
func CenterScope(p Principal) (string, bool) {
	if m, ok := p.(Manager); ok {
		return m.CenterID, true
	}
	return "", false
}

// RequireManager returns the Manager behind p or ErrUnauthorized.
func RequireManager(p Principal) (Manager, error) {
	m, ok := p.(Manager)
	if !ok || m.CenterID == "" {
		return Manager{}, ErrUnauthorized
	}
	return m, nil
}
