package billing

import (
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core/principal"
)

// CheckCenterAccess allows admins on every center and managers on their own center only.
func CheckCenterAccess(p principal.Principal, centerID string) error {
	if _, ok := p.(principal.Admin); ok {
		return nil
	}
	m, err := principal.RequireManager(p)
	if err != nil {
		return err
	}
	if m.CenterID != centerID {
		return errors.Wrapf(principal.ErrUnauthorized, "center %s", centerID)
	}
	return nil
}
