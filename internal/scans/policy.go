package scans

import (
	"fmt"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
)

// VisibilityPolicy narrows a staff listing for the caller.
type VisibilityPolicy func(caller auth.Identity, filter repository.ScanFilter) repository.ScanFilter

// VisibleToAllStaff lets doctors and admins see every scan.
func VisibleToAllStaff(_ auth.Identity, filter repository.ScanFilter) repository.ScanFilter {
	return filter
}

// AssignedOrUnassigned shows a doctor the scans they review plus the ones
// nobody has picked up yet. Admins still see everything.
func AssignedOrUnassigned(caller auth.Identity, filter repository.ScanFilter) repository.ScanFilter {
	if caller.Role == auth.RoleDoctor {
		filter.ReviewerScope = caller.UserID
	}
	return filter
}

// PolicyByName resolves the scans.visibility setting.
func PolicyByName(name string) (VisibilityPolicy, error) {
	switch name {
	case "", "all":
		return VisibleToAllStaff, nil
	case "assigned":
		return AssignedOrUnassigned, nil
	}
	return nil, fmt.Errorf("unknown visibility policy %q", name)
}
