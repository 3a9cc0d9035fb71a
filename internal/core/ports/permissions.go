package ports

import "camstream/internal/core/domain"

// PermissionResult maps each asked permission to the OS answer.
type PermissionResult map[domain.PermissionID]domain.PermissionStatus

// PermissionOracle fronts the OS permission dialogs.
type PermissionOracle interface {
	Check(permission domain.PermissionID) bool
	// Request shows one dialog for perms. callback may run on any goroutine.
	Request(perms []domain.PermissionID, callback func(PermissionResult))
}
