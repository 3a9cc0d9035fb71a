package domain

import "sort"

type PermissionID string

const (
	PermissionCamera     PermissionID = "camera"
	PermissionMicrophone PermissionID = "microphone"
)

// PermissionStatus is the OS answer for a single permission.
type PermissionStatus int

const (
	PermissionGranted PermissionStatus = iota
	// PermissionRationale means refused, but the OS allows asking again after
	// showing an explanation.
	PermissionRationale
	// PermissionDenied means refused permanently.
	PermissionDenied
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionGranted:
		return "granted"
	case PermissionRationale:
		return "rationale"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ParsePermission maps a host permission name to its id.
func ParsePermission(name string) (PermissionID, bool) {
	switch PermissionID(name) {
	case PermissionCamera, PermissionMicrophone:
		return PermissionID(name), true
	}
	return "", false
}

// NormalizePermissions returns a sorted copy of perms without duplicates.
func NormalizePermissions(perms []PermissionID) []PermissionID {
	seen := make(map[PermissionID]struct{}, len(perms))
	out := make([]PermissionID, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PermissionNames converts ids to the strings carried by events.
func PermissionNames(perms []PermissionID) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return names
}
