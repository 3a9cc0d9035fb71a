package device

import (
	"fmt"
	"sync"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// Policy says how the simulated OS answers each permission. Permissions not
// listed anywhere are denied.
type Policy struct {
	Granted   []domain.PermissionID
	OnRequest []domain.PermissionID
	Rationale []domain.PermissionID
	Denied    []domain.PermissionID
}

// PolicyFromNames parses the permission lists of the config file.
func PolicyFromNames(granted, onRequest, rationale, denied []string) (Policy, error) {
	var p Policy
	for _, l := range []struct {
		names []string
		into  *[]domain.PermissionID
	}{
		{granted, &p.Granted},
		{onRequest, &p.OnRequest},
		{rationale, &p.Rationale},
		{denied, &p.Denied},
	} {
		for _, name := range l.names {
			id, ok := domain.ParsePermission(name)
			if !ok {
				return Policy{}, fmt.Errorf("unknown permission %q", name)
			}
			*l.into = append(*l.into, id)
		}
	}
	return p, nil
}

// StaticOracle answers permission dialogs from a fixed Policy. A permission
// answered as OnRequest stays granted afterwards.
type StaticOracle struct {
	mu      sync.Mutex
	answers map[domain.PermissionID]domain.PermissionStatus
	granted map[domain.PermissionID]bool
	asked   int
}

var _ ports.PermissionOracle = (*StaticOracle)(nil)

func NewStaticOracle(p Policy) *StaticOracle {
	o := &StaticOracle{
		answers: make(map[domain.PermissionID]domain.PermissionStatus),
		granted: make(map[domain.PermissionID]bool),
	}
	for _, id := range p.Granted {
		o.granted[id] = true
		o.answers[id] = domain.PermissionGranted
	}
	for _, id := range p.OnRequest {
		o.answers[id] = domain.PermissionGranted
	}
	for _, id := range p.Rationale {
		o.answers[id] = domain.PermissionRationale
	}
	for _, id := range p.Denied {
		o.answers[id] = domain.PermissionDenied
	}
	return o
}

func (o *StaticOracle) Check(id domain.PermissionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.granted[id]
}

// Request answers on a separate goroutine, like an OS dialog callback.
func (o *StaticOracle) Request(perms []domain.PermissionID, callback func(ports.PermissionResult)) {
	o.mu.Lock()
	o.asked++
	result := make(ports.PermissionResult, len(perms))
	for _, id := range perms {
		status, ok := o.answers[id]
		if !ok {
			status = domain.PermissionDenied
		}
		if status == domain.PermissionGranted {
			o.granted[id] = true
		}
		result[id] = status
	}
	o.mu.Unlock()

	go callback(result)
}

// Dialogs returns how many dialogs were shown.
func (o *StaticOracle) Dialogs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.asked
}
