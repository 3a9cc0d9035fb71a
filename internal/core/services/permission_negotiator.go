package services

import (
	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"go.uber.org/zap"
)

// PermissionRequest asks for a set of permissions. Exactly one of the
// callbacks runs per resolution, always on the owning executor.
type PermissionRequest struct {
	Permissions []domain.PermissionID
	OnGranted   func()
	// OnRationale receives the refused subset and a continuation that issues
	// the same request again.
	OnRationale func(missing []domain.PermissionID, proceed func())
	OnDenied    func(missing []domain.PermissionID)
}

type queuedPermission struct {
	req   PermissionRequest
	perms []domain.PermissionID
}

// PermissionNegotiator serializes OS permission dialogs. At most one dialog
// is outstanding; queued requests whose sets overlap are folded into a
// single dialog for their union.
type PermissionNegotiator struct {
	exec    ports.Executor
	oracle  ports.PermissionOracle
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	queue     []*queuedPermission
	inFlight  bool
	scheduled bool
	closed    bool
}

func NewPermissionNegotiator(exec ports.Executor, oracle ports.PermissionOracle, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *PermissionNegotiator {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &PermissionNegotiator{
		exec:    exec,
		oracle:  oracle,
		metrics: metrics,
		logger:  logger,
	}
}

// Request resolves req. When every permission is already granted OnGranted
// runs before Request returns; otherwise the request is queued and a dialog
// is shown on a later turn.
func (n *PermissionNegotiator) Request(req PermissionRequest) {
	if n.closed {
		return
	}

	perms := domain.NormalizePermissions(req.Permissions)
	if len(n.notGranted(perms)) == 0 {
		n.metrics.PermissionOutcome("granted")
		if req.OnGranted != nil {
			req.OnGranted()
		}
		return
	}

	n.queue = append(n.queue, &queuedPermission{req: req, perms: perms})
	n.schedule()
}

// Pending returns the number of queued requests, excluding any in flight.
func (n *PermissionNegotiator) Pending() int {
	return len(n.queue)
}

// Close drops queued requests. A dialog answered after Close is ignored.
func (n *PermissionNegotiator) Close() {
	n.closed = true
	n.queue = nil
}

func (n *PermissionNegotiator) schedule() {
	if n.scheduled || n.inFlight || n.closed {
		return
	}
	n.scheduled = true
	n.exec.Post(n.pump)
}

func (n *PermissionNegotiator) pump() {
	n.scheduled = false
	if n.closed || n.inFlight {
		return
	}

	// Requests granted meanwhile (e.g. from system settings) need no dialog.
	remaining := n.queue[:0]
	var ready []*queuedPermission
	for _, q := range n.queue {
		if len(n.notGranted(q.perms)) == 0 {
			ready = append(ready, q)
			continue
		}
		remaining = append(remaining, q)
	}
	n.queue = remaining
	for _, q := range ready {
		n.resolve(q, nil)
	}
	if n.closed || len(n.queue) == 0 {
		return
	}

	batch, union := n.takeBatch()
	n.inFlight = true
	n.metrics.PermissionDialog()
	n.logger.Debugw("Requesting permissions", "permissions", union, "requests", len(batch))

	n.oracle.Request(union, func(result ports.PermissionResult) {
		n.exec.Post(func() { n.answer(batch, result) })
	})
}

// takeBatch removes the head request and every queued request that overlaps
// it, transitively, and returns them with the union of what they miss.
func (n *PermissionNegotiator) takeBatch() ([]*queuedPermission, []domain.PermissionID) {
	head := n.queue[0]
	batch := []*queuedPermission{head}
	union := make(map[domain.PermissionID]struct{})
	for _, p := range head.perms {
		union[p] = struct{}{}
	}

	rest := n.queue[1:]
	for grew := true; grew; {
		grew = false
		kept := rest[:0]
		for _, q := range rest {
			if overlaps(q.perms, union) {
				batch = append(batch, q)
				for _, p := range q.perms {
					union[p] = struct{}{}
				}
				grew = true
				continue
			}
			kept = append(kept, q)
		}
		rest = kept
	}
	n.queue = rest

	ids := make([]domain.PermissionID, 0, len(union))
	for p := range union {
		ids = append(ids, p)
	}
	ids = domain.NormalizePermissions(ids)

	// Only ask for what is not granted yet.
	return batch, n.notGranted(ids)
}

func (n *PermissionNegotiator) answer(batch []*queuedPermission, result ports.PermissionResult) {
	n.inFlight = false
	if n.closed {
		return
	}

	for _, q := range batch {
		n.resolve(q, result)
	}

	// A queued request fully covered by this answer resolves without a
	// second dialog.
	remaining := n.queue[:0]
	var covered []*queuedPermission
	for _, q := range n.queue {
		if answeredBy(n.notGranted(q.perms), result) {
			covered = append(covered, q)
			continue
		}
		remaining = append(remaining, q)
	}
	n.queue = remaining
	for _, q := range covered {
		n.resolve(q, result)
	}

	if len(n.queue) > 0 {
		n.schedule()
	}
}

func (n *PermissionNegotiator) resolve(q *queuedPermission, result ports.PermissionResult) {
	var missing []domain.PermissionID
	denied := false
	for _, p := range q.perms {
		status, ok := result[p]
		if !ok {
			if n.oracle.Check(p) {
				continue
			}
			status = domain.PermissionDenied
		}
		switch status {
		case domain.PermissionGranted:
		case domain.PermissionDenied:
			denied = true
			missing = append(missing, p)
		default:
			missing = append(missing, p)
		}
	}

	switch {
	case len(missing) == 0:
		n.metrics.PermissionOutcome("granted")
		if q.req.OnGranted != nil {
			q.req.OnGranted()
		}
	case denied:
		n.metrics.PermissionOutcome("denied")
		n.logger.Infow("Permissions denied", "missing", missing)
		if q.req.OnDenied != nil {
			q.req.OnDenied(missing)
		}
	default:
		n.metrics.PermissionOutcome("rationale")
		n.logger.Infow("Permissions need rationale", "missing", missing)
		if q.req.OnRationale != nil {
			req := q.req
			q.req.OnRationale(missing, func() { n.Request(req) })
		}
	}
}

func (n *PermissionNegotiator) notGranted(perms []domain.PermissionID) []domain.PermissionID {
	var out []domain.PermissionID
	for _, p := range perms {
		if !n.oracle.Check(p) {
			out = append(out, p)
		}
	}
	return out
}

func overlaps(perms []domain.PermissionID, set map[domain.PermissionID]struct{}) bool {
	for _, p := range perms {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}

func answeredBy(perms []domain.PermissionID, result ports.PermissionResult) bool {
	for _, p := range perms {
		if _, ok := result[p]; !ok {
			return false
		}
	}
	return true
}
