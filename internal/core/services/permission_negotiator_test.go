package services

import (
	"testing"

	"camstream/internal/core/domain"
	"camstream/internal/infrastructure/loop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	camera     = domain.PermissionCamera
	microphone = domain.PermissionMicrophone
)

type outcome struct {
	kind    string
	missing []domain.PermissionID
	proceed func()
}

// track builds a request whose outcomes are appended to out.
func track(out *[]outcome, perms ...domain.PermissionID) PermissionRequest {
	return PermissionRequest{
		Permissions: perms,
		OnGranted:   func() { *out = append(*out, outcome{kind: "granted"}) },
		OnRationale: func(missing []domain.PermissionID, proceed func()) {
			*out = append(*out, outcome{kind: "rationale", missing: missing, proceed: proceed})
		},
		OnDenied: func(missing []domain.PermissionID) {
			*out = append(*out, outcome{kind: "denied", missing: missing})
		},
	}
}

func newNegotiator(oracle *fakeOracle) (*PermissionNegotiator, *loop.Manual) {
	exec := loop.NewManual()
	return NewPermissionNegotiator(exec, oracle, nil, zap.NewNop().Sugar()), exec
}

func TestNegotiator_AlreadyGrantedResolvesSynchronously(t *testing.T) {
	oracle := newFakeOracle(camera, microphone)
	n, exec := newNegotiator(oracle)

	var got []outcome
	n.Request(track(&got, camera, microphone))

	require.Len(t, got, 1, "must resolve before Request returns")
	assert.Equal(t, "granted", got[0].kind)
	assert.Equal(t, 0, exec.RunPending())
	assert.Empty(t, oracle.dialogs)
}

func TestNegotiator_OverlappingRequestsShareOneDialog(t *testing.T) {
	oracle := newFakeOracle()
	n, exec := newNegotiator(oracle)

	var a, b []outcome
	n.Request(track(&a, camera))
	n.Request(track(&b, camera, microphone))
	exec.RunPending()

	require.Len(t, oracle.dialogs, 1)
	assert.Equal(t, []domain.PermissionID{camera, microphone}, oracle.dialogs[0].perms)

	oracle.answer(0, map[domain.PermissionID]domain.PermissionStatus{microphone: domain.PermissionDenied})
	exec.RunPending()

	require.Len(t, a, 1)
	assert.Equal(t, "granted", a[0].kind)
	require.Len(t, b, 1)
	assert.Equal(t, "denied", b[0].kind)
	assert.Equal(t, []domain.PermissionID{microphone}, b[0].missing)
	assert.Len(t, oracle.dialogs, 1)
}

func TestNegotiator_OneDialogAtATimeInFIFOOrder(t *testing.T) {
	oracle := newFakeOracle()
	n, exec := newNegotiator(oracle)

	var a, b []outcome
	n.Request(track(&a, camera))
	exec.RunPending()
	require.Len(t, oracle.dialogs, 1)

	// Overlaps nothing outstanding but must wait for the open dialog.
	n.Request(track(&b, microphone))
	exec.RunPending()
	require.Len(t, oracle.dialogs, 1)
	assert.Equal(t, 1, n.Pending())

	oracle.grantAll(0)
	exec.RunPending()
	require.Len(t, a, 1)
	require.Len(t, oracle.dialogs, 2)
	assert.Equal(t, []domain.PermissionID{microphone}, oracle.dialogs[1].perms)

	oracle.grantAll(1)
	exec.RunPending()
	require.Len(t, b, 1)
	assert.Equal(t, "granted", b[0].kind)
}

func TestNegotiator_QueuedRequestCoveredByAnswerSkipsDialog(t *testing.T) {
	oracle := newFakeOracle()
	n, exec := newNegotiator(oracle)

	var a, b []outcome
	n.Request(track(&a, camera, microphone))
	exec.RunPending()
	n.Request(track(&b, camera))
	exec.RunPending()

	oracle.grantAll(0)
	exec.RunPending()

	assert.Len(t, oracle.dialogs, 1)
	require.Len(t, b, 1)
	assert.Equal(t, "granted", b[0].kind)
}

func TestNegotiator_RationaleContinuationRetriesSameRequest(t *testing.T) {
	oracle := newFakeOracle()
	n, exec := newNegotiator(oracle)

	var got []outcome
	n.Request(track(&got, camera, microphone))
	exec.RunPending()
	oracle.answer(0, map[domain.PermissionID]domain.PermissionStatus{camera: domain.PermissionRationale})
	exec.RunPending()

	require.Len(t, got, 1)
	assert.Equal(t, "rationale", got[0].kind)
	assert.Equal(t, []domain.PermissionID{camera}, got[0].missing)

	got[0].proceed()
	exec.RunPending()
	require.Len(t, oracle.dialogs, 2)
	assert.Equal(t, []domain.PermissionID{camera}, oracle.dialogs[1].perms, "only the missing permission is asked again")

	oracle.grantAll(1)
	exec.RunPending()
	require.Len(t, got, 2)
	assert.Equal(t, "granted", got[1].kind)
}

func TestNegotiator_DenialWinsOverRationale(t *testing.T) {
	oracle := newFakeOracle()
	n, exec := newNegotiator(oracle)

	var got []outcome
	n.Request(track(&got, camera, microphone))
	exec.RunPending()
	oracle.answer(0, map[domain.PermissionID]domain.PermissionStatus{
		camera:     domain.PermissionRationale,
		microphone: domain.PermissionDenied,
	})
	exec.RunPending()

	require.Len(t, got, 1)
	assert.Equal(t, "denied", got[0].kind)
	assert.Equal(t, []domain.PermissionID{camera, microphone}, got[0].missing)
}

func TestNegotiator_CloseIgnoresLateAnswer(t *testing.T) {
	oracle := newFakeOracle()
	n, exec := newNegotiator(oracle)

	var got []outcome
	n.Request(track(&got, camera))
	exec.RunPending()
	n.Close()

	oracle.grantAll(0)
	exec.RunPending()
	assert.Empty(t, got)

	n.Request(track(&got, camera))
	assert.Empty(t, got)
}
