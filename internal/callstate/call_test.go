package callstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sipline.dev/core/internal/dialog"
	"sipline.dev/core/internal/sipmsg/types"
	"sipline.dev/core/internal/transaction"
	"sipline.dev/core/mediaadapter"
)

// stubDialog is the minimal dialog.Dialog double these tests drive through
// the call-state machine without any real transport.
type stubDialog struct {
	callID     string
	sentReqs   []string
	canceled   bool
	cancelErr  error
}

func (s *stubDialog) ID() dialog.DialogID           { return dialog.DialogID{CallID: s.callID} }
func (s *stubDialog) CallID() string                { return s.callID }
func (s *stubDialog) LocalTag() string              { return "local-tag" }
func (s *stubDialog) RemoteTag() string              { return "remote-tag" }
func (s *stubDialog) State() dialog.DialogState      { return dialog.DialogStateEstablished }
func (s *stubDialog) Direction() dialog.DialogDirection { return dialog.DialogDirectionUAC }
func (s *stubDialog) LocalURI() types.URI            { return nil }
func (s *stubDialog) RemoteURI() types.URI           { return nil }
func (s *stubDialog) LocalTarget() types.URI         { return nil }
func (s *stubDialog) RemoteTarget() types.URI        { return nil }
func (s *stubDialog) RouteSet() []types.URI          { return nil }
func (s *stubDialog) LocalCSeq() uint32              { return 1 }
func (s *stubDialog) RemoteCSeq() uint32             { return 1 }
func (s *stubDialog) Terminate() error               { return nil }
func (s *stubDialog) Cancel() error {
	s.canceled = true
	return s.cancelErr
}
func (s *stubDialog) OnStateChange(dialog.DialogStateHandler) {}
func (s *stubDialog) OnRequest(dialog.DialogRequestHandler)   {}
func (s *stubDialog) OnResponse(dialog.DialogResponseHandler) {}
func (s *stubDialog) SendRefer(context.Context, string, *dialog.ReferOpts) error { return nil }
func (s *stubDialog) WaitRefer(context.Context) (*dialog.ReferSubscription, error) { return nil, nil }
func (s *stubDialog) ProcessNotify(types.Message) error { return nil }

func (s *stubDialog) SendRequest(method string) (transaction.Transaction, error) {
	s.sentReqs = append(s.sentReqs, method)
	return nil, nil
}
func (s *stubDialog) SendRequestWithBody(method string, _ []byte, _ string) (transaction.Transaction, error) {
	s.sentReqs = append(s.sentReqs, method)
	return nil, nil
}

var _ dialog.Dialog = (*stubDialog)(nil)

func TestOutgoingCallReachesStreamsRunning(t *testing.T) {
	ctx := context.Background()
	dlg := &stubDialog{callID: "call-1"}
	media := mediaadapter.NewSession("192.0.2.1", 40000, 1)

	call := New("alice@example.com", DirectionOutgoing, dlg, media, nil)
	require.NoError(t, call.StartOutgoing(ctx))
	require.Equal(t, StateOutgoingInit, call.State())

	require.NoError(t, call.HandleProvisional(ctx, 100))
	require.Equal(t, StateOutgoingProgress, call.State())

	require.NoError(t, call.HandleProvisional(ctx, 180))
	require.Equal(t, StateOutgoingRinging, call.State())

	require.NoError(t, call.HandleFinalResponse(ctx, 200, "v=0"))
	require.Equal(t, StateStreamsRunning, call.State())

	states := []State{}
	for _, r := range call.History() {
		states = append(states, r.State)
	}
	require.Equal(t, []State{StateOutgoingInit, StateOutgoingProgress, StateOutgoingRinging, StateConnected, StateStreamsRunning}, states)
}

func TestIncomingCallDeclineRecordsDeclined(t *testing.T) {
	ctx := context.Background()
	dlg := &stubDialog{callID: "call-2"}
	media := mediaadapter.NewSession("192.0.2.1", 40000, 1)

	call := New("alice@example.com", DirectionIncoming, dlg, media, nil)
	require.NoError(t, call.ReceiveInvite(ctx))
	require.Equal(t, StateIncomingReceived, call.State())

	require.NoError(t, call.Decline(ctx))
	require.Equal(t, StateEnded, call.State())
	require.Equal(t, ClassDeclined, call.Classification())
	require.Contains(t, dlg.sentReqs, "603")
}

func TestDTMFRejectedOutsideConnected(t *testing.T) {
	ctx := context.Background()
	dlg := &stubDialog{callID: "call-3"}
	media := mediaadapter.NewSession("192.0.2.1", 40000, 1)

	call := New("alice@example.com", DirectionOutgoing, dlg, media, nil)
	_, err := call.SendDTMF(ctx, "123", 100, 50)
	require.Error(t, err)
}

func TestTerminateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dlg := &stubDialog{callID: "call-4"}
	media := mediaadapter.NewSession("192.0.2.1", 40000, 1)

	call := New("alice@example.com", DirectionOutgoing, dlg, media, nil)
	require.NoError(t, call.StartOutgoing(ctx))
	require.NoError(t, call.HandleFinalResponse(ctx, 200, "v=0"))

	require.NoError(t, call.Terminate(ctx))
	require.Equal(t, StateEnded, call.State())
	require.NoError(t, call.Terminate(ctx))
	require.Equal(t, StateEnded, call.State())

	endedCount := 0
	for _, r := range call.History() {
		if r.State == StateEnded {
			endedCount++
		}
	}
	require.Equal(t, 1, endedCount)
}

func TestTerminateBeforeAnswerSendsCancelNotBye(t *testing.T) {
	ctx := context.Background()
	dlg := &stubDialog{callID: "call-5"}
	media := mediaadapter.NewSession("192.0.2.1", 40000, 1)

	call := New("alice@example.com", DirectionOutgoing, dlg, media, nil)
	require.NoError(t, call.StartOutgoing(ctx))
	require.NoError(t, call.HandleProvisional(ctx, 180))
	require.Equal(t, StateOutgoingRinging, call.State())

	require.NoError(t, call.Terminate(ctx))
	require.True(t, dlg.canceled)
	require.NotContains(t, dlg.sentReqs, "BYE")
	require.Equal(t, StateEnded, call.State())
}

func TestTerminateAfterAnswerSendsByeNotCancel(t *testing.T) {
	ctx := context.Background()
	dlg := &stubDialog{callID: "call-6"}
	media := mediaadapter.NewSession("192.0.2.1", 40000, 1)

	call := New("alice@example.com", DirectionOutgoing, dlg, media, nil)
	require.NoError(t, call.StartOutgoing(ctx))
	require.NoError(t, call.HandleFinalResponse(ctx, 200, "v=0"))

	require.NoError(t, call.Terminate(ctx))
	require.False(t, dlg.canceled)
	require.Contains(t, dlg.sentReqs, "BYE")
}

func TestManagerRejectsSecondIncomingWithBusy(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager("alice@example.com", nil)

	dlg1 := &stubDialog{callID: "call-5"}
	_, ok, err := mgr.AcceptIncoming(ctx, dlg1, mediaadapter.NewSession("192.0.2.1", 40000, 1))
	require.NoError(t, err)
	require.True(t, ok)

	dlg2 := &stubDialog{callID: "call-6"}
	_, ok2, err := mgr.AcceptIncoming(ctx, dlg2, mediaadapter.NewSession("192.0.2.1", 40002, 2))
	require.NoError(t, err)
	require.False(t, ok2)
	require.Contains(t, dlg2.sentReqs, "486")
}

func TestManagerRejectsSecondOutgoing(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager("alice@example.com", nil)

	dlg1 := &stubDialog{callID: "call-7"}
	_, err := mgr.StartOutgoing(ctx, dlg1, mediaadapter.NewSession("192.0.2.1", 40000, 1))
	require.NoError(t, err)

	dlg2 := &stubDialog{callID: "call-8"}
	_, err = mgr.StartOutgoing(ctx, dlg2, mediaadapter.NewSession("192.0.2.1", 40002, 2))
	require.ErrorIs(t, err, ErrCallAlreadyActive)
}
