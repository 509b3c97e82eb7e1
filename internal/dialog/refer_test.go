package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipline.dev/core/internal/sipmsg/types"
)

func newReferTestDialog() *sipDialog {
	return &sipDialog{
		id: DialogID{
			CallID:    "test-call-id",
			LocalTag:  "local-tag",
			RemoteTag: "remote-tag",
		},
		direction: DialogDirectionUAC,
		refer: &referState{
			subscription: &ReferSubscription{
				ID:    "test-call-id:refer",
				Event: "refer",
				State: "pending",
				Done:  make(chan struct{}),
			},
		},
	}
}

func TestProcessNotifyFinalSipfragSucceeds(t *testing.T) {
	d := newReferTestDialog()

	notify := types.NewRequest("NOTIFY", nil)
	notify.SetHeader("Subscription-State", "terminated;reason=noresource")
	notify.SetBody([]byte("SIP/2.0 200 OK"))

	require.NoError(t, d.ProcessNotify(notify))

	sub := d.refer.subscription
	assert.Equal(t, "terminated", sub.State)
	assert.Equal(t, 200, sub.Progress)
	assert.NoError(t, sub.Error)
	select {
	case <-sub.Done:
	default:
		t.Fatal("subscription Done channel was not closed")
	}
}

func TestProcessNotifyFinalSipfragFails(t *testing.T) {
	d := newReferTestDialog()

	notify := types.NewRequest("NOTIFY", nil)
	notify.SetBody([]byte("SIP/2.0 603 Decline"))

	require.NoError(t, d.ProcessNotify(notify))

	sub := d.refer.subscription
	assert.Equal(t, "terminated", sub.State)
	assert.Error(t, sub.Error)
}

func TestProcessNotifyProvisionalKeepsSubscriptionActive(t *testing.T) {
	d := newReferTestDialog()

	notify := types.NewRequest("NOTIFY", nil)
	notify.SetHeader("Subscription-State", "active;expires=60")
	notify.SetBody([]byte("SIP/2.0 100 Trying"))

	require.NoError(t, d.ProcessNotify(notify))

	sub := d.refer.subscription
	assert.Equal(t, "active", sub.State)
	assert.Equal(t, 100, sub.Progress)
	select {
	case <-sub.Done:
		t.Fatal("subscription Done channel closed on a provisional NOTIFY")
	default:
	}
}

func TestProcessNotifyTerminatedHeaderWithoutFinalFragment(t *testing.T) {
	d := newReferTestDialog()

	notify := types.NewRequest("NOTIFY", nil)
	notify.SetHeader("Subscription-State", "terminated;reason=timeout")

	require.NoError(t, d.ProcessNotify(notify))

	sub := d.refer.subscription
	assert.Equal(t, "terminated", sub.State)
	require.Error(t, sub.Error)
	assert.Contains(t, sub.Error.Error(), "timeout")
	select {
	case <-sub.Done:
	default:
		t.Fatal("subscription Done channel was not closed")
	}
}

func TestProcessNotifyNoPendingReferIsNoop(t *testing.T) {
	d := &sipDialog{id: DialogID{CallID: "test-call-id"}, direction: DialogDirectionUAC}

	notify := types.NewRequest("NOTIFY", nil)
	notify.SetBody([]byte("SIP/2.0 200 OK"))

	assert.NoError(t, d.ProcessNotify(notify))
}
