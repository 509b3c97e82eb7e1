package dialog

import (
	"crypto/rand"
	"encoding/hex"

	"sipline.dev/core/internal/sipmsg/types"
)

// NewOutgoingDialog builds an early UAC dialog for an INVITE that has not
// been sent yet. A dialog normally learns its identity by being keyed off
// an existing request or response (GenerateDialogKey), but the UAC side
// needs a Call-ID and local tag before it can build that first request at
// all, so this generates both directly. localURI/remoteURI/localTarget are
// set up front because SendRequestWithBody needs them to build From/To/
// Contact; the remote tag is filled in later by updateFromResponse once the
// far end's first response names one, at which point store is used to
// rekey the dialog from its early index to its full key. The caller is
// still responsible for calling store.Add(d) once the dialog is
// constructed, mirroring how Store.Add/Rekey are already split.
func NewOutgoingDialog(txManager DialogTransactionManager, store *Store, localURI, remoteURI, localTarget types.URI) *sipDialog {
	id := DialogID{CallID: generateCallID(), LocalTag: generateDialogTag()}
	d := NewDialog(id, DialogDirectionUAC, txManager)
	d.localURI = localURI
	d.remoteURI = remoteURI
	d.localTarget = localTarget
	d.store = store
	return d
}

// NewIncomingDialog builds a UAS dialog for an inbound INVITE. Unlike the
// UAC side, both tags are known as soon as we decide to handle the
// request: the remote tag comes straight from the request's From header,
// and the local tag is generated immediately rather than waiting for the
// first response to go out, so no early/rekey phase is needed here.
func NewIncomingDialog(req types.Message, txManager DialogTransactionManager, localURI, remoteURI, localTarget types.URI) (*sipDialog, error) {
	key, err := GenerateDialogKey(req, true)
	if err != nil {
		return nil, err
	}

	id := DialogID{CallID: key.CallID, LocalTag: generateDialogTag(), RemoteTag: key.RemoteTag}
	d := NewDialog(id, DialogDirectionUAS, txManager)
	d.localURI = localURI
	d.remoteURI = remoteURI
	d.localTarget = localTarget

	if err := d.updateFromRequest(req); err != nil {
		return nil, err
	}
	return d, nil
}

// generateCallID and generateDialogTag use crypto/rand directly, the same
// idiom as transaction.GenerateBranch, rather than key.go's
// generateRandomString fallback (time-seeded, not suitable beyond its
// original placeholder use).

func generateCallID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b) + "@sipline"
}

func generateDialogTag() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
