package dialog

import "errors"

// ErrReferPending is returned by SendRefer when a previous REFER on the
// same dialog hasn't resolved yet (RFC 3515 allows only one pending
// transfer per dialog at a time).
var ErrReferPending = errors.New("REFER already pending")
