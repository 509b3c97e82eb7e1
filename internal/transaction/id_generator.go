package transaction

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// idCounter is a process-wide monotonic counter mixed into every generated
// transaction ID, on top of the timestamp and random suffix, so two IDs
// minted in the same nanosecond never collide.
var idCounter uint64

// GenerateTransactionID returns a unique transaction ID — distinct from the
// RFC 3261 TransactionKey, which is derived from the message itself; this
// ID only needs to be unique within one Manager's lifetime for logging and
// lookup by ID (Store.GetByID).
func GenerateTransactionID() string {
	timestamp := time.Now().UnixNano()
	counter := atomic.AddUint64(&idCounter, 1)

	randomBytes := make([]byte, 4)
	rand.Read(randomBytes)

	return fmt.Sprintf("%x-%d-%s", timestamp, counter, hex.EncodeToString(randomBytes))
}
