package realtime

import (
	"time"

	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/identity/ids"
)

// NewConnID returns a ULID used as connection id (the "socketId" clients see in presence).
func NewConnID(now time.Time) string {
	return newULIDOrRandom(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by creation time, which keeps ack correlation readable in logs.
func NewEnvelopeID(now time.Time) string {
	return newULIDOrRandom(now)
}

func newULIDOrRandom(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return NewRandomHex(13)
	}
	return id
}
