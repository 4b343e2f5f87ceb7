// Package hashchain links events into a verifiable hash chain.
//
// Chaining is an optional, testable property of the log, not a security
// boundary. When enabled, each event carries a hash derived from the previous
// event's chain hash and its own canonical payload hash; Verify re-walks a
// log slice and recomputes every link.
package hashchain

import (
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/canonicalize"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

// Genesis is the chain value preceding the first event.
const Genesis = "genesis"

// Next computes the chain hash for e given the previous event's chain hash.
func Next(prevChain string, e *events.Event) (string, error) {
	payloadHash, err := e.PayloadHash()
	if err != nil {
		return "", fmt.Errorf("payload hash: %w", err)
	}
	link, err := canonicalize.JCS(map[string]interface{}{
		"prev":        prevChain,
		"payloadHash": payloadHash,
		"eventId":     e.EventID,
		"type":        e.Type,
		"aggregateId": e.AggregateID,
	})
	if err != nil {
		return "", fmt.Errorf("chain link: %w", err)
	}
	return canonicalize.Hash(link), nil
}

// Verify walks evs (in sequence order, starting from the first chained event)
// and recomputes every link. The first event is verified against Genesis.
// Returns the index of the first broken link, or -1 when the chain holds.
func Verify(evs []*events.Event) (int, error) {
	prev := Genesis
	for i, e := range evs {
		want, err := Next(prev, e)
		if err != nil {
			return i, err
		}
		if e.HashChain != want {
			return i, fmt.Errorf("chain broken at sequence %d: have %s want %s", e.Sequence, e.HashChain, want)
		}
		prev = e.HashChain
	}
	return -1, nil
}
