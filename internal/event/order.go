package event

import "sort"

// SortTotalOrder sorts envelopes into the replay total order:
//
//  1. lower sum(clock.values()) sorts earlier;
//  2. ties broken by lexicographic ISO-8601 timestamp;
//  3. further ties broken by lexicographic device identifier.
//
// No separate causal comparison is made: an envelope whose clock is
// causally before another's always has a strictly lower sum, so rule 1
// already places it first.
//
// Every peer must apply these three tiebreakers identically for the
// materialized state to converge (P7).
func SortTotalOrder(envelopes []Envelope) {
	sort.SliceStable(envelopes, func(i, j int) bool {
		a, b := envelopes[i], envelopes[j]
		if sa, sb := a.Clock.Sum(), b.Clock.Sum(); sa != sb {
			return sa < sb
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Device < b.Device
	})
}
