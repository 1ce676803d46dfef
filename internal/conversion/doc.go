// Package conversion drives per-item re-encoding for a leased batch.
//
// Items are converted by a bounded pool of workers. Workers never touch shared
// counters; they send results over a channel to a single aggregator that
// records item state in the registry, keeps running totals and calls the
// progress sink. Progress is count-only: Completed never decreases, but items
// may finish out of submission order.
//
// Each codec call runs under a per-attempt timeout and is retried by a
// retry.Policy. A failed item does not stop its siblings. Cancelling the lease
// context stops new items from starting; items already running get a grace
// period before they are abandoned and reported as cancelled.
package conversion
