// Package membership tracks which users are watching which stream.
//
// Membership is a set per stream, not a counter, so redundant joins and
// leaves and a disconnect in the middle of either never skew the count. The
// Registry is the only writer of viewer counts: every count change is pushed
// into a CountSink (the entity store) while the registry lock is held, so the
// stored count and the set cardinality cannot diverge.
package membership
