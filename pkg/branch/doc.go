// Package branch implements the message branching engine: branch
// creation, active-path maintenance and sibling navigation over a
// parent-linked message forest.
//
// The engine maintains a single invariant above all others: among live
// siblings sharing a parent, at most one is flagged active, and
// following active children from any root yields exactly one displayed
// path. Every mutation runs as one all-or-nothing store transaction, so
// readers never observe a half-applied activation walk.
//
// Known limitation: branch ordinals are assigned by counting live
// siblings at creation time. Two creations racing under the same parent
// can observe the same count and produce duplicate ordinals. The store
// carries no uniqueness constraint on (parent, ordinal); display order
// may be ambiguous in that case, but the single-active-path invariant
// is never violated.
package branch
