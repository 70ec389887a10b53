// Package region manages pools of instance slots. A region reserves the
// address space for a fixed number of instances up front; creating an
// instance claims a slot and commits only the pages its module needs, and
// dropping one decommits its pages and returns the slot to the pool. The
// reservation itself never moves, so every instance a region ever backs
// keeps the same layout guarantees.
package region
