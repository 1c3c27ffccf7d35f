// Package statemachine defines the pluggable application interface that
// the consensus core applies committed entries to, plus a reference
// key-value implementation.
package statemachine

// StateMachine receives exactly one Apply call per committed Data entry, in
// index order. Configuration and Noop entries are never passed to Apply.
// TakeSnapshot/RestoreSnapshot serialize and load the full application
// state to/from a file path chosen by the caller.
type StateMachine interface {
	Apply(payload []byte) error
	TakeSnapshot(path string) error
	RestoreSnapshot(path string) error
}
