package oat

import "fmt"

// Sentinel errors for the planning pass (construction-time inconsistencies),
// which abort the build with no partial-plan recovery, and for Write's
// state checks.
var (
	ErrClassDefMismatch   = fmt.Errorf("oat: class-def count mismatch between dex files and planned OatClass records")
	ErrBlobIdentityZero   = fmt.Errorf("oat: compiler returned a zero BlobID for a non-empty blob")
	ErrWriterNotBuilt     = fmt.Errorf("oat: writer has not completed the planning pass")
	ErrWriterAlreadyWrote = fmt.Errorf("oat: writer has already run the writing pass")
)

// PlanError wraps a construction-time inconsistency with the dex/class/method
// context in which it was discovered.
type PlanError struct {
	Dex         string
	ClassDefIdx int
	MethodIdx   int
	Err         error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("oat: plan error in dex %q class %d method %d: %v", e.Dex, e.ClassDefIdx, e.MethodIdx, e.Err)
}

func (e *PlanError) Unwrap() error { return e.Err }

// WriteError wraps an I/O failure from the writing pass with enough context
// to locate it: the stream location, and the dex/class/method being written
// when the failure occurred.
type WriteError struct {
	StreamLocation string
	Dex            string
	ClassDefIdx    int
	MethodIdx      int
	Err            error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("oat: write failed at %s (dex %q class %d method %d): %v",
		e.StreamLocation, e.Dex, e.ClassDefIdx, e.MethodIdx, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrSeekMismatch is wrapped into a WriteError when the writing pass's stream
// position diverges from the offset computed during planning. This can only
// indicate a writer bug: the two passes must walk records in identical order.
var ErrSeekMismatch = fmt.Errorf("oat: stream position does not match planned offset")
