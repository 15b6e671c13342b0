// Package cleanup implements the partial-download recovery policy
// (spec.md §4.9, Testable Property 5): a pure function of
// {stat(targetPath), expectedSize, bytesWritten, reason} deciding
// whether a partially-written download file should be retained or
// deleted after a non-success termination.
package cleanup

import (
	"errors"
	"fmt"
	"os"
)

// Reason is why the stream download terminated without success.
type Reason string

const (
	ReasonCancelled Reason = "cancelled"
	ReasonError     Reason = "error"
)

// Decision is the outcome of the cleanup policy.
type Decision string

const (
	DecisionMissing  Decision = "missing"
	DecisionRetained Decision = "retained"
	DecisionDeleted  Decision = "deleted"
)

// sizeTolerance is the byte slack under which a short write is treated
// as "close enough to complete" rather than a genuine partial download
// (spec.md §4.9 step 2).
const sizeTolerance = 512

// Result is the cleanup decision plus whether it was made without firm
// evidence (expectedSize unknown).
type Result struct {
	Decision  Decision
	Uncertain bool
}

// StatFunc returns the size in bytes of the file at path, or an error
// satisfying os.IsNotExist when it is missing. Tests inject a fake;
// production code passes a func backed by os.Stat.
type StatFunc func(path string) (size int64, err error)

// UnlinkFunc removes the file at path. ENOENT is treated as success by
// the caller (Decide already maps it to DecisionDeleted without error).
type UnlinkFunc func(path string) error

// OSStat adapts os.Stat to StatFunc.
func OSStat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Decide applies the retain-or-delete policy described in spec.md §4.9.
func Decide(stat StatFunc, unlink UnlinkFunc, targetPath string, expectedSize *uint64, bytesWritten uint64, reason Reason) (Result, error) {
	actualSize, err := stat(targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Decision: DecisionMissing}, nil
		}
		return Result{}, fmt.Errorf("cleanup: stat %s: %w", targetPath, err)
	}

	if expectedSize == nil {
		// No evidence of incompleteness: never delete (spec.md §4.9 step 4).
		return Result{Decision: DecisionRetained, Uncertain: true}, nil
	}

	expected := int64(*expectedSize)
	gap := expected - actualSize
	gapFromWritten := expected - int64(bytesWritten)

	if gap <= sizeTolerance || gapFromWritten <= sizeTolerance {
		return Result{Decision: DecisionRetained}, nil
	}

	if err := unlink(targetPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("cleanup: unlink %s: %w", targetPath, err)
	}
	return Result{Decision: DecisionDeleted}, nil
}
