package reduce

import "github.com/pkg/errors"

// ErrPoisoned is wrapped around the first error observed by a Task --
// either an upstream argument future settling with an error, or the
// reduction operator panicking -- and becomes the error every subsequent
// argument is discarded with, and the error the task's result future
// settles with.
var ErrPoisoned = errors.New("reduce: task poisoned")

func poisonError(cause error) error {
	return errors.Wrapf(ErrPoisoned, "%s", cause)
}

func panicToError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return errors.Errorf("reduce: operator panicked: %v", recovered)
}
