package cache

import (
	"errors"

	"github.com/blockvault/hub/driver"
	"github.com/blockvault/hub/herr"
)

// herrWrap maps a driver error to the hub's error taxonomy (spec.md §4.7:
// "404 → doesNotExist; 412 → preconditionFailed; all others → generic I/O
// error").
func herrWrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrNotFound) {
		return herr.DoesNotExist("%v", err)
	}
	var pe *driver.PreconditionError
	if errors.As(err, &pe) {
		return herr.Precondition(pe.CurrentETag)
	}
	return herr.ServerError("%v", err)
}
