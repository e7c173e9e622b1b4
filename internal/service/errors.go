package service

import (
	"errors"
	"fmt"
	"time"

	"anpr-session-service/internal/domain/anpr"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage failure")
)

// StorageError reports a session store failure together with what was being
// applied, so the event can be reconciled by hand.
type StorageError struct {
	Op        string
	Identity  anpr.Identity
	Direction anpr.Direction
	EventTime time.Time
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s (organization=%s sub_id=%s reg_num=%s direction=%s event_time=%s): %v",
		e.Op, e.Identity.Organization, e.Identity.SubID, e.Identity.RegNum,
		e.Direction, e.EventTime.Format(time.RFC3339), e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
