package domain

import "errors"

var (
	ErrMalformed   = errors.New("malformed event")
	ErrUnavailable = errors.New("target unavailable")
	ErrBusy        = errors.New("target busy")
	ErrBlocked     = errors.New("caller blocked")
	ErrNoSession   = errors.New("no call session")
	ErrSelfCall    = errors.New("cannot call yourself")
	ErrStaleRead   = errors.New("read watermark did not advance")
)
