package types

import "errors"

// Content validation errors. Both are message-recoverable: the sender
// gets an error frame and the connection stays open.
var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds length limit")
)
