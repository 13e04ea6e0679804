package interfaces

import "errors"

// Store lookup and uniqueness errors shared across implementations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrRoomNotFound  = errors.New("room not found")
	ErrUsernameTaken = errors.New("username already registered")
	ErrEmailTaken    = errors.New("email already registered")
	ErrRoomNameTaken = errors.New("room name already exists")
)
