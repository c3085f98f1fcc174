package store

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrInvalidWindow = errors.New("invalid report window")
)
