package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoteNotFound    = errors.New("note not found")
	ErrMediaNotFound   = errors.New("media item not found")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrEmptyNote       = errors.New("note content is empty")
	ErrEmptyTitle      = errors.New("title is empty")
	ErrEmptyMediaURL   = errors.New("media url is empty")
	ErrInvalidRole     = errors.New("invalid message role")
)
