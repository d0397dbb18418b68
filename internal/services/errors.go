package services

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidResetCode   = errors.New("invalid or expired reset code")
	ErrProfileNotFound    = errors.New("profile not found")

	ErrCircleNotFound    = errors.New("circle not found")
	ErrNotMember         = errors.New("not a member of this circle")
	ErrNotAdmin          = errors.New("only circle admins can do this")
	ErrInvalidInvitation = errors.New("invalid invitation code")
	ErrAlreadyMember     = errors.New("already a member of this circle")

	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrAvatarNotUploaded      = errors.New("avatar has not been uploaded")
	ErrAvatarTooLarge         = errors.New("avatar is too large")
)
