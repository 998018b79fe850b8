package lib

import "errors"

// Configuration errors surfaced at construction, before any remote call.
var (
	ErrMissingRoleSessionName = errors.New("you must specify a value for RoleSessionName")
	ErrMissingRoleARN         = errors.New("you must specify a value for RoleARN or RoleARNFile")
	ErrMissingTokenSource     = errors.New("you must specify a web identity token, a token file, or a refresh token")
	ErrConflictingTokenModes  = errors.New("web identity token and refresh token configuration are mutually exclusive")
	ErrMissingIdPURL          = errors.New("you must specify an IdPURL to use a refresh token")
)
