package luci

import "errors"

var (
	// ErrInvalidToken is returned when the router rejects the session token.
	ErrInvalidToken = errors.New("invalid luci token")
	// ErrInvalidLogin is returned when the router answers with a null result:
	// rejected credentials at login, or a get on a missing option.
	ErrInvalidLogin = errors.New("invalid luci login")
	// ErrRPC is returned for any other error reported by the router.
	ErrRPC = errors.New("luci rpc error")
)
