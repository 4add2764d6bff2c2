package linkkit

import "errors"

var (
	// ErrInvalidCredentials indicates the identity provider rejected the
	// supplied email/password pair.
	ErrInvalidCredentials = errors.New("link.invalid_credentials")
	// ErrAccountNotFound indicates no profile record exists for an otherwise
	// valid identity, or a switch target email is not in the registry.
	ErrAccountNotFound = errors.New("link.account_not_found")
	// ErrAlreadyLinked indicates the authenticated identity is already present
	// in the pending link snapshot's registry.
	ErrAlreadyLinked = errors.New("link.already_linked")
	// ErrSessionExpired indicates both session activation and token refresh
	// were rejected for a cached account.
	ErrSessionExpired = errors.New("link.session_expired")
	// ErrAccountRemoved indicates the profile record vanished between caching
	// an account and switching to it.
	ErrAccountRemoved = errors.New("link.account_removed")
	// ErrNoCurrentSession indicates an operation requiring an active session
	// was invoked while signed out.
	ErrNoCurrentSession = errors.New("link.no_current_session")
)
