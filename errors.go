package unichat

import "fmt"

// ============================================================================
// Error Taxonomy
// ============================================================================

// AuthError indicates a rejected or expired credential. It is never retried
// silently; callers are expected to force a re-login.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "unichat: authentication rejected"
	}
	return "unichat: authentication rejected: " + e.Reason
}

// NetworkError wraps a transport failure or timeout. REST timeouts fail into
// this path so callers see a single retryable error kind.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("unichat: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a local, pre-network rejection. Nothing is sent to the
// server when one of these is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unichat: invalid %s: %s", e.Field, e.Reason)
}

// DeliveryError indicates the outbound command queue overflowed while the
// channel was down. The command is dropped and surfaced to the caller, never
// lost silently.
type DeliveryError struct {
	Event  string
	Queued int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("unichat: dropped %q: send queue full (%d queued)", e.Event, e.Queued)
}

// SyncError indicates an optimistic local mutation was rejected by the server.
// The specific mutation has been rolled back by the time this is returned.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("unichat: %s rejected, rolled back: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
