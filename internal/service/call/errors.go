package call

import "errors"

var (
	// ErrTransportDisconnect means the gateway socket went away without a
	// stop message. The call ends normally.
	ErrTransportDisconnect = errors.New("gateway transport disconnected")
	// ErrErrorBudgetExceeded means the call hit more recoverable errors than
	// allowed. The call ends as FAILED.
	ErrErrorBudgetExceeded = errors.New("call error budget exceeded")
)
