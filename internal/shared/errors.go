package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Item store errors
	ErrNotFound        = fmt.Errorf("not found")
	ErrDuplicateKey    = fmt.Errorf("duplicate stable key")
	ErrNotClaimable    = fmt.Errorf("item not claimable")
	ErrNoEligibleItems = fmt.Errorf("no eligible items")
	ErrStateConflict   = fmt.Errorf("state conflict")

	// Pipeline errors
	ErrParse              = fmt.Errorf("catalog parse error")
	ErrIntegrity          = fmt.Errorf("integrity check failed")
	ErrAlreadyRunning     = fmt.Errorf("run already in progress")
	ErrNotRunning         = fmt.Errorf("no run in progress")
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrUnknownSource      = fmt.Errorf("unknown source")

	// Input validation errors
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrMissingArgument      = fmt.Errorf("missing required argument")
	ErrInvalidArgument      = fmt.Errorf("invalid argument")
	ErrConfirmationRequired = fmt.Errorf("confirmation required")
)
