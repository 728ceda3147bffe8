package domain

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("...: %w", err)
// and test with errors.Is.
var (
	// ErrConfig is fatal at startup: bad policy file, duplicate skill name.
	ErrConfig = errors.New("configuration error")

	ErrValidation     = errors.New("validation failed")
	ErrPolicyDenied   = errors.New("denied by policy")
	ErrRateLimited    = errors.New("rate limit reached")
	ErrApprovalDenied = errors.New("approval denied")
	// ErrApprovalTimeout is an explicit outcome, distinct from a denial.
	ErrApprovalTimeout = errors.New("approval timed out")
	ErrExecution       = errors.New("execution failed")

	ErrApprovalNotFound  = errors.New("approval request not found")
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)
