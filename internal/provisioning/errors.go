package provisioning

import "fmt"

// The workflow error taxonomy. Step failures are wrapped so callers can tell
// an invalid request (ValidationError, ConfigurationError) from a backend
// failure (InfrastructureError) or a deployed-but-broken instance
// (VerificationError).

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("prerequisite validation failed: %s", e.Reason)
}

type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid provisioning configuration: %s", e.Reason)
}

type InfrastructureError struct {
	Step   string
	Reason string
	Err    error
}

func (e *InfrastructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Step, e.Reason)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deployment verification failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("deployment verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }
