// Package kernelerr defines the error taxonomy surfaced by the plan
// executor. Every error the scheduler raises wraps one of the sentinel
// values below so callers can classify failures with errors.Is while still
// getting the operation, node and tool context from Error().
package kernelerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison using errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrToolExecution  = errors.New("tool execution error")
	ErrTimeout        = errors.New("timeout error")
	ErrBudgetExceeded = errors.New("budget exceeded")

	// Evidence / memory errors.
	ErrInsufficientConfidence = errors.New("insufficient confidence")
	ErrMissingSupport         = errors.New("missing support")
	ErrTooManyContradictions  = errors.New("too many contradictions")
	ErrMissingProvenance      = errors.New("missing provenance")
	ErrInvalidTTL             = errors.New("invalid ttl")
	ErrCommunication          = errors.New("communication error")
	ErrStorageError           = errors.New("storage error")
	ErrEvidenceValidation     = errors.New("evidence validation error")

	// Policy errors.
	ErrInsufficientEvidenceConfidence = errors.New("insufficient evidence confidence")
	ErrPolicyViolation                = errors.New("policy violation")
)

// KernelError carries structured context around one of the sentinel errors
// above: the operation that failed, the node id, and the tool name where
// applicable.
type KernelError struct {
	Op      string // e.g. "scheduler.executeCall"
	Kind    string // e.g. "validation", "tool_execution"
	NodeID  string
	Tool    string
	Message string
	Err     error
}

func (e *KernelError) Error() string {
	parts := e.Message
	if parts == "" && e.Err != nil {
		parts = e.Err.Error()
	}
	switch {
	case e.NodeID != "" && e.Tool != "":
		return fmt.Sprintf("%s [node=%s tool=%s]: %s", e.Op, e.NodeID, e.Tool, parts)
	case e.NodeID != "":
		return fmt.Sprintf("%s [node=%s]: %s", e.Op, e.NodeID, parts)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, parts)
	default:
		return parts
	}
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

func newErr(sentinel error, kind, op, nodeID, tool, msg string) *KernelError {
	return &KernelError{Op: op, Kind: kind, NodeID: nodeID, Tool: tool, Message: msg, Err: sentinel}
}

// Validation builds a ValidationError: plan structure, a required argument,
// a type mismatch, a missing dependency, or a cycle.
func Validation(op, nodeID, msg string) *KernelError {
	return newErr(ErrValidation, "validation", op, nodeID, "", msg)
}

// ToolExecution builds a ToolExecutionError: HTTP/transport failure,
// non-2xx response, an {error:...} payload, or a policy-blocked invocation.
func ToolExecution(op, nodeID, tool, msg string) *KernelError {
	return newErr(ErrToolExecution, "tool_execution", op, nodeID, tool, msg)
}

// Timeout builds a TimeoutError: the 30s per-invocation cap was exceeded.
func Timeout(op, nodeID, tool, msg string) *KernelError {
	return newErr(ErrTimeout, "timeout", op, nodeID, tool, msg)
}

// BudgetExceeded builds a BudgetExceeded error: a latency or cost total
// exceeded a signal after a successful invocation.
func BudgetExceeded(op, msg string) *KernelError {
	return newErr(ErrBudgetExceeded, "budget_exceeded", op, "", "", msg)
}

func InsufficientConfidence(op, msg string) *KernelError {
	return newErr(ErrInsufficientConfidence, "insufficient_confidence", op, "", "", msg)
}

func MissingSupport(op, msg string) *KernelError {
	return newErr(ErrMissingSupport, "missing_support", op, "", "", msg)
}

func TooManyContradictions(op, msg string) *KernelError {
	return newErr(ErrTooManyContradictions, "too_many_contradictions", op, "", "", msg)
}

func MissingProvenance(op, nodeID, msg string) *KernelError {
	return newErr(ErrMissingProvenance, "missing_provenance", op, nodeID, "", msg)
}

func InvalidTTL(op, nodeID, msg string) *KernelError {
	return newErr(ErrInvalidTTL, "invalid_ttl", op, nodeID, "", msg)
}

func Communication(op, tool, msg string) *KernelError {
	return newErr(ErrCommunication, "communication", op, "", tool, msg)
}

func StorageError(op, msg string) *KernelError {
	return newErr(ErrStorageError, "storage_error", op, "", "", msg)
}

func EvidenceValidation(op, msg string) *KernelError {
	return newErr(ErrEvidenceValidation, "evidence_validation", op, "", "", msg)
}

func InsufficientEvidenceConfidence(op, msg string) *KernelError {
	return newErr(ErrInsufficientEvidenceConfidence, "insufficient_evidence_confidence", op, "", "", msg)
}

func PolicyViolation(op, nodeID, tool, msg string) *KernelError {
	return newErr(ErrPolicyViolation, "policy_violation", op, nodeID, tool, msg)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsToolExecution reports whether err is (or wraps) a ToolExecutionError.
func IsToolExecution(err error) bool { return errors.Is(err, ErrToolExecution) }

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsBudgetExceeded reports whether err is (or wraps) a BudgetExceeded error.
func IsBudgetExceeded(err error) bool { return errors.Is(err, ErrBudgetExceeded) }
