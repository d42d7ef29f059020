package router

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind classifies a failed capability invocation.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network_error"
	KindRateLimit      ErrorKind = "rate_limit_error"
	KindAuthentication ErrorKind = "authentication_error"
	KindAPI            ErrorKind = "api_error"
	KindTool           ErrorKind = "tool_error"
	KindValidation     ErrorKind = "validation_error"
	KindTimeout        ErrorKind = "timeout_error"
	KindUnknown        ErrorKind = "unknown_error"
)

// Recovery strategies suggested per error kind.
const (
	StrategyRetryWithBackoff = "retry_with_backoff"
	StrategyRetry            = "retry"
	StrategyAbort            = "abort"
	StrategySkipStep         = "skip_step"
	StrategyAlternativeTool  = "alternative_tool"
	StrategySimplifyRequest  = "simplify_request"
)

// Classification pairs an error kind with its retry policy.
type Classification struct {
	// Kind is the classified error category.
	Kind ErrorKind
	// Retryable indicates whether a recovery attempt is worthwhile.
	Retryable bool
	// Strategy is the suggested recovery approach.
	Strategy string
	// StatusCode is the HTTP status extracted from the error, if any.
	StatusCode int
}

var statusCodeRe = regexp.MustCompile(`\b([1-5]\d{2})\b`)

// Classify inspects an error's message and embedded status code and assigns
// it a kind, retryability, and recovery strategy. Classification is pattern
// matching on the raw error: external executors do not share a typed error
// contract with the core.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Retryable: true, Strategy: StrategyRetry}
	}

	msg := strings.ToLower(err.Error())
	status := extractStatusCode(msg)

	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || status == 429:
		return Classification{Kind: KindRateLimit, Retryable: true, Strategy: StrategyRetryWithBackoff, StatusCode: status}

	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication") ||
		status == 401 || status == 403:
		return Classification{Kind: KindAuthentication, Retryable: false, Strategy: StrategyAbort, StatusCode: status}

	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return Classification{Kind: KindTimeout, Retryable: true, Strategy: StrategyRetryWithBackoff, StatusCode: status}

	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network") || strings.Contains(msg, "econnreset") ||
		strings.Contains(msg, "broken pipe"):
		return Classification{Kind: KindNetwork, Retryable: true, Strategy: StrategyRetryWithBackoff, StatusCode: status}

	case status >= 500:
		return Classification{Kind: KindAPI, Retryable: true, Strategy: StrategyRetryWithBackoff, StatusCode: status}

	case status == 408:
		return Classification{Kind: KindAPI, Retryable: true, Strategy: StrategyRetry, StatusCode: status}

	case status == 404:
		return Classification{Kind: KindAPI, Retryable: false, Strategy: StrategySkipStep, StatusCode: status}

	case status >= 400:
		return Classification{Kind: KindAPI, Retryable: false, Strategy: StrategyAbort, StatusCode: status}

	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation") ||
		strings.Contains(msg, "malformed") || strings.Contains(msg, "missing required"):
		return Classification{Kind: KindValidation, Retryable: false, Strategy: StrategySimplifyRequest, StatusCode: status}

	case strings.Contains(msg, "tool") || strings.Contains(msg, "capability"):
		return Classification{Kind: KindTool, Retryable: true, Strategy: StrategyAlternativeTool, StatusCode: status}

	default:
		return Classification{Kind: KindUnknown, Retryable: true, Strategy: StrategyRetry, StatusCode: status}
	}
}

// extractStatusCode pulls the first HTTP-looking status code out of a message.
func extractStatusCode(msg string) int {
	m := statusCodeRe.FindString(msg)
	if m == "" {
		return 0
	}
	// The regexp only matches 3-digit numbers in the 100-599 range.
	var code int
	fmt.Sscanf(m, "%d", &code)
	return code
}

// PathViolationError rejects an argument that escapes or leaves the allowed
// filesystem prefixes.
type PathViolationError struct {
	Field string
	Value string
	Why   string
}

func (e *PathViolationError) Error() string {
	return fmt.Sprintf("path argument %q rejected (%s): %s", e.Field, e.Why, e.Value)
}

// WorkflowViolationError rejects a capability call while an obligatory
// follow-up is pending.
type WorkflowViolationError struct {
	Requested string
	Required  string
	Reason    string
}

func (e *WorkflowViolationError) Error() string {
	return fmt.Sprintf("capability %q blocked: pending workflow requires %q next (%s)",
		e.Requested, e.Required, e.Reason)
}

// RateLimitError rejects a call that exceeds the caller's quota.
type RateLimitError struct {
	Capability string
	Detail     string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: %s", e.Capability, e.Detail)
}

// LoopDetectedError aborts a capability that keeps returning the same
// non-informative result.
type LoopDetectedError struct {
	Capability string
	Repeats    int
}

func (e *LoopDetectedError) Error() string {
	return fmt.Sprintf("loop detected: %q returned %d identical non-informative results", e.Capability, e.Repeats)
}
