// Package api provides the language-model backend used by intent
// classification and the ReAct controller. Failures here always fall back to
// local logic in the callers; the backend never aborts an orchestrator run.
package api

import (
	"context"

	"overseer/internal/capability"
)

// Message is one turn of a model conversation.
type Message struct {
	// Role is "user" or "assistant".
	Role string
	// Content is the plain-text content of the turn.
	Content string
	// Calls holds capability invocations requested in an assistant turn.
	Calls []Call
	// Results holds capability results carried in a user turn.
	Results []CallResult
}

// Call is a capability invocation requested by the model.
type Call struct {
	// ID is the backend-assigned identifier, echoed back in the result.
	ID string
	// Name is the capability name.
	Name string
	// Args are the invocation arguments.
	Args capability.Args
}

// CallResult carries a capability result back to the model.
type CallResult struct {
	// CallID matches the Call.ID this result answers.
	CallID string
	// Content is the rendered result.
	Content string
	// IsError marks a failed invocation.
	IsError bool
}

// CapabilitySpec describes one capability to the model.
type CapabilitySpec struct {
	// Name is the capability name.
	Name string
	// Description tells the model what the capability does.
	Description string
	// Parameters is a JSON-schema properties map for the arguments.
	Parameters map[string]any
	// Required lists the mandatory parameter names.
	Required []string
}

// Request is one completion request.
type Request struct {
	// System is the system prompt.
	System string
	// Messages is the conversation so far.
	Messages []Message
	// Capabilities are the specs offered to the model, if any.
	Capabilities []CapabilitySpec
	// MaxTokens bounds the response size; 0 uses the backend default.
	MaxTokens int
}

// Turn is one assistant response.
type Turn struct {
	// Text is the concatenated text output of the turn.
	Text string
	// Calls are the capability invocations the model requested.
	Calls []Call
	// Done is true when the model ended its turn without requesting calls.
	Done bool
	// InputTokens and OutputTokens report usage for this call.
	InputTokens  int64
	OutputTokens int64
}

// Backend is the language-model collaborator. Implementations must be safe
// for concurrent use.
type Backend interface {
	Complete(ctx context.Context, req Request) (*Turn, error)
}
