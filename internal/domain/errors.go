package domain

import "errors"

// Error taxonomy for the orchestration engine. Callers match with
// errors.Is; wrap sites add context with fmt.Errorf("...: %w", err).
var (
	// ErrUnsupportedChannel: no adapter registered for the channel type.
	ErrUnsupportedChannel = errors.New("unsupported channel type")

	// ErrChannelDelivery: the platform rejected or failed an outbound send.
	ErrChannelDelivery = errors.New("channel delivery failed")

	// ErrUnsupportedPayload: an inbound event shape the adapter cannot
	// normalize. Raised instead of silently dropping data.
	ErrUnsupportedPayload = errors.New("unsupported payload shape")

	// ErrNoContent: an outbound send with neither text nor attachments.
	ErrNoContent = errors.New("no content to send")

	// ErrUnsupportedProvider: agent references a completion provider that
	// is not configured.
	ErrUnsupportedProvider = errors.New("unsupported completion provider")

	// ErrProvider: transport or auth failure from the completion backend.
	ErrProvider = errors.New("completion provider error")

	// ErrMalformedArguments: a tool call whose argument payload is not
	// valid JSON.
	ErrMalformedArguments = errors.New("malformed tool arguments")

	// ErrCredential: credential decryption failed. Always surfaced, never
	// silently defaulted.
	ErrCredential = errors.New("credential decryption failed")

	// ErrToolExecution: a tool server call failed. Captured as the tool's
	// result payload, never an orchestrator failure.
	ErrToolExecution = errors.New("tool execution failed")
)
