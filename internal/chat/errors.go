package chat

import (
	"errors"
	"fmt"

	"github.com/chatppt/chatppt/internal/sessions"
	"github.com/chatppt/chatppt/internal/transport"
)

var (
	// ErrGenerationInProgress is returned by actions that need the assistant to be idle
	ErrGenerationInProgress = errors.New("a response is still being generated")
	// ErrRagUnavailable is returned by attachment actions when no RAG client is configured
	ErrRagUnavailable = errors.New("reference documents are not available")
)

// ExtractionError represents an assistant response without the structured data the action needed
type ExtractionError struct {
	Type    string
	Message string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction error [%s]: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction error [%s]: %s", e.Type, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// Extraction error types
const (
	ExtractionErrorTypeOutline = "outline_parse"
	ExtractionErrorTypeSlides  = "slides_parse"
)

// NewOutlineParseError creates an error for an assistant message without a usable outline
func NewOutlineParseError(cause error) *ExtractionError {
	return &ExtractionError{
		Type:    ExtractionErrorTypeOutline,
		Message: "Failed to parse the outline. Please ask the assistant to regenerate it.",
		Cause:   cause,
	}
}

// NewSlidesParseError creates an error for a slide array that could not be decoded
func NewSlidesParseError(cause error) *ExtractionError {
	return &ExtractionError{
		Type:    ExtractionErrorTypeSlides,
		Message: "The slides in the last response could not be read. Please ask the assistant to regenerate them.",
		Cause:   cause,
	}
}

// PhaseError represents an action that is not valid in the current phase
type PhaseError struct {
	Operation string
	Phase     sessions.Phase
	Message   string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase error for %s in phase %s: %s", e.Operation, e.Phase, e.Message)
}

// NewPhaseError creates an error for an action attempted in the wrong phase
func NewPhaseError(operation string, phase sessions.Phase, message string) *PhaseError {
	return &PhaseError{
		Operation: operation,
		Phase:     phase,
		Message:   message,
	}
}

// userMessage renders a transport failure for display in the conversation
func userMessage(err error) string {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return err.Error()
	}

	switch terr.Type {
	case transport.ErrorTypeNetwork:
		return "Cannot reach the generation service. Check that the backend is running."
	case transport.ErrorTypeStatus:
		return fmt.Sprintf("The generation service returned %d: %s", terr.StatusCode, terr.Message)
	case transport.ErrorTypeStream, transport.ErrorTypeTaskFailed:
		return terr.Message
	default:
		return fmt.Sprintf("Unexpected response from the generation service: %s", terr.Message)
	}
}
