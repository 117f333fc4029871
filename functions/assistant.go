package functions

import (
	"fmt"

	"github.com/room4-2/livebridge/gemini"

	"google.golang.org/genai"
)

// Assistant tools. They only steer how the model answers, so every call is
// acknowledged silently and the model keeps talking.
var assistantTools = []struct {
	name        string
	description string
}{
	{"ask_clarifying_question", "Ask the user a clarifying question when their request is ambiguous or lacks necessary detail."},
	{"provide_step_by_step_solution", "Provide a structured, step-by-step explanation or solution for technical or complex problems."},
	{"summarize_response", "Summarize key points in a clear and concise format when information is lengthy or complex."},
	{"adapt_tone", "Adjust communication tone based on user context (casual, professional, technical, beginner-friendly)."},
	{"suggest_best_practices", "Provide best practices, improvements, or optimizations related to the user's request."},
	{"handle_unknown_safely", "Acknowledge limitations when information is unknown and suggest alternative approaches or next steps."},
	{"generate_structured_output", "Generate structured output such as JSON, Markdown, or formatted documentation when requested."},
}

// Declarations returns the function declarations for Gemini
func Declarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(assistantTools))
	for _, tool := range assistantTools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.name,
			Description: tool.description,
			Behavior:    genai.BehaviorNonBlocking,
		})
	}
	return decls
}

// Tools wraps the declarations for a Live connect config
func Tools() []*genai.Tool {
	return []*genai.Tool{{FunctionDeclarations: Declarations()}}
}

// Known reports whether name is one of our tools
func Known(name string) bool {
	for _, tool := range assistantTools {
		if tool.name == name {
			return true
		}
	}
	return false
}

// Respond builds the response for each call, in call order
func Respond(calls []gemini.ToolCall) []gemini.ToolResponse {
	responses := make([]gemini.ToolResponse, 0, len(calls))
	for _, call := range calls {
		var response map[string]any
		if Known(call.Name) {
			response = map[string]any{"result": "ok", "scheduling": "SILENT"}
		} else {
			response = map[string]any{"error": fmt.Sprintf("Unknown function: %s", call.Name)}
		}
		responses = append(responses, gemini.ToolResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: response,
		})
	}
	return responses
}
