// Package responder holds the specialized responders that answer a
// routed message and the registry that maps route labels to them.
package responder

import (
	"context"

	"github.com/nugget/switchboard/internal/router"
)

// Request is what a responder needs to answer one message.
type Request struct {
	Message string
	UserKey string

	// History is the formatted conversation block, or "" when the
	// session has no prior turns.
	History string

	Label router.Label
}

// Result is a responder's answer. A failed result carries Err and is
// turned into an escalation by the caller; responders never panic or
// return a partial answer alongside an error.
type Result struct {
	Success  bool
	Text     string
	Metadata map[string]any
	Err      error
}

// Responder answers routed messages.
type Responder interface {
	// Name is the agent label reported for answers from this responder.
	Name() string

	Respond(ctx context.Context, req Request) Result
}

func success(text string, metadata map[string]any) Result {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Result{Success: true, Text: text, Metadata: metadata}
}

func failure(err error, metadata map[string]any) Result {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Result{Success: false, Err: err, Metadata: metadata}
}

// Registry maps route labels to responders with a defined fallback.
type Registry struct {
	table    map[router.Label]Responder
	fallback Responder
}

// NewRegistry builds the label table. KNOWLEDGE and GENERAL go to
// knowledge and SUPPORT goes to support. Labels without an entry
// resolve to the GENERAL responder.
func NewRegistry(knowledge, support Responder) *Registry {
	return &Registry{
		table: map[router.Label]Responder{
			router.LabelKnowledge: knowledge,
			router.LabelGeneral:   knowledge,
			router.LabelSupport:   support,
		},
		fallback: knowledge,
	}
}

// Lookup returns the responder for label.
func (r *Registry) Lookup(label router.Label) Responder {
	if resp, ok := r.table[label]; ok && resp != nil {
		return resp
	}
	return r.fallback
}

// Routes returns the responder name for every mapped label.
func (r *Registry) Routes() map[router.Label]string {
	out := make(map[router.Label]string, len(r.table))
	for label, resp := range r.table {
		if resp != nil {
			out[label] = resp.Name()
		}
	}
	return out
}
