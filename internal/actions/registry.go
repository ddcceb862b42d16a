package actions

import (
	"context"
	"fmt"
	"sort"
)

// Names of the actions the reasoning engine may request.
const (
	SearchKnowledge = "search-knowledge"
	SendReply       = "send-reply"
	LogEvent        = "log-event"
)

// ParamType is the scalar type of an action argument.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Param declares one argument of an action.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any
}

// Args maps argument names to scalar values.
type Args map[string]any

// Call is a single requested invocation.
type Call struct {
	ID             string
	Name           string
	Args           Args
	ConversationID int64

	// Outbox, when set, receives send-reply requests instead of the Responder.
	Outbox Outbox
	// SentLog, when set, records replies that went straight to the Responder.
	SentLog SentLog
}

// Handler executes an action after its arguments have been checked.
type Handler func(ctx context.Context, call Call) (string, error)

// Descriptor is a registered action.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	Returns     string

	handler Handler
}

// NewDescriptor binds a handler to an action declaration.
func NewDescriptor(name, description, returns string, params []Param, handler Handler) Descriptor {
	return Descriptor{
		Name:        name,
		Description: description,
		Params:      params,
		Returns:     returns,
		handler:     handler,
	}
}

// Registry is the closed set of actions. It is read-only once built and safe
// for concurrent use.
type Registry struct {
	byName map[string]Descriptor
	names  []string
}

// NewRegistry builds a registry. Duplicate names and missing handlers are rejected.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("action with empty name")
		}
		if d.handler == nil {
			return nil, fmt.Errorf("action %s has no handler", d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("action %s registered twice", d.Name)
		}
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Descriptors returns every registered action ordered by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}
