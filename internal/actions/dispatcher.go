package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher executes calls against a Registry and records every invocation
// to the AuditSink.
type Dispatcher struct {
	registry *Registry
	audit    AuditSink
}

// NewDispatcher creates a dispatcher. audit may be nil.
func NewDispatcher(registry *Registry, audit AuditSink) *Dispatcher {
	return &Dispatcher{registry: registry, audit: audit}
}

// Descriptors returns the actions the engine may request.
func (d *Dispatcher) Descriptors() []Descriptor {
	return d.registry.Descriptors()
}

// Dispatch runs one call. Errors are ErrUnknownAction, *ArgumentError or
// whatever the handler returned (notably *DeliveryError).
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (string, error) {
	start := time.Now()

	var (
		out string
		err error
	)
	desc, ok := d.registry.Lookup(call.Name)
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownAction, call.Name)
	} else {
		call.Args, err = normalizeArgs(desc, call.Args)
		if err == nil {
			out, err = desc.handler(ctx, call)
		}
	}

	d.record(ctx, call, err, time.Since(start))
	return out, err
}

func (d *Dispatcher) record(ctx context.Context, call Call, callErr error, elapsed time.Duration) {
	if d.audit == nil {
		return
	}

	payload := map[string]any{
		"action":      call.Name,
		"call_id":     call.ID,
		"args":        call.Args,
		"ok":          callErr == nil,
		"duration_ms": elapsed.Milliseconds(),
	}
	if callErr != nil {
		payload["error"] = callErr.Error()
	}

	if err := d.audit.Append(ctx, call.ConversationID, EventToolInvoked, payload); err != nil {
		log.Warn().
			Err(err).
			Int64("conversation_id", call.ConversationID).
			Str("action", call.Name).
			Msg("failed to record tool invocation")
	}
}

// normalizeArgs checks required arguments, applies defaults and coerces values
// to the declared scalar types. Undeclared arguments are dropped.
func normalizeArgs(desc Descriptor, in Args) (Args, error) {
	out := make(Args, len(desc.Params))
	for _, p := range desc.Params {
		raw, present := in[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, &ArgumentError{Action: desc.Name, Param: p.Name, Reason: "is required"}
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		v, err := coerce(p.Type, raw)
		if err != nil {
			return nil, &ArgumentError{Action: desc.Name, Param: p.Name, Reason: err.Error()}
		}
		out[p.Name] = v
	}
	return out, nil
}

func coerce(t ParamType, raw any) (any, error) {
	switch t {
	case TypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case float64, int, int64, bool:
			return fmt.Sprint(v), nil
		}
	case TypeInteger:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == math.Trunc(v) {
				return int(v), nil
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), nil
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, nil
			}
		}
	case TypeNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
		}
	case TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("must be %s, got %T", t, raw)
}
