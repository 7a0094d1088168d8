// Package rpc implements the tag -> handler-chain dispatcher described in
// §4.1: declarative registration composed through inheritance-like chains,
// so a role built atop another inherits its parent's handlers and may add
// more (or additional handlers for the same tag).
package rpc

import (
	"context"

	"github.com/metricq/metricq-go/internal/mqerr"
)

// Args is the JSON-object-shaped argument/return bag RPC handlers exchange.
type Args map[string]interface{}

// Handler answers one RPC tag. A nil or empty Args return means "no value";
// at most one handler registered for a tag may return a non-empty Args.
type Handler func(ctx context.Context, args Args) (Args, error)

// Registry is a tag -> ordered handler chain. The zero value is ready to
// use. Registries are built through Extend, which mimics the class-chain
// composition of the source implementation without metaclasses: a derived
// registry carries every handler the base registered, in the same order,
// plus whatever the derived role adds.
type Registry struct {
	handlers map[string][]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// Extend returns a new Registry seeded with every handler of base (in
// registration order), ready to receive additional, derived-role handlers.
// base is never mutated.
func (r *Registry) Extend() *Registry {
	child := NewRegistry()
	if r == nil {
		return child
	}
	for tag, hs := range r.handlers {
		child.handlers[tag] = append([]Handler(nil), hs...)
	}
	return child
}

// On registers an additional handler for tag, appended after any handlers
// already registered (including inherited ones), so base-to-derived order is
// preserved.
func (r *Registry) On(tag string, h Handler) {
	if r.handlers == nil {
		r.handlers = make(map[string][]Handler)
	}
	r.handlers[tag] = append(r.handlers[tag], h)
}

// Tags reports every tag with at least one handler.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		tags = append(tags, t)
	}
	return tags
}

// Dispatch invokes every handler registered for tag, in base-to-derived
// order. An unknown tag fails with UnknownRpc. With exactly one handler, its
// return is the RPC's return. With multiple handlers, all are invoked
// (sequentially: the dispatcher awaits each before calling the next, §5);
// at most one may return a non-empty Args, or dispatch fails with
// AmbiguousRpcReturn.
func (r *Registry) Dispatch(ctx context.Context, tag string, args Args) (Args, error) {
	hs := r.handlers[tag]
	if len(hs) == 0 {
		return nil, &mqerr.UnknownRpc{Tag: tag}
	}

	var result Args
	haveResult := false
	for _, h := range hs {
		ret, err := invokeHandler(ctx, tag, h, args)
		if err != nil {
			return nil, err
		}
		if len(ret) == 0 {
			continue
		}
		if haveResult {
			return nil, &mqerr.AmbiguousRpcReturn{Tag: tag}
		}
		result = ret
		haveResult = true
	}
	return result, nil
}

// invokeHandler calls h, recovering a panic into a HandlerPanic error so one
// bad handler can't take down the delivery-read loop it's invoked from.
func invokeHandler(ctx context.Context, tag string, h Handler, args Args) (ret Args, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret, err = nil, &mqerr.HandlerPanic{Tag: tag, Value: r}
		}
	}()
	return h(ctx, args)
}
