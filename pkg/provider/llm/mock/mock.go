// Package mock provides a test double for the llm.Responder interface.
//
// Use Responder to feed scripted replies to consumers and to verify which
// system prompts and histories were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/aegisd/aegis/pkg/provider/llm"
)

// RespondCall records a single invocation of Respond.
type RespondCall struct {
	// Ctx is the context passed to Respond.
	Ctx context.Context
	// Req is the request passed to Respond.
	Req llm.Request
}

// Responder is a mock implementation of llm.Responder.
//
// If Script is non-empty, successive calls return its entries in order,
// repeating the last entry once exhausted. Otherwise every call returns
// Reply, Err.
type Responder struct {
	mu sync.Mutex

	// Reply is the default reply content for every call.
	Reply string

	// Err, if non-nil, is returned as the error from every call.
	Err error

	// Script, if non-empty, overrides Reply: call n returns Script[n]
	// (clamped to the last entry).
	Script []string

	// RespondCalls records every call in order.
	RespondCalls []RespondCall
}

// Respond records the call and returns the scripted reply.
func (r *Responder) Respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.RespondCalls)
	r.RespondCalls = append(r.RespondCalls, RespondCall{Ctx: ctx, Req: req})

	if r.Err != nil {
		return nil, r.Err
	}
	content := r.Reply
	if len(r.Script) > 0 {
		if n >= len(r.Script) {
			n = len(r.Script) - 1
		}
		content = r.Script[n]
	}
	return &llm.Response{Content: content}, nil
}

// Calls returns the number of recorded calls. Thread-safe.
func (r *Responder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RespondCalls)
}

// LastCall returns the most recent recorded call, or false when none exist.
func (r *Responder) LastCall() (RespondCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.RespondCalls) == 0 {
		return RespondCall{}, false
	}
	return r.RespondCalls[len(r.RespondCalls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (r *Responder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RespondCalls = nil
}

// Ensure Responder implements llm.Responder at compile time.
var _ llm.Responder = (*Responder)(nil)
