package valuecache

import (
	"context"
	"time"
)

// Hooks defines event callbacks for the background load job.
// Hooks run on the job's goroutine without the manager lock held.
type Hooks struct {
	// OnLoad is called after an attribute load finished (fully or partially)
	OnLoad []OnLoadHook

	// OnCatchUp is called after the change watermark advanced
	OnCatchUp []OnCatchUpHook

	// OnAbort is called when a job stops early without error
	OnAbort []OnAbortHook

	// OnLoadError is called when an attribute load failed
	OnLoadError []OnLoadErrorHook
}

// LoadEvent describes one attribute load.
type LoadEvent struct {
	Attribute string
	Requested int
	Loaded    int
	Duration  time.Duration
}

// Hook function type definitions
type (
	// OnLoadHook is called after an attribute load
	OnLoadHook func(ctx context.Context, event LoadEvent)

	// OnCatchUpHook is called after items changed in (from, to] were marked outdated
	OnCatchUpHook func(ctx context.Context, from, to int64, changed int)

	// OnAbortHook is called when a job stops early
	OnAbortHook func(ctx context.Context, reason AbortReason)

	// OnLoadErrorHook is called when a load returns an error
	OnLoadErrorHook func(ctx context.Context, attribute string, err error)
)

// AbortReason indicates why a job stopped before the backlog was empty
type AbortReason int

const (
	// AbortReasonCancelled indicates the job context was cancelled
	AbortReasonCancelled AbortReason = iota

	// AbortReasonHurried indicates the hurry grace period elapsed
	AbortReasonHurried

	// AbortReasonStopped indicates an attribute load was stopped because no
	// cache holds the attribute anymore. The job goes on with the next one.
	AbortReasonStopped
)

func (r AbortReason) String() string {
	switch r {
	case AbortReasonCancelled:
		return "Cancelled"
	case AbortReasonHurried:
		return "Hurried"
	case AbortReasonStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// AddOnLoad adds an OnLoad hook
func (h *Hooks) AddOnLoad(hook OnLoadHook) {
	h.OnLoad = append(h.OnLoad, hook)
}

// AddOnCatchUp adds an OnCatchUp hook
func (h *Hooks) AddOnCatchUp(hook OnCatchUpHook) {
	h.OnCatchUp = append(h.OnCatchUp, hook)
}

// AddOnAbort adds an OnAbort hook
func (h *Hooks) AddOnAbort(hook OnAbortHook) {
	h.OnAbort = append(h.OnAbort, hook)
}

// AddOnLoadError adds an OnLoadError hook
func (h *Hooks) AddOnLoadError(hook OnLoadErrorHook) {
	h.OnLoadError = append(h.OnLoadError, hook)
}

// Merge appends every hook of other to h
func (h *Hooks) Merge(other *Hooks) *Hooks {
	if other == nil {
		return h
	}
	h.OnLoad = append(h.OnLoad, other.OnLoad...)
	h.OnCatchUp = append(h.OnCatchUp, other.OnCatchUp...)
	h.OnAbort = append(h.OnAbort, other.OnAbort...)
	h.OnLoadError = append(h.OnLoadError, other.OnLoadError...)
	return h
}

func (h *Hooks) invokeOnLoad(ctx context.Context, event LoadEvent) {
	if h == nil {
		return
	}
	for _, hook := range h.OnLoad {
		if hook != nil {
			hook(ctx, event)
		}
	}
}

func (h *Hooks) invokeOnCatchUp(ctx context.Context, from, to int64, changed int) {
	if h == nil {
		return
	}
	for _, hook := range h.OnCatchUp {
		if hook != nil {
			hook(ctx, from, to, changed)
		}
	}
}

func (h *Hooks) invokeOnAbort(ctx context.Context, reason AbortReason) {
	if h == nil {
		return
	}
	for _, hook := range h.OnAbort {
		if hook != nil {
			hook(ctx, reason)
		}
	}
}

func (h *Hooks) invokeOnLoadError(ctx context.Context, attribute string, err error) {
	if h == nil {
		return
	}
	for _, hook := range h.OnLoadError {
		if hook != nil {
			hook(ctx, attribute, err)
		}
	}
}
