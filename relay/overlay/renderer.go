package overlay

import "github.com/jupiter/notifier/relay/messages"

// Renderer displays the overlay. Show replaces whatever is visible. Implementations must not call back
// into the Coordinator synchronously.
type Renderer interface {
	Show(n messages.Notification)
	Dismiss(ev messages.DismissEvent)
}

// RendererFuncs adapts plain functions to a Renderer. A nil function is skipped.
type RendererFuncs struct {
	ShowFn    func(n messages.Notification)
	DismissFn func(ev messages.DismissEvent)
}

func (r RendererFuncs) Show(n messages.Notification) {
	if r.ShowFn != nil {
		r.ShowFn(n)
	}
}

func (r RendererFuncs) Dismiss(ev messages.DismissEvent) {
	if r.DismissFn != nil {
		r.DismissFn(ev)
	}
}
