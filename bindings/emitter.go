package bindings

import (
	"context"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/scripting"
)

// Frontend event names.
const (
	EventEngine      = "mines:event"
	EventScriptState = "script:state"
	EventScriptLog   = "script:log"
)

// EmitFunc matches runtime.EventsEmit.
type EmitFunc func(ctx context.Context, name string, data ...any)

// Emitter forwards engine and autoplay updates to the frontend. Nothing is
// sent until the window context is set.
type Emitter struct {
	mu   sync.RWMutex
	ctx  context.Context
	emit EmitFunc
}

// NewEmitter returns an emitter backed by emit, or by the wails runtime when
// emit is nil.
func NewEmitter(emit EmitFunc) *Emitter {
	if emit == nil {
		emit = runtime.EventsEmit
	}
	return &Emitter{emit: emit}
}

// SetContext attaches the window context. nil detaches it.
func (e *Emitter) SetContext(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()
}

func (e *Emitter) send(name string, data any) {
	e.mu.RLock()
	ctx := e.ctx
	e.mu.RUnlock()
	if ctx == nil {
		return
	}
	e.emit(ctx, name, data)
}

// EmitEngineEvent forwards one engine notification.
func (e *Emitter) EmitEngineEvent(ev mines.Event) { e.send(EventEngine, ev) }

func (e *Emitter) EmitScriptState(s scripting.Snapshot) { e.send(EventScriptState, s) }

func (e *Emitter) EmitScriptLog(entries []scripting.LogEntry) { e.send(EventScriptLog, entries) }
