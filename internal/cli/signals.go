package cli

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/JamesPaynter/mycelium/internal/engine"
)

// SignalHandler translates SIGINT/SIGTERM into the engine's stop signal.
// The first signal requests a graceful stop (in-flight tasks finish); the
// second also asks for container kill.
type SignalHandler struct {
	signals  chan os.Signal
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stop     *engine.StopSignal
	onSignal func(count int)
}

// NewSignalHandler creates a handler bound to a stop signal.
func NewSignalHandler(stop *engine.StopSignal) *SignalHandler {
	return &SignalHandler{
		signals: make(chan os.Signal, 2),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		stop:    stop,
	}
}

// OnSignal registers a callback invoked with the signal count (1 or 2).
func (h *SignalHandler) OnSignal(fn func(count int)) {
	h.onSignal = fn
}

// Start begins listening for signals.
func (h *SignalHandler) Start() {
	signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer close(h.done)
		count := 0
		for {
			select {
			case <-h.signals:
				count++
				h.stop.Stop(count > 1)
				if h.onSignal != nil {
					h.onSignal(count)
				}
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends signal handling.
func (h *SignalHandler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.signals)
		close(h.stopCh)
	})
	<-h.done
}
