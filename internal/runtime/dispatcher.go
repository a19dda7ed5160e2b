package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/logging"
)

const userVisibleHandlerError = "處理請求時發生錯誤，請查看伺服器日誌。"

// Dispatcher executes queued messages sequentially against a Handler. One
// dispatcher serves every user of a listener, so a slow model call delays
// the users queued behind it.
type Dispatcher struct {
	handler Handler

	queue chan dispatchItem
	done  chan struct{}

	stateMu    sync.Mutex
	started    bool
	rootCtx    context.Context
	currentRun context.CancelFunc
	// inFlight counts messages accepted by Enqueue and not yet finished or
	// drained.
	inFlight int
}

type dispatchItem struct {
	msg    *Message
	writer ResponseWriter
}

// NewDispatcher creates a dispatcher with a fixed-size queue.
func NewDispatcher(handler Handler, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		handler: handler,
		queue:   make(chan dispatchItem, queueSize),
		done:    make(chan struct{}),
	}
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if d.handler == nil {
		return errors.New("handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.stateMu.Lock()
	if d.started {
		d.stateMu.Unlock()
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.rootCtx = ctx
	d.stateMu.Unlock()

	go d.run(ctx)
	return nil
}

// Enqueue submits one message for FIFO processing.
func (d *Dispatcher) Enqueue(ctx context.Context, msg *Message, writer ResponseWriter) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if writer == nil {
		return errors.New("response writer is required")
	}
	rootCtx, started := d.dispatchContext()
	if !started {
		return errors.New("dispatcher is not started")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.addInFlight(1)
	select {
	case <-rootCtx.Done():
		d.addInFlight(-1)
		return rootCtx.Err()
	case <-ctx.Done():
		d.addInFlight(-1)
		return ctx.Err()
	case d.queue <- dispatchItem{msg: msg, writer: writer}:
		return nil
	}
}

// Stop drains all queued messages and cancels the one in flight.
func (d *Dispatcher) Stop() {
	for drained := false; !drained; {
		select {
		case <-d.queue:
			d.addInFlight(-1)
		default:
			drained = true
		}
	}
	d.cancelCurrentRun()
}

// WaitUntilIdle blocks until no message is running and the queue is empty.
func (d *Dispatcher) WaitUntilIdle(ctx context.Context) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.isIdle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatch loop exits.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.cancelCurrentRun()
			return
		case item := <-d.queue:
			if item.msg != nil && item.writer != nil {
				d.handle(ctx, item)
			}
			d.addInFlight(-1)
		}
	}
}

// handle runs one message with the message attached to its context so
// prompters can tell whose reply they are waiting for. Handler errors and
// panics become a generic reply; cancellation stays silent.
func (d *Dispatcher) handle(ctx context.Context, item dispatchItem) {
	runCtx, cancel := context.WithCancel(WithMessage(ctx, item.msg))
	d.setCurrentRun(cancel)
	started := time.Now()
	err := d.invoke(runCtx, item)
	d.clearCurrentRun()
	cancel()

	log := logging.Logger().With("channel", item.msg.Channel, "user_id", item.msg.UserID)
	if err == nil || errors.Is(err, context.Canceled) {
		log.Debug("message handled", "elapsed", time.Since(started), "canceled", err != nil)
		return
	}
	log.Error("message handling failed", "err", err)
	if writeErr := item.writer.WriteMessage(ctx, userVisibleHandlerError); writeErr != nil {
		log.Warn("failed to write handler error message", "err", writeErr)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, item dispatchItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler.HandleMessage(ctx, item.writer, item.msg)
}

func (d *Dispatcher) dispatchContext() (context.Context, bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.rootCtx, d.started
}

func (d *Dispatcher) setCurrentRun(cancel context.CancelFunc) {
	d.stateMu.Lock()
	d.currentRun = cancel
	d.stateMu.Unlock()
}

func (d *Dispatcher) clearCurrentRun() {
	d.stateMu.Lock()
	d.currentRun = nil
	d.stateMu.Unlock()
}

func (d *Dispatcher) cancelCurrentRun() {
	d.stateMu.Lock()
	cancel := d.currentRun
	d.currentRun = nil
	d.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) addInFlight(n int) {
	d.stateMu.Lock()
	d.inFlight += n
	d.stateMu.Unlock()
}

func (d *Dispatcher) isIdle() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return !d.started || d.inFlight == 0
}
