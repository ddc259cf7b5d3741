// Package flow implements the prioritized admission queue with memory- and
// count-bounded backpressure that feeds the orchestrator's dispatcher.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/metrics"
)

// Priority orders the three admission queues.
type Priority string

// Queue priorities, served high > normal > low.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// priorityOrder is the service order of the queues.
var priorityOrder = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// FromLevel maps a numeric request priority (0..10) onto a queue.
func FromLevel(level int) Priority {
	switch {
	case level >= 8:
		return PriorityHigh
	case level >= 4:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Message is one queued admission unit.
type Message struct {
	ID          string
	ExecutionID string
	Priority    Priority
	Size        int64
	EnqueuedAt  time.Time
	Payload     any
}

// RejectReason explains an admission rejection.
type RejectReason string

// Rejection reasons.
const (
	ReasonMemoryPressure RejectReason = "memory_pressure"
	ReasonBufferOverflow RejectReason = "buffer_overflow"
)

// BackpressureError is returned when enqueue rejects a message.
type BackpressureError struct {
	Reason      RejectReason
	Utilization float64
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("backpressure rejected: %s (utilization %.2f)", e.Reason, e.Utilization)
}

// SignalType classifies backpressure signals sent upstream.
type SignalType string

// Backpressure signal types.
const (
	SignalSlowDown     SignalType = "slow_down"
	SignalResume       SignalType = "resume"
	SignalPause        SignalType = "pause"
	SignalDropMessages SignalType = "drop_messages"
)

// Signal tells upstream producers to pause, slow down, or resume.
type Signal struct {
	Type        SignalType `json:"type"`
	Reason      string     `json:"reason,omitempty"`
	Utilization float64    `json:"utilization"`
}

// Handler consumes popped messages. It runs on the service loop goroutine;
// long work must be handed off (the orchestrator hands to its worker pool).
type Handler func(ctx context.Context, msg *Message)

// overflowDropLimit is the maximum number of oldest normal-priority
// messages dropped on a count overflow.
const overflowDropLimit = 100

// Controller is the flow controller: three priority FIFO queues, byte and
// count budgets, watermark-driven backpressure signals, and a paced service
// loop.
type Controller struct {
	cfg *config.FlowConfig
	log *slog.Logger

	mu       sync.Mutex
	queues   map[Priority][]*Message
	curBytes int64
	active   bool // backpressure currently signalled
	lastPop  time.Time
	lastSlow time.Time

	onSignal func(Signal)

	pace     *rate.Limiter
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewController creates a controller with the given settings.
func NewController(cfg *config.FlowConfig) *Controller {
	return &Controller{
		cfg: cfg,
		log: slog.Default().With("component", "flow"),
		queues: map[Priority][]*Message{
			PriorityHigh:   nil,
			PriorityNormal: nil,
			PriorityLow:    nil,
		},
		lastPop: time.Now(),
		pace:    rate.NewLimiter(rate.Limit(cfg.ProcessingRate), 1),
		stopCh:  make(chan struct{}),
	}
}

// SetSignalHandler registers the backpressure signal sink. Must be called
// before Start; signals are delivered synchronously from enqueue/pop paths.
func (c *Controller) SetSignalHandler(fn func(Signal)) {
	c.onSignal = fn
}

// Enqueue admits a message or rejects it with *BackpressureError.
//
// Rejection policy, in order:
//  1. Byte budget exceeded: every low-priority message is dropped, a
//     drop_messages signal is emitted, and the message is rejected with
//     MemoryPressure.
//  2. Count budget reached: up to 100 oldest normal-priority messages are
//     dropped, a pause signal is emitted, and the message is rejected with
//     BufferOverflow.
func (c *Controller) Enqueue(msg *Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	c.mu.Lock()

	if c.curBytes+msg.Size > c.cfg.MaxMemoryUsage {
		dropped := c.dropAllLocked(PriorityLow)
		util := c.utilizationLocked()
		c.mu.Unlock()

		c.log.Warn("Memory pressure: rejecting message and dropping low-priority queue",
			"message_id", msg.ID, "size", msg.Size, "dropped", dropped, "utilization", util)
		metrics.DroppedMessages.WithLabelValues(string(ReasonMemoryPressure)).Add(float64(dropped))
		c.signal(Signal{Type: SignalDropMessages, Reason: string(ReasonMemoryPressure), Utilization: util})
		return &BackpressureError{Reason: ReasonMemoryPressure, Utilization: util}
	}

	if c.countLocked() >= c.cfg.MaxBufferSize {
		dropped := c.dropOldestLocked(PriorityNormal, overflowDropLimit)
		util := c.utilizationLocked()
		c.mu.Unlock()

		c.log.Warn("Buffer overflow: rejecting message and dropping oldest normal messages",
			"message_id", msg.ID, "dropped", dropped, "utilization", util)
		metrics.DroppedMessages.WithLabelValues(string(ReasonBufferOverflow)).Add(float64(dropped))
		c.signal(Signal{Type: SignalPause, Reason: string(ReasonBufferOverflow), Utilization: util})
		return &BackpressureError{Reason: ReasonBufferOverflow, Utilization: util}
	}

	c.queues[msg.Priority] = append(c.queues[msg.Priority], msg)
	c.curBytes += msg.Size
	sig := c.evaluateWatermarksLocked()
	c.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(string(msg.Priority)).Inc()
	metrics.QueueBytes.Set(float64(c.Bytes()))
	if sig != nil {
		c.signal(*sig)
	}
	return nil
}

// Remove takes a still-queued message out (used on cancellation) and
// re-credits its bytes. Returns true if the message was found.
func (c *Controller) Remove(messageID string) bool {
	c.mu.Lock()
	for prio, q := range c.queues {
		for i, m := range q {
			if m.ID == messageID {
				c.queues[prio] = append(q[:i], q[i+1:]...)
				c.curBytes -= m.Size
				sig := c.evaluateWatermarksLocked()
				c.mu.Unlock()

				metrics.QueueDepth.WithLabelValues(string(prio)).Dec()
				metrics.QueueBytes.Set(float64(c.Bytes()))
				if sig != nil {
					c.signal(*sig)
				}
				return true
			}
		}
	}
	c.mu.Unlock()
	return false
}

// Start launches the paced service loop delivering messages to handler in
// priority order. Safe to call once.
func (c *Controller) Start(ctx context.Context, handler Handler) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.log.Warn("Flow controller already started, ignoring duplicate Start call")
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(2)
	go c.run(ctx, handler)
	go c.monitor(ctx)
	c.log.Info("Flow controller started",
		"max_buffer_size", c.cfg.MaxBufferSize,
		"max_memory_usage", c.cfg.MaxMemoryUsage,
		"processing_rate", c.cfg.ProcessingRate)
}

// Stop terminates the service loop and waits for it to finish.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context, handler Handler) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.log.Info("Flow controller stopped")
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.pace.Wait(ctx); err != nil {
			return
		}

		msg, sig := c.pop()
		if sig != nil {
			c.signal(*sig)
		}
		if msg == nil {
			// Nothing queued; the pacer already bounds the spin rate, but
			// back off a little further to avoid burning a token per idle
			// iteration at high processing rates.
			select {
			case <-time.After(10 * time.Millisecond):
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		handler(ctx, msg)
	}
}

// pop removes the head of the highest non-empty queue.
func (c *Controller) pop() (*Message, *Signal) {
	c.mu.Lock()
	for _, prio := range priorityOrder {
		q := c.queues[prio]
		if len(q) == 0 {
			continue
		}
		msg := q[0]
		c.queues[prio] = q[1:]
		c.curBytes -= msg.Size
		remaining := c.curBytes
		c.lastPop = time.Now()
		sig := c.evaluateWatermarksLocked()
		c.mu.Unlock()

		metrics.QueueDepth.WithLabelValues(string(prio)).Dec()
		metrics.QueueBytes.Set(float64(remaining))
		return msg, sig
	}
	c.mu.Unlock()
	return nil, nil
}

// monitor watches for a stalled consumer independently of the service loop,
// which may itself be blocked inside the handler.
func (c *Controller) monitor(ctx context.Context) {
	defer c.wg.Done()

	interval := c.cfg.SlowConsumerThreshold / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkSlowConsumer()
		}
	}
}

// checkSlowConsumer emits slowConsumerDetected when messages are waiting but
// no pop has succeeded within the threshold. Emission is limited to once per
// threshold window.
func (c *Controller) checkSlowConsumer() {
	c.mu.Lock()
	waiting := c.countLocked() > 0
	stalled := time.Since(c.lastPop) > c.cfg.SlowConsumerThreshold
	throttled := time.Since(c.lastSlow) < c.cfg.SlowConsumerThreshold
	util := c.utilizationLocked()
	if waiting && stalled && !throttled {
		c.lastSlow = time.Now()
		c.mu.Unlock()

		c.log.Warn("Slow consumer detected", "utilization", util,
			"threshold", c.cfg.SlowConsumerThreshold)
		c.signal(Signal{Type: SignalSlowDown, Reason: "slow_consumer", Utilization: util})
		return
	}
	c.mu.Unlock()
}

// evaluateWatermarksLocked flips backpressure state on watermark crossings
// and returns the signal to emit, if any. Caller holds c.mu.
func (c *Controller) evaluateWatermarksLocked() *Signal {
	util := c.utilizationLocked()
	if !c.active && util >= c.cfg.HighWaterMark {
		c.active = true
		return &Signal{Type: SignalSlowDown, Reason: "high_watermark", Utilization: util}
	}
	if c.active && util < c.cfg.LowWaterMark {
		c.active = false
		return &Signal{Type: SignalResume, Reason: "low_watermark", Utilization: util}
	}
	return nil
}

// utilizationLocked is the worse of the byte and count utilizations.
func (c *Controller) utilizationLocked() float64 {
	byBytes := float64(c.curBytes) / float64(c.cfg.MaxMemoryUsage)
	byCount := float64(c.countLocked()) / float64(c.cfg.MaxBufferSize)
	if byBytes > byCount {
		return byBytes
	}
	return byCount
}

func (c *Controller) countLocked() int {
	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	return n
}

// dropAllLocked empties one priority queue, re-crediting its bytes.
func (c *Controller) dropAllLocked(prio Priority) int {
	q := c.queues[prio]
	for _, m := range q {
		c.curBytes -= m.Size
	}
	n := len(q)
	c.queues[prio] = nil
	if n > 0 {
		metrics.QueueDepth.WithLabelValues(string(prio)).Sub(float64(n))
	}
	return n
}

// dropOldestLocked removes up to limit messages from the front of one queue.
func (c *Controller) dropOldestLocked(prio Priority, limit int) int {
	q := c.queues[prio]
	n := len(q)
	if n > limit {
		n = limit
	}
	for _, m := range q[:n] {
		c.curBytes -= m.Size
	}
	c.queues[prio] = q[n:]
	if n > 0 {
		metrics.QueueDepth.WithLabelValues(string(prio)).Sub(float64(n))
	}
	return n
}

func (c *Controller) signal(sig Signal) {
	if c.onSignal != nil {
		c.onSignal(sig)
	}
}

// Depth returns the total queued message count.
func (c *Controller) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked()
}

// DepthByPriority returns per-queue counts.
func (c *Controller) DepthByPriority() map[Priority]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Priority]int, len(c.queues))
	for prio, q := range c.queues {
		out[prio] = len(q)
	}
	return out
}

// Bytes returns the bytes currently held by queued messages.
func (c *Controller) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Utilization returns the current utilization fraction.
func (c *Controller) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utilizationLocked()
}
