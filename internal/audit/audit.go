// Package audit provides an append-only, buffered recorder for every
// capability lifecycle event and every permit/deny decision.
//
// Recording never blocks the security decision path: events go into a bounded
// buffer and a background flusher writes them to a sink in batches. When the
// buffer is full the event is dropped and counted. Audit is best-effort,
// security decisions are not.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit event.
type EventType string

const (
	// CapabilityRequested records a root capability grant or refusal.
	CapabilityRequested EventType = "capability_requested"

	// CapabilityDelegated records a delegation grant or refusal.
	CapabilityDelegated EventType = "capability_delegated"

	// CapabilityRevoked records a revocation, including cascade members.
	CapabilityRevoked EventType = "capability_revoked"

	// PermissionChecked records a permit/deny decision at an enforcement point.
	PermissionChecked EventType = "permission_checked"

	// SecurityEvent records a collaborator-supplied event via LogSecurityEvent.
	SecurityEvent EventType = "security_event"
)

// Decision is the outcome recorded with an event.
type Decision string

const (
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
)

// Event is a single audit record.
type Event struct {
	ID           uuid.UUID
	RequestID    uuid.UUID // correlates with the inbound request; uuid.Nil when absent
	PrincipalID  string
	EventType    EventType
	Decision     Decision
	ResourceType string
	Operation    string
	Resource     string
	CapabilityID uuid.UUID // uuid.Nil when the event concerns no specific capability
	Reason       string    // denial reason or revocation reason
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Sink receives flushed event batches. Implementations may do blocking I/O;
// the recorder isolates them from the decision path.
type Sink interface {
	Flush(ctx context.Context, events []*Event) error
}

// Counters is a snapshot of the recorder's operational counters.
type Counters struct {
	Logged      uint64 // events accepted into the buffer
	Dropped     uint64 // events discarded because the buffer was full
	Flushed     uint64 // events successfully handed to the sink
	FlushErrors uint64 // batch flushes the sink rejected
	BufferSize  int    // events currently waiting in the buffer
}

// Config holds the recorder's tunables.
type Config struct {
	BufferSize    int           // bounded buffer capacity
	BatchSize     int           // max events per sink flush
	FlushInterval time.Duration // flush cadence when the batch doesn't fill
	FlushTimeout  time.Duration // per-flush sink deadline
}

// Recorder is the buffered, asynchronous audit event recorder.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	cfg    Config

	events chan *Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	logged      atomic.Uint64
	dropped     atomic.Uint64
	flushed     atomic.Uint64
	flushErrors atomic.Uint64
}

// NewRecorder creates a recorder and starts its flusher goroutine.
// Callers must Close it to flush the remaining buffer.
func NewRecorder(sink Sink, logger *slog.Logger, cfg Config) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	r := &Recorder{
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		events: make(chan *Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Record enqueues an event without blocking. A full buffer drops the event and
// increments the dropped counter; the caller's security decision is unaffected.
func (r *Recorder) Record(event *Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.Must(uuid.NewV7())
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.Metadata = RedactMetadata(event.Metadata)

	select {
	case r.events <- event:
		r.logged.Add(1)
	default:
		r.dropped.Add(1)
	}
}

// Counters returns a snapshot of the operational counters.
func (r *Recorder) Counters() Counters {
	return Counters{
		Logged:      r.logged.Load(),
		Dropped:     r.dropped.Load(),
		Flushed:     r.flushed.Load(),
		FlushErrors: r.flushErrors.Load(),
		BufferSize:  len(r.events),
	}
}

// Close stops the flusher after draining the buffer.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Recorder) flushLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, r.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushTimeout)
		err := r.sink.Flush(ctx, batch)
		cancel()
		if err != nil {
			r.flushErrors.Add(1)
			r.logger.Error("audit flush failed",
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err))
		} else {
			r.flushed.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			// Drain whatever is buffered, then do a final flush.
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
					if len(batch) >= r.cfg.BatchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}
