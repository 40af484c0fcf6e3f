// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
)

// Mode controls which decisions are logged.
type Mode string

// Audit logging modes.
const (
	ModeMinimal     Mode = "minimal"      // bypasses + explicit denials
	ModeDenialsOnly Mode = "denials_only" // bypasses + all denials
	ModeAll         Mode = "all"          // everything
)

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeMinimal, ModeDenialsOnly, ModeAll:
		return m, nil
	default:
		return "", oops.In("audit").Code("INVALID_AUDIT_MODE").
			With("mode", s).Errorf("audit mode must be minimal, denials_only or all")
	}
}

// Operation names the engine call that produced an entry.
type Operation string

// Operation constants.
const (
	OperationResolve   Operation = "resolve"
	OperationCanManage Operation = "can_manage"
)

// Entry is one audited decision.
type Entry struct {
	Operation      Operation         `json:"operation"`
	ServerID       string            `json:"server_id,omitempty"`
	MemberID       string            `json:"member_id"`
	Capability     access.Capability `json:"capability,omitempty"`
	Scope          access.Scope      `json:"scope,omitempty"`
	TargetID       string            `json:"target_id,omitempty"`
	// TargetMemberID is set for can_manage entries.
	TargetMemberID string            `json:"target_member_id,omitempty"`
	Granted        bool              `json:"granted"`
	Reason         string            `json:"reason"`
	SourceKind     access.SourceKind `json:"source_kind,omitempty"`
	SourceID       string            `json:"source_id,omitempty"`
	DurationUS     int64             `json:"duration_us"`
	Timestamp      time.Time         `json:"timestamp"`
}

// FromResult builds a resolve entry.
func FromResult(m *access.Member, q access.Query, r access.Result, elapsed time.Duration) Entry {
	scope := q.Scope
	if scope == "" {
		scope = access.ScopeServer
	}
	return Entry{
		Operation:  OperationResolve,
		MemberID:   m.ID,
		ServerID:   m.ServerID,
		Capability: q.Capability,
		Scope:      scope,
		TargetID:   q.TargetID,
		Granted:    r.Granted,
		Reason:     r.Reason.String(),
		SourceKind: r.SourceKind,
		SourceID:   r.SourceID,
		DurationUS: elapsed.Microseconds(),
		Timestamp:  time.Now().UTC(),
	}
}

// FromManage builds a can_manage entry. A refused hierarchy check is a
// denial; its Reason is the ManageReason.
func FromManage(actor, target *access.Member, action access.ModerationAction, d access.ManageDecision, elapsed time.Duration) Entry {
	c, _ := action.Capability()
	reason := string(d.Reason)
	if d.Reason == access.ManageSuperuser {
		reason = access.ReasonSuperuser.String()
	}
	return Entry{
		Operation:      OperationCanManage,
		MemberID:       actor.ID,
		ServerID:       actor.ServerID,
		Capability:     c,
		Scope:          access.ScopeServer,
		TargetMemberID: target.ID,
		Granted:        d.Allowed,
		Reason:         reason,
		DurationUS:     elapsed.Microseconds(),
		Timestamp:      time.Now().UTC(),
	}
}

// bypass reports whether the entry records a superuser shortcut.
func (e Entry) bypass() bool {
	return e.Reason == access.ReasonSuperuser.String()
}

// explicitDenial reports whether a rule, rather than the absence of one,
// produced the denial.
func (e Entry) explicitDenial() bool {
	return !e.Granted && e.Reason != access.ReasonDefaultDeny.String()
}

// Writer is a destination for audit entries.
type Writer interface {
	WriteSync(ctx context.Context, entry Entry) error
	WriteAsync(entry Entry) error
	Close() error
}

var (
	droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildhall_access_audit_dropped_total",
		Help: "Audit entries dropped because the async channel was full",
	})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildhall_access_audit_failures_total",
		Help: "Audit writes that failed, by path",
	}, []string{"path"})
)

const defaultBuffer = 1000

// Option configures a Logger.
type Option func(*Logger)

// WithBuffer sets the async channel capacity.
func WithBuffer(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.buffer = n
		}
	}
}

// Logger routes entries to a Writer according to its Mode.
type Logger struct {
	mode   Mode
	writer Writer
	buffer int

	async     chan Entry
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLogger starts a Logger and its async consumer.
func NewLogger(mode Mode, writer Writer, opts ...Option) *Logger {
	l := &Logger{
		mode:   mode,
		writer: writer,
		buffer: defaultBuffer,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.async = make(chan Entry, l.buffer)

	l.wg.Add(1)
	go l.consume()
	return l
}

// Log writes or enqueues entry. Write failures are counted and logged, never
// returned: an audit outage must not change an authorization outcome.
func (l *Logger) Log(ctx context.Context, entry Entry) {
	record, inline := l.route(entry)
	if !record {
		return
	}

	if inline {
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			failuresCounter.WithLabelValues("sync").Inc()
			slog.ErrorContext(ctx, "audit write failed",
				"error", err,
				"member_id", entry.MemberID,
				"capability", string(entry.Capability),
				"reason", entry.Reason,
			)
		}
		return
	}

	select {
	case l.async <- entry:
	default:
		droppedCounter.Inc()
	}
}

// route returns whether the entry is recorded and whether synchronously.
func (l *Logger) route(e Entry) (record, inline bool) {
	switch l.mode {
	case ModeMinimal:
		return e.bypass() || e.explicitDenial(), true
	case ModeDenialsOnly:
		return e.bypass() || !e.Granted, true
	case ModeAll:
		if e.bypass() || !e.Granted {
			return true, true
		}
		return true, false
	default:
		return false, false
	}
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.async:
			l.writeAsync(entry)
		case <-l.stop:
			for {
				select {
				case entry := <-l.async:
					l.writeAsync(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeAsync(entry Entry) {
	if err := l.writer.WriteAsync(entry); err != nil {
		failuresCounter.WithLabelValues("async").Inc()
		slog.Error("async audit write failed", "error", err, "member_id", entry.MemberID)
	}
}

// Close stops the consumer after draining queued entries, then closes the
// writer. It is safe to call more than once.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stop)
		l.wg.Wait()
		if cerr := l.writer.Close(); cerr != nil {
			err = oops.In("audit").Code("AUDIT_CLOSE_FAILED").Wrap(cerr)
		}
	})
	return err
}
