package core

import (
	"context"
	"time"

	"pharmanet/pkg/domain"
	"pharmanet/pkg/logger"
)

// Clock supplies wall-clock time for operation timing. Ledger timestamps
// always come from the transaction, never from the clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes the outcome and latency of custody operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts one span per custody operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is an in-flight operation span.
type TraceSpan interface {
	Annotate(key, value string)
	End(err error)
}

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one invocation of a custody operation.
type AuditEntry struct {
	Operation string
	Status    AuditStatus
	TxID      string
	MSPID     string
	Caller    string
	Error     string
	Duration  time.Duration
}

// AuditRecorder receives an entry for every custody operation, successful or not.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// LogAuditRecorder writes audit entries to a structured logger.
type LogAuditRecorder struct {
	log *logger.Logger
}

// NewLogAuditRecorder returns an AuditRecorder logging through l.
func NewLogAuditRecorder(l *logger.Logger) *LogAuditRecorder {
	return &LogAuditRecorder{log: l.Component("audit")}
}

// Record implements AuditRecorder.
func (r *LogAuditRecorder) Record(_ context.Context, e AuditEntry) {
	ev := r.log.Info()
	if e.Status == AuditStatusError {
		ev = r.log.Warn().Str("error", e.Error)
	}
	ev.Str("op", e.Operation).
		Str("tx_id", e.TxID).
		Str("msp", e.MSPID).
		Str("caller", e.Caller).
		Dur("duration", e.Duration).
		Msg(string(e.Status))
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) Annotate(string, string) {}
func (noopSpan) End(error)               {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

type options struct {
	rules     *domain.RulesEngine
	directory domain.OrgDirectory
	clock     Clock
	logger    *logger.Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
}

// Option configures a Custody.
type Option func(*options)

func defaultOptions() options {
	return options{
		rules:     NewDefaultRulesEngine(),
		directory: domain.DefaultOrgDirectory(),
		clock:     ClockFunc(time.Now),
		logger:    logger.Nop(),
		audit:     noopAudit{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
	}
}

// WithRulesEngine replaces the custody rule set. A nil engine disables rules.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(o *options) {
		if engine == nil {
			engine = domain.NewRulesEngine()
		}
		o.rules = engine
	}
}

// WithOrgDirectory sets the MSP to organisation mapping used for authorization.
func WithOrgDirectory(dir domain.OrgDirectory) Option {
	return func(o *options) { o.directory = dir }
}

// WithClock overrides the clock used for operation timing.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(r AuditRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.audit = r
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}
