package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "devflow-api"
	requestSpanName    = "devflow.api.request"
	requestEventName   = "devflow.api.request.completed"
	requestEventDomain = "devflow.api"
	observabilityEvent = "observability.event"
	attrPrefix         = "devflow.request."
)

// requestMetrics times the stages of one request and reports them once as a
// span and a structured log line.
type requestMetrics struct {
	logger *log.Logger
	route  string
	span   trace.Span
	start  time.Time

	authDuration      time.Duration
	fetchDuration     time.Duration
	encodeDuration    time.Duration
	enqueueDuration   time.Duration
	upstreamDuration  time.Duration
	pageTokenProvided bool
	itemsReturned     int
	hasNextPage       bool
	errorStage        string
}

// newRequestMetrics starts the request span. The returned context carries it.
func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger: logger,
		route:  route,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration > 0 {
		m.authDuration = duration
	}
}

func (m *requestMetrics) ObserveFetch(duration time.Duration) {
	if duration > 0 {
		m.fetchDuration = duration
	}
}

func (m *requestMetrics) ObserveEncode(duration time.Duration) {
	if duration > 0 {
		m.encodeDuration = duration
	}
}

// ObserveEnqueue records the handoff of commands to the queue.
func (m *requestMetrics) ObserveEnqueue(duration time.Duration) {
	if duration > 0 {
		m.enqueueDuration = duration
	}
}

// ObserveUpstream records time spent waiting on the model provider.
func (m *requestMetrics) ObserveUpstream(duration time.Duration) {
	if duration > 0 {
		m.upstreamDuration = duration
	}
}

func (m *requestMetrics) SetPageTokenProvided(provided bool) {
	m.pageTokenProvided = provided
}

func (m *requestMetrics) SetItemsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
}

func (m *requestMetrics) SetHasNextPage(hasNext bool) {
	m.hasNextPage = hasNext
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *requestMetrics) attributes(total time.Duration) map[string]any {
	attrs := map[string]any{
		"http.route":                       m.route,
		attrPrefix + "total_ms":            durationToMillis(total),
		attrPrefix + "page_token_provided": m.pageTokenProvided,
		attrPrefix + "items_returned":      m.itemsReturned,
		attrPrefix + "has_next_page":       m.hasNextPage,
	}
	for name, d := range map[string]time.Duration{
		"auth_ms":     m.authDuration,
		"fetch_ms":    m.fetchDuration,
		"encode_ms":   m.encodeDuration,
		"enqueue_ms":  m.enqueueDuration,
		"upstream_ms": m.upstreamDuration,
	} {
		if d > 0 {
			attrs[attrPrefix+name] = durationToMillis(d)
		}
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	return attrs
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)
	attrs := m.attributes(total)
	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		spanAttrs := toKeyValues(attrs)
		m.span.SetAttributes(spanAttrs...)
		m.span.SetAttributes(attribute.Int("http.status_code", status))

		eventAttrs := append(spanAttrs,
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
		)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))

		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
		"status":          status,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Log(logLevel(severityText), observabilityEvent)
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func logLevel(severity string) log.Level {
	switch severity {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	}
	return log.InfoLevel
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
