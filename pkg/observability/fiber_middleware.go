package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

const (
	httpInstrumentation = "github.com/Alijeyrad/carebook_backend/http"
	headerTraceID       = "X-Trace-Id"
)

// Route params that name an engine entity and are worth a span attribute.
var spanParams = map[string]string{
	"id":     "carebook.entity.id",
	"userId": "carebook.user.id",
	"job":    "carebook.job",
}

type httpInstruments struct {
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newHTTPInstruments() httpInstruments {
	meter := otel.Meter(httpInstrumentation)
	var in httpInstruments
	in.duration, _ = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"))
	in.inFlight, _ = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("In-flight HTTP server requests"),
		metric.WithUnit("{request}"))
	return in
}

// FiberMiddleware traces and measures every request except the ones on
// skipPaths. Spans are named after the route template, not the raw path.
func FiberMiddleware(skipPaths ...string) fiber.Handler {
	tracer := otel.Tracer(httpInstrumentation)
	in := newHTTPInstruments()

	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c fiber.Ctx) error {
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}

		method := c.Method()
		ctx := otel.GetTextMapPropagator().Extract(c.Context(), propagation.HeaderCarrier(c.GetReqHeaders()))
		ctx, span := tracer.Start(ctx, method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.URLPath(c.Path()),
				semconv.URLScheme(c.Protocol()),
				semconv.ServerAddress(c.Hostname()),
				semconv.ClientAddress(c.IP()),
				semconv.UserAgentOriginal(c.Get(fiber.HeaderUserAgent)),
			),
		)
		defer span.End()

		c.SetContext(ctx)
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Set(headerTraceID, sc.TraceID().String())
		}

		active := metric.WithAttributes(semconv.HTTPRequestMethodKey.String(method))
		in.inFlight.Add(ctx, 1, active)
		defer in.inFlight.Add(ctx, -1, active)

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start).Seconds()

		// The route is only known once the router matched.
		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else if status < http.StatusInternalServerError {
				status = http.StatusInternalServerError
			}
		}

		span.SetName(method + " " + route)
		span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
		for param, key := range spanParams {
			if v := c.Params(param); v != "" {
				span.SetAttributes(attribute.String(key, v))
			}
		}
		if rid := reqctx.RequestIDFromContext(c.Context()); rid != "" {
			span.SetAttributes(attribute.String("carebook.request_id", rid))
		}

		in.duration.Record(ctx, elapsed, metric.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.HTTPRoute(route),
			semconv.HTTPResponseStatusCode(status),
		))

		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
			if err != nil {
				span.RecordError(err)
			}
		}
		return err
	}
}
