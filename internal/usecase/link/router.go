package link

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"

	"gamebridge/internal/adapter/wire"
	"gamebridge/internal/domain"
	"gamebridge/internal/infra/tracer"
)

// Router turns inbound requests into responses using the injected handler.
// It holds no locks; the handler must be safe for concurrent use.
type Router struct {
	handler  domain.ActionHandler
	endpoint string
	logger   *slog.Logger
}

// NewRouter creates a Router for one endpoint.
func NewRouter(handler domain.ActionHandler, endpoint string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{handler: handler, endpoint: endpoint, logger: logger}
}

// Handle runs the action named by req and always returns a response envelope
// carrying req.RequestID.
func (r *Router) Handle(ctx context.Context, req wire.Request) (resp wire.Envelope) {
	ctx, span := tracer.StartSpan(ctx, "link.request",
		trace.WithAttributes(
			tracer.StringAttr("request.action", req.Action),
			tracer.StringAttr("endpoint", r.endpoint),
		),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: panic in %s: %v", domain.ErrHandler, req.Action, p)
			r.logger.Error("action handler panicked",
				"endpoint", r.endpoint,
				"action", req.Action,
				"request_id", req.RequestID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			tracer.RecordError(span, err)
			resp = wire.NewErrorResponse(req.RequestID, err)
		}
	}()

	result, err := r.handler.HandleAction(ctx, req.Action, req.Payload)
	if err != nil {
		r.logger.Warn("action failed",
			"endpoint", r.endpoint,
			"action", req.Action,
			"request_id", req.RequestID,
			"error", err,
			"error_code", domain.ErrorCodeOf(err),
		)
		tracer.RecordError(span, err)
		return wire.NewErrorResponse(req.RequestID, err)
	}

	resp, err = wire.NewResponse(req.RequestID, result)
	if err != nil {
		err = fmt.Errorf("%w: encode result of %s: %v", domain.ErrHandler, req.Action, err)
		tracer.RecordError(span, err)
		return wire.NewErrorResponse(req.RequestID, err)
	}
	tracer.SetOK(span)
	return resp
}
