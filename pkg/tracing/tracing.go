package tracing

import (
	"context"

	"browser-automation/pkg/apperr"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Span struct {
	span   trace.Span
	logger *zap.Logger
	name   string
}

func StartSpan(ctx context.Context, tracer trace.Tracer, logger *zap.Logger, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	return ctx, &Span{
		span:   span,
		logger: logger,
		name:   name,
	}
}

// End closes the span, recording err and its apperr code when non-nil.
func (s *Span) End(err error) {
	if err != nil {
		code := apperr.CodeOf(err)

		s.span.SetAttributes(attribute.String("error.code", code))
		s.span.SetStatus(codes.Error, err.Error())
		s.span.RecordError(err)

		s.logger.Debug("Span failed", zap.String("span", s.name), zap.String("code", code), zap.Error(err))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}

	s.span.End()
}

func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}
