package dispatcher

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityDispatcher 为投递循环添加链路追踪的装饰器
type ObservabilityDispatcher struct {
	dispatcher Dispatcher
	tracer     trace.Tracer
}

// NewObservabilityDispatcher 创建一个新的带有链路追踪的投递者
func NewObservabilityDispatcher(dispatcher Dispatcher) *ObservabilityDispatcher {
	return &ObservabilityDispatcher{
		dispatcher: dispatcher,
		tracer:     otel.Tracer("live-interaction/dispatcher"),
	}
}

func (o *ObservabilityDispatcher) DrainOnce(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "Dispatcher.DrainOnce")
	defer span.End()

	handled, err := o.dispatcher.DrainOnce(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("dispatch.handled", handled))
	}

	return handled, err
}
