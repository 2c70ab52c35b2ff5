package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentPipelineStart creates a span for a pipeline's start().
func InstrumentPipelineStart(ctx context.Context, pipelineID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("pipeline.%s.start", pipelineID),
		trace.WithAttributes(attribute.String(AttrPipelineID, pipelineID)),
	)
}

// InstrumentPipelineStop creates a span for a pipeline's stop().
func InstrumentPipelineStop(ctx context.Context, pipelineID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("pipeline.%s.stop", pipelineID),
		trace.WithAttributes(attribute.String(AttrPipelineID, pipelineID)),
	)
}

// InstrumentChunkConvert creates a span around a single worker-loop
// convert_chunk call.
func InstrumentChunkConvert(ctx context.Context, pipelineID string, chunkSize, contextSize int, backendKind string) (context.Context, trace.Span) {
	attrs := append(
		[]attribute.KeyValue{attribute.String(AttrPipelineID, pipelineID)},
		ChunkAttrs(chunkSize, contextSize, backendKind)...,
	)
	return StartSpan(ctx, fmt.Sprintf("pipeline.%s.convert_chunk", pipelineID), trace.WithAttributes(attrs...))
}

// InstrumentProcessInput creates a span for a process_input call.
func InstrumentProcessInput(ctx context.Context, pipelineID string, sampleCount int) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("pipeline.%s.process_input", pipelineID),
		trace.WithAttributes(
			attribute.String(AttrPipelineID, pipelineID),
			attribute.Int(AttrAudioDataSize, sampleCount),
		),
	)
}

// InstrumentGetOutput creates a span for a get_output call.
func InstrumentGetOutput(ctx context.Context, pipelineID string, requested int) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("pipeline.%s.get_output", pipelineID),
		trace.WithAttributes(
			attribute.String(AttrPipelineID, pipelineID),
			attribute.Int(AttrAudioDataSize, requested),
		),
	)
}

// InstrumentDeviceOp creates a span for an AudioIO device operation
// (capture open, playback open, resample, etc).
func InstrumentDeviceOp(ctx context.Context, device, op string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("audioio.%s.%s", device, op),
		trace.WithAttributes(DeviceAttrs(device, op)...),
	)
}
