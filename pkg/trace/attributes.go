package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys used throughout the conversion engine's spans.
const (
	AttrPipelineID    = "pipeline.id"
	AttrPipelineState = "pipeline.state"

	AttrChunkSize      = "chunk.size"
	AttrChunkContextSz = "chunk.context_size"
	AttrBackendKind    = "backend.kind"

	AttrAudioSampleRate = "audio.sample_rate"
	AttrAudioChannels   = "audio.channels"
	AttrAudioDataSize   = "audio.data_size"

	AttrDeviceName = "device.name"
	AttrDeviceOp   = "device.op"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// PipelineAttrs creates attributes identifying a pipeline instance.
func PipelineAttrs(pipelineID string, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPipelineID, pipelineID),
		attribute.String(AttrPipelineState, state),
	}
}

// ChunkAttrs creates attributes describing a chunk about to be processed.
func ChunkAttrs(chunkSize, contextSize int, backendKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrChunkSize, chunkSize),
		attribute.Int(AttrChunkContextSz, contextSize),
		attribute.String(AttrBackendKind, backendKind),
	}
}

// AudioAttrs creates attributes for a block of PCM audio moving through
// AudioIO.
func AudioAttrs(sampleRate, channels, dataSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAudioSampleRate, sampleRate),
		attribute.Int(AttrAudioChannels, channels),
		attribute.Int(AttrAudioDataSize, dataSize),
	}
}

// DeviceAttrs creates attributes for an AudioIO device operation.
func DeviceAttrs(device, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDeviceName, device),
		attribute.String(AttrDeviceOp, op),
	}
}

// ErrorAttrs creates attributes for a recorded error.
func ErrorAttrs(errType, errMsg string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, errMsg),
	}
}
