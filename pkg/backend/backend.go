// Package backend defines the ConversionBackend capability every
// conversion implementation (BatchAdapter, StreamingBackend) satisfies, and
// the silence-generation helper the pipeline uses when a backend fails.
package backend

// ConversionBackend is the capability a pipeline depends on. Backends are
// interchangeable: the pipeline never inspects backend internals.
//
// All three operations are synchronous and blocking. Initialize is called
// once before the worker enters its loop; ConvertChunk may take arbitrarily
// long from a real-time standpoint (the pipeline measures and reports, does
// not interrupt); Cleanup is idempotent.
type ConversionBackend interface {
	// Initialize loads models/resources and prepares for conversion, or
	// returns a *rvcerr.BackendInitError.
	Initialize() error

	// ConvertChunk converts one chunk of length ChunkSize, given up to
	// ContextSize samples of left-context (may be empty on the very first
	// call). The returned chunk must have length exactly ChunkSize, or the
	// call must fail with a *rvcerr.BackendConvertError.
	ConvertChunk(chunk, context []float32) ([]float32, error)

	// Cleanup releases model resources and temporary files. Safe to call
	// more than once.
	Cleanup() error
}

// Silence returns n zero-valued samples, used by the worker to fill
// output_buf when a backend's conversion fails unrecoverably for a chunk.
func Silence(n int) []float32 {
	return make([]float32, n)
}
