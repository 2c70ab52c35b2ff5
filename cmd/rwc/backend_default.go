//go:build !streaming

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/BasicFist/rwc/pkg/backend"
	"github.com/BasicFist/rwc/pkg/backend/batchadapter"
	"github.com/BasicFist/rwc/pkg/convconfig"
)

// buildBackend constructs the configured ConversionBackend. This variant
// is compiled by default, without the onnxruntime dependency; selecting
// the streaming backend requires rebuilding with -tags streaming.
func buildBackend(cfg *convconfig.Config, log *logrus.Logger) (backend.ConversionBackend, error) {
	switch cfg.Backend {
	case convconfig.BackendStreaming:
		return nil, fmt.Errorf("streaming backend requires building with -tags streaming")
	default:
		return batchadapter.New(cfg, log)
	}
}
