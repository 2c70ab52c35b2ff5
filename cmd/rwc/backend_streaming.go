//go:build streaming

package main

import (
	"github.com/sirupsen/logrus"

	"github.com/BasicFist/rwc/pkg/backend"
	"github.com/BasicFist/rwc/pkg/backend/batchadapter"
	"github.com/BasicFist/rwc/pkg/backend/streaming"
	"github.com/BasicFist/rwc/pkg/convconfig"
)

// buildBackend constructs the configured ConversionBackend. This variant
// is compiled when the onnxruntime-dependent streaming backend is
// available.
func buildBackend(cfg *convconfig.Config, log *logrus.Logger) (backend.ConversionBackend, error) {
	switch cfg.Backend {
	case convconfig.BackendStreaming:
		if err := streaming.InitRuntime(envString("ONNXRUNTIME_LIB", "")); err != nil {
			return nil, err
		}
		sub, _, err := streaming.LoadONNXSubmodels(cfg, 256)
		if err != nil {
			return nil, err
		}
		return streaming.New(cfg, sub, log), nil
	default:
		return batchadapter.New(cfg, log)
	}
}
