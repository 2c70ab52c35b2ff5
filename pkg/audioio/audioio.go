// Package audioio implements AudioIO: the capture/playback boundary that
// feeds a pipeline's process_input and drains its get_output, either
// against a native audio device or by piping to/from an external streaming
// sub-process.
package audioio

import (
	"context"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/pipeline"
	"github.com/BasicFist/rwc/pkg/rvcerr"
	"github.com/BasicFist/rwc/pkg/trace"
)

// PipelineHandle is the subset of *pipeline.Pipeline AudioIO depends on.
// AudioIO holds a handle, it does not own the pipeline.
type PipelineHandle interface {
	ProcessInput(samples []float32) error
	GetOutput(n int) []float32
}

var _ PipelineHandle = (*pipeline.Pipeline)(nil)

// AudioIO is the capture/playback boundary a caller starts and stops,
// satisfied by both DeviceIO (native audio devices) and SubprocessIO (an
// external streaming sub-process over stdio).
type AudioIO interface {
	Start(ctx context.Context) error
	Stop() error
}

var (
	_ AudioIO = (*DeviceIO)(nil)
	_ AudioIO = (*SubprocessIO)(nil)
)

const defaultPeriodMs = 20

// DeviceConfig describes the physical device's native rate and channel
// count when they differ from the working rate (48 kHz mono).
type DeviceConfig struct {
	CaptureSampleRate  int
	CaptureChannels    int
	PlaybackSampleRate int
	PlaybackChannels   int
	PeriodMs           int
}

// DefaultDeviceConfig assumes a device that already runs at the working
// rate in mono, i.e. no resampling or channel remapping needed.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		CaptureSampleRate:  convconfig.WorkingSampleRate,
		CaptureChannels:    1,
		PlaybackSampleRate: convconfig.WorkingSampleRate,
		PlaybackChannels:   1,
		PeriodMs:           defaultPeriodMs,
	}
}

// DeviceIO drives capture and playback against native audio devices via
// malgo. Capture samples are downmixed and resampled to the working rate
// before reaching the pipeline; playback samples are resampled and upmixed
// from the working rate to the device's native configuration.
type DeviceIO struct {
	cfg      DeviceConfig
	chunkCS  int
	pipeline PipelineHandle
	log      *logrus.Entry

	ctx            *malgo.AllocatedContext
	captureDevice  *malgo.Device
	playbackDevice *malgo.Device

	captureResampler  *astiavResampler
	playbackResampler *astiavResampler

	underruns uint64
	mu        sync.Mutex

	started bool
}

// NewDeviceIO builds a DeviceIO bound to p. chunkSize is the pipeline's
// configured CS, used to size the startup pre-roll.
func NewDeviceIO(cfg DeviceConfig, chunkSize int, p PipelineHandle, log *logrus.Logger) *DeviceIO {
	if log == nil {
		log = logrus.New()
	}
	return &DeviceIO{
		cfg:      cfg,
		chunkCS:  chunkSize,
		pipeline: p,
		log:      log.WithField("component", "audioio"),
	}
}

// Start opens the capture and playback devices and begins streaming.
func (d *DeviceIO) Start(ctx context.Context) error {
	var err error
	d.ctx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return rvcerr.NewDeviceError("audio-context", "init", err)
	}

	if d.cfg.CaptureSampleRate != convconfig.WorkingSampleRate {
		d.captureResampler, err = newAstiavResampler(d.cfg.CaptureSampleRate, convconfig.WorkingSampleRate)
		if err != nil {
			return rvcerr.NewDeviceError("capture", "resampler-init", err)
		}
	}
	if d.cfg.PlaybackSampleRate != convconfig.WorkingSampleRate {
		d.playbackResampler, err = newAstiavResampler(convconfig.WorkingSampleRate, d.cfg.PlaybackSampleRate)
		if err != nil {
			return rvcerr.NewDeviceError("playback", "resampler-init", err)
		}
	}

	if err := d.startCapture(); err != nil {
		return err
	}
	if err := d.startPlayback(); err != nil {
		d.stopCapture()
		return err
	}

	d.mu.Lock()
	d.started = true
	d.mu.Unlock()

	d.log.Info("audioio started")
	return nil
}

func (d *DeviceIO) startCapture() error {
	_, span := trace.InstrumentDeviceOp(context.Background(), "capture", "open")
	defer span.End()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = uint32(d.cfg.PeriodMs)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(d.cfg.CaptureChannels)
	deviceConfig.SampleRate = uint32(d.cfg.CaptureSampleRate)

	var err error
	d.captureDevice, err = malgo.InitDevice(d.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_ []byte, inputBytes []byte, frameCount uint32) {
			d.onCapture(inputBytes, int(frameCount))
		},
	})
	if err != nil {
		return rvcerr.NewDeviceError("capture", "init", err)
	}
	if err := d.captureDevice.Start(); err != nil {
		return rvcerr.NewDeviceError("capture", "start", err)
	}
	return nil
}

func (d *DeviceIO) onCapture(inputBytes []byte, frameCount int) {
	channels := d.cfg.CaptureChannels
	samples := bytesToFloat32(inputBytes, frameCount*channels)
	mono := downmix(samples, channels)
	if d.captureResampler != nil {
		resampled, err := d.captureResampler.Resample(mono)
		if err != nil {
			d.log.WithError(err).Warn("capture resample failed, dropping block")
			return
		}
		mono = resampled
	}
	if err := d.pipeline.ProcessInput(mono); err != nil {
		d.log.WithError(err).Warn("capture block failed validation, dropping")
	}
}

func (d *DeviceIO) startPlayback() error {
	_, span := trace.InstrumentDeviceOp(context.Background(), "playback", "open")
	defer span.End()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.PeriodSizeInMilliseconds = uint32(d.cfg.PeriodMs)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(d.cfg.PlaybackChannels)
	deviceConfig.SampleRate = uint32(d.cfg.PlaybackSampleRate)

	blockSamples := int(deviceConfig.SampleRate) * d.cfg.PeriodMs / 1000
	prerollBlocks := ceilDiv(d.chunkCS, max(blockSamples, 1)) + 1
	prerollRemaining := prerollBlocks

	var err error
	d.playbackDevice, err = malgo.InitDevice(d.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputBytes []byte, _ []byte, frameCount uint32) {
			d.onPlayback(outputBytes, int(frameCount), &prerollRemaining)
		},
	})
	if err != nil {
		return rvcerr.NewDeviceError("playback", "init", err)
	}
	if err := d.playbackDevice.Start(); err != nil {
		return rvcerr.NewDeviceError("playback", "start", err)
	}
	return nil
}

func (d *DeviceIO) onPlayback(outputBytes []byte, frameCount int, prerollRemaining *int) {
	channels := d.cfg.PlaybackChannels

	if *prerollRemaining > 0 {
		*prerollRemaining--
		zeroFloat32(outputBytes)
		return
	}

	want := frameCount
	if d.playbackResampler != nil {
		want = int(math.Ceil(float64(frameCount) * float64(convconfig.WorkingSampleRate) / float64(d.cfg.PlaybackSampleRate)))
	}

	mono := d.pipeline.GetOutput(want)
	if len(mono) < want {
		d.mu.Lock()
		d.underruns++
		d.mu.Unlock()
	}

	if d.playbackResampler != nil {
		resampled, err := d.playbackResampler.Resample(mono)
		if err != nil {
			d.log.WithError(err).Warn("playback resample failed, substituting silence")
			resampled = nil
		}
		mono = resampled
	}

	out := upmix(mono, channels)
	if len(out) > frameCount*channels {
		out = out[:frameCount*channels]
	}
	copyFloat32ToBytes(outputBytes, out)
	if len(out) < frameCount*channels {
		zeroFloat32(outputBytes[len(out)*4:])
	}
}

// Underruns returns the number of playback callbacks that received fewer
// samples than requested.
func (d *DeviceIO) Underruns() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.underruns
}

func (d *DeviceIO) stopCapture() {
	if d.captureDevice != nil {
		d.captureDevice.Stop()
		d.captureDevice.Uninit()
		d.captureDevice = nil
	}
}

func (d *DeviceIO) stopPlayback() {
	if d.playbackDevice != nil {
		d.playbackDevice.Stop()
		d.playbackDevice.Uninit()
		d.playbackDevice = nil
	}
}

// Stop closes both devices and releases the malgo context. Safe to call
// more than once.
func (d *DeviceIO) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	d.stopCapture()
	d.stopPlayback()
	if d.captureResampler != nil {
		d.captureResampler.Close()
		d.captureResampler = nil
	}
	if d.playbackResampler != nil {
		d.playbackResampler.Close()
		d.playbackResampler = nil
	}
	if d.ctx != nil {
		d.ctx.Uninit()
		d.ctx = nil
	}
	return nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

