package audioio

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"sync"

	"github.com/hraban/opus"
	"github.com/sirupsen/logrus"

	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/rvcerr"
)

// opusFrameSamples is the frame size used for both directions of the
// sub-process pipe, 20 ms at the working sample rate.
const opusFrameSamples = convconfig.WorkingSampleRate / 50

// SubprocessIO implements AudioIO by piping Opus-encoded frames to and from
// an external streaming sub-process's stdin/stdout, as an alternative to a
// native device API. Each frame on the wire is a 2-byte little-endian
// length prefix followed by that many bytes of Opus-encoded payload.
type SubprocessIO struct {
	argv []string
	pipe PipelineHandle
	log  *logrus.Entry

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	encoder *opus.Encoder
	decoder *opus.Decoder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubprocessIO builds a SubprocessIO that will exec argv[0] with
// argv[1:] as arguments once started.
func NewSubprocessIO(argv []string, p PipelineHandle, log *logrus.Logger) *SubprocessIO {
	if log == nil {
		log = logrus.New()
	}
	return &SubprocessIO{
		argv: argv,
		pipe: p,
		log:  log.WithField("component", "audioio.subprocess"),
	}
}

// Start execs the sub-process and begins the encode/decode pump goroutines.
func (s *SubprocessIO) Start(ctx context.Context) error {
	if len(s.argv) == 0 {
		return rvcerr.NewDeviceError("subprocess", "start", io.ErrUnexpectedEOF)
	}

	enc, err := opus.NewEncoder(convconfig.WorkingSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return rvcerr.NewDeviceError("subprocess", "opus-encoder", err)
	}
	enc.SetBitrate(64000)
	s.encoder = enc

	dec, err := opus.NewDecoder(convconfig.WorkingSampleRate, 1)
	if err != nil {
		return rvcerr.NewDeviceError("subprocess", "opus-decoder", err)
	}
	s.decoder = dec

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cmd = exec.CommandContext(runCtx, s.argv[0], s.argv[1:]...)
	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		return rvcerr.NewDeviceError("subprocess", "stdin-pipe", err)
	}
	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		return rvcerr.NewDeviceError("subprocess", "stdout-pipe", err)
	}
	if err := s.cmd.Start(); err != nil {
		return rvcerr.NewDeviceError("subprocess", "exec", err)
	}

	s.wg.Add(2)
	go s.pumpOutbound(runCtx)
	go s.pumpInbound(runCtx)

	s.log.WithField("argv", s.argv).Info("subprocess audioio started")
	return nil
}

// pumpOutbound reads converted samples from the pipeline, encodes them to
// Opus, and writes length-prefixed frames to the sub-process's stdin.
func (s *SubprocessIO) pumpOutbound(ctx context.Context) {
	defer s.wg.Done()
	pcm := make([]byte, opusFrameSamples*4)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		samples := s.pipe.GetOutput(opusFrameSamples)
		if len(samples) < opusFrameSamples {
			padded := make([]float32, opusFrameSamples)
			copy(padded, samples)
			samples = padded
		}
		n, err := s.encoder.EncodeFloat32(samples, pcm)
		if err != nil {
			s.log.WithError(err).Warn("opus encode failed, dropping frame")
			continue
		}
		frame := pcm[:n]
		if err := writeFramed(s.stdin, frame); err != nil {
			s.log.WithError(err).Warn("subprocess stdin write failed")
			return
		}
	}
}

// pumpInbound reads length-prefixed Opus frames from the sub-process's
// stdout, decodes them, and forwards the PCM to the pipeline.
func (s *SubprocessIO) pumpInbound(ctx context.Context) {
	defer s.wg.Done()
	reader := bufio.NewReader(s.stdout)
	pcm := make([]float32, opusFrameSamples)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := readFramed(reader)
		if err != nil {
			if err != io.EOF {
				s.log.WithError(err).Warn("subprocess stdout read failed")
			}
			return
		}
		n, err := s.decoder.DecodeFloat32(frame, pcm)
		if err != nil {
			s.log.WithError(err).Warn("opus decode failed, dropping frame")
			continue
		}
		out := make([]float32, n)
		copy(out, pcm[:n])
		if err := s.pipe.ProcessInput(out); err != nil {
			s.log.WithError(err).Warn("decoded frame failed validation, dropping")
		}
	}
}

func writeFramed(w io.Writer, payload []byte) error {
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFramed(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(header[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Stop cancels the pump goroutines and terminates the sub-process.
func (s *SubprocessIO) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	s.wg.Wait()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Wait()
	}
	return nil
}
