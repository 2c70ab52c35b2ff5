package audioio

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// astiavResampler wraps an FFmpeg software resample context configured for
// mono float32 PCM, used at the AudioIO boundary when a device's native
// sample rate differs from the working rate.
type astiavResampler struct {
	ctx      *astiav.SoftwareResampleContext
	inFrame  *astiav.Frame
	outFrame *astiav.Frame
	inRate   int
	outRate  int
}

func newAstiavResampler(inRate, outRate int) (*astiavResampler, error) {
	r := &astiavResampler{inRate: inRate, outRate: outRate}

	r.ctx = astiav.AllocSoftwareResampleContext()
	if r.ctx == nil {
		return nil, fmt.Errorf("failed to allocate resample context")
	}
	r.inFrame = astiav.AllocFrame()
	if r.inFrame == nil {
		r.Close()
		return nil, fmt.Errorf("failed to allocate input frame")
	}
	r.outFrame = astiav.AllocFrame()
	if r.outFrame == nil {
		r.Close()
		return nil, fmt.Errorf("failed to allocate output frame")
	}
	return r, nil
}

func (r *astiavResampler) Close() {
	if r.ctx != nil {
		r.ctx.Free()
		r.ctx = nil
	}
	if r.inFrame != nil {
		r.inFrame.Free()
		r.inFrame = nil
	}
	if r.outFrame != nil {
		r.outFrame.Free()
		r.outFrame = nil
	}
}

// Resample converts in (mono float32 at inRate) to outRate.
func (r *astiavResampler) Resample(in []float32) ([]float32, error) {
	const align = 0
	if len(in) == 0 {
		return nil, nil
	}

	r.inFrame.Unref()
	r.outFrame.Unref()

	r.inFrame.SetChannelLayout(astiav.ChannelLayoutMono)
	r.inFrame.SetSampleFormat(astiav.SampleFormatFlt)
	r.inFrame.SetSampleRate(r.inRate)
	r.inFrame.SetNbSamples(len(in))

	outNumSamples := (len(in)*r.outRate + r.inRate - 1) / r.inRate
	if outNumSamples == 0 {
		outNumSamples = 1
	}
	r.outFrame.SetChannelLayout(astiav.ChannelLayoutMono)
	r.outFrame.SetSampleFormat(astiav.SampleFormatFlt)
	r.outFrame.SetSampleRate(r.outRate)
	r.outFrame.SetNbSamples(outNumSamples)

	if err := r.inFrame.AllocBuffer(align); err != nil {
		return nil, fmt.Errorf("allocating input buffer: %w", err)
	}
	if err := r.outFrame.AllocBuffer(align); err != nil {
		return nil, fmt.Errorf("allocating output buffer: %w", err)
	}
	if err := r.inFrame.MakeWritable(); err != nil {
		return nil, fmt.Errorf("making input frame writable: %w", err)
	}

	inBytes := make([]byte, len(in)*4)
	copyFloat32ToBytes(inBytes, in)
	if err := r.inFrame.Data().SetBytes(inBytes, align); err != nil {
		return nil, fmt.Errorf("setting input frame data: %w", err)
	}

	if err := r.ctx.ConvertFrame(r.inFrame, r.outFrame); err != nil {
		return nil, fmt.Errorf("resampling: %w", err)
	}

	outBytes, err := r.outFrame.Data().Bytes(align)
	if err != nil {
		return nil, fmt.Errorf("reading output frame data: %w", err)
	}
	return bytesToFloat32(outBytes, len(outBytes)/4), nil
}
