package audio

import (
	"log/slog"
	"sync"
)

// FormatConverter converts buffers to a target format. It logs a warning on
// the first format mismatch so a misconfigured device is visible once, not on
// every buffer. Safe for concurrent use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert returns b in the target format. If b already matches, it is
// returned unchanged (zero allocation).
func (c *FormatConverter) Convert(b *Buffer) *Buffer {
	if b == nil || b.Format == c.Target {
		return b
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", b.Format.String(),
			"to", c.Target.String(),
		)
	})
	return b.Convert(c.Target)
}

// Convert returns a copy of b resampled and remixed to f. Conversion order is
// resample first, then channel conversion, so a stereo to mono conversion does
// not pay for resampling both channels twice. If b already has format f it is
// returned unchanged.
func (b *Buffer) Convert(f Format) *Buffer {
	if b.Format == f || !f.Valid() || !b.Format.Valid() {
		return b
	}
	samples := b.Samples
	if b.SampleRate != f.SampleRate {
		samples = Resample(samples, b.Channels, b.SampleRate, f.SampleRate)
	}
	if b.Channels != f.Channels {
		if b.Channels == 1 {
			samples = MonoToStereo(samples)
		} else {
			samples = StereoToMono(samples)
		}
	}
	return &Buffer{Samples: samples, Format: f}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// StereoToMono averages L+R per frame. A trailing half frame is dropped.
func StereoToMono(samples []float32) []float32 {
	frames := len(samples) / 2
	out := make([]float32, frames)
	for i := range frames {
		out[i] = (samples[2*i] + samples[2*i+1]) / 2
	}
	return out
}

// Resample converts interleaved samples with the given channel count from
// srcRate to dstRate using linear interpolation. If the rates match or either
// is non-positive, samples is returned unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := samples[idx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0 + (s1-s0)*frac
		}
	}
	return out
}
