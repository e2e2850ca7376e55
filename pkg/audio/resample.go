package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono 16-bit PCM between two fixed sample rates. It
// keeps internal filter state across calls, so one instance must be used per
// continuous stream and per direction.
type Resampler struct {
	fromRate int
	toRate   int
	inner    resampling.Resampler
}

// NewResampler creates a mono PCM resampler from fromRate to toRate.
// When the rates are equal the resampler passes samples through unchanged.
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d -> %d", fromRate, toRate)
	}
	r := &Resampler{fromRate: fromRate, toRate: toRate}
	if fromRate == toRate {
		return r, nil
	}

	inner, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	r.inner = inner
	return r, nil
}

// Process resamples a chunk of the stream. The output length follows the
// rate ratio, modulo filter latency at stream start.
func (r *Resampler) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if r.inner == nil {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}
	output, err := r.inner.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	out := make([]int16, len(output))
	for i, f := range output {
		switch {
		case f > 1.0:
			out[i] = 32767
		case f < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(f * 32767.0)
		}
	}
	return out, nil
}

// Resample converts samples between rates in one shot. For continuous
// streams use a Resampler instead so filter state carries across chunk
// boundaries.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	r, err := NewResampler(fromRate, toRate)
	if err != nil {
		return nil, err
	}
	return r.Process(samples)
}
