package audio

import "math"

// Downmix averages interleaved channels into a mono signal. Trailing samples
// that do not form a complete multi-channel group are discarded.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Upmix duplicates a mono signal across channels.
func Upmix(mono []int16, channels int) []int16 {
	if channels <= 1 {
		return mono
	}
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// Resample converts a mono signal between sample rates by linear
// interpolation. This trades fidelity for latency: there is no anti-alias
// filter, which is acceptable for speech recognition input.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	n := len(samples)
	outLen := int(math.Round(float64(n) * float64(toRate) / float64(fromRate)))
	if outLen == 0 {
		return nil
	}

	step := float64(fromRate) / float64(toRate)
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= n-1 {
			out[i] = samples[n-1]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out[i] = clamp16(math.Round(v))
	}
	return out
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// RMS returns the root-mean-square amplitude of PCM bytes in the given sample width.
func RMS(data []byte, width int) float64 {
	samples := bytesToSamples(data, width)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
