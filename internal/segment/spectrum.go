package segment

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum band limits in Hz. The upper limit is clamped to the Nyquist
// frequency of the configured sample rate.
const (
	bandLowHz  = 50.0
	bandHighHz = 16000.0
)

// Analyzer converts fixed-size PCM chunks into a compact vector of log-spaced
// band magnitudes for the UI visualiser.
//
// An Analyzer is not safe for concurrent use: it reuses internal scratch
// buffers. The segmenter owns exactly one and calls it from its run loop.
type Analyzer struct {
	fft      *fourier.FFT
	bands    int
	binEdges []int // bands+1 bin indices, monotonically non-decreasing

	in  []float64
	out []complex128
}

// NewAnalyzer creates an analyzer for chunkSize-sample chunks at the given
// rate, aggregating FFT bins into the given number of log-spaced bands
// between 50 Hz and 16 kHz (clamped to Nyquist).
func NewAnalyzer(chunkSize, bands, sampleRate int) *Analyzer {
	a := &Analyzer{
		fft:   fourier.NewFFT(chunkSize),
		bands: bands,
		in:    make([]float64, chunkSize),
		out:   make([]complex128, chunkSize/2+1),
	}

	nyquist := float64(sampleRate) / 2
	high := math.Min(bandHighHz, nyquist)
	low := math.Min(bandLowHz, high/2)

	binHz := float64(sampleRate) / float64(chunkSize)
	maxBin := chunkSize / 2

	// Log-spaced edges: edge k sits at low * (high/low)^(k/bands).
	a.binEdges = make([]int, bands+1)
	ratio := high / low
	for k := 0; k <= bands; k++ {
		freq := low * math.Pow(ratio, float64(k)/float64(bands))
		bin := int(math.Round(freq / binHz))
		if bin > maxBin {
			bin = maxBin
		}
		if k > 0 && bin < a.binEdges[k-1] {
			bin = a.binEdges[k-1]
		}
		a.binEdges[k] = bin
	}
	return a
}

// Bands computes the band magnitude vector for one chunk. Each band holds the
// mean magnitude of its FFT bins, compressed with log(1+m) to tame the
// dynamic range. A fresh slice is returned on every call so the UI bridge may
// retain it. Chunks shorter than the analyzer's chunk size are zero-padded.
func (a *Analyzer) Bands(chunk []int16) []float64 {
	for i := range a.in {
		if i < len(chunk) {
			a.in[i] = float64(chunk[i])
		} else {
			a.in[i] = 0
		}
	}
	a.out = a.fft.Coefficients(a.out, a.in)

	result := make([]float64, a.bands)
	for b := range a.bands {
		lo, hi := a.binEdges[b], a.binEdges[b+1]
		if hi <= lo {
			// Band narrower than one bin: take the single bin it rounds to.
			hi = lo + 1
		}
		var sum float64
		count := 0
		for bin := lo; bin < hi && bin < len(a.out); bin++ {
			sum += cmplx.Abs(a.out[bin])
			count++
		}
		if count > 0 {
			result[b] = math.Log1p(sum / float64(count))
		}
	}
	return result
}
