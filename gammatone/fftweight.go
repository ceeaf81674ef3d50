package gammatone

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// fftGtgram is the fast path: a weighted short-time FFT approximation of the
// gammatone spectrogram. Each window of the signal is Hann-weighted and
// transformed with mjibson/go-dsp, and the resulting power spectrum is
// pooled into channels with the squared magnitude response of a 4th-order
// gammatone filter. Same strides, same shape and channel ordering as the
// exact path, only numerically different.
func fftGtgram(wave []float64, fs float64, cfs []float64, nwin, hop, ncols int) [][]float64 {
	nfft := nextPow2(2 * nwin)
	nbins := nfft/2 + 1

	weights := fftWeights(fs, cfs, nfft, nbins)
	window := hannWindow(nwin)

	energy := make([][]float64, len(cfs))
	for ch := range energy {
		energy[ch] = make([]float64, ncols)
	}

	frame := make([]float64, nfft)
	power := make([]float64, nbins)
	for col := 0; col < ncols; col++ {
		segment := wave[col*hop : col*hop+nwin]
		for i := 0; i < nwin; i++ {
			frame[i] = segment[i] * window[i]
		}
		for i := nwin; i < nfft; i++ {
			frame[i] = 0
		}

		spectrum := fft.FFTReal(frame)
		for k := 0; k < nbins; k++ {
			power[k] = real(spectrum[k]*cmplx.Conj(spectrum[k])) / float64(nwin)
		}

		for ch, wts := range weights {
			sum := 0.0
			for k, w := range wts {
				sum += w * power[k]
			}
			energy[ch][col] = math.Sqrt(sum / float64(nwin))
		}
	}
	return energy
}

// fftWeights builds the channel x bin pooling matrix. The weight of bin k in
// the channel centered at cf is the squared magnitude response of the
// gammatone filter, (1 + ((f-cf)/b)^2)^-4 with b the 1.019-scaled ERB.
func fftWeights(fs float64, cfs []float64, nfft, nbins int) [][]float64 {
	weights := make([][]float64, len(cfs))
	for ch, cf := range cfs {
		b := 1.019 * ERBWidth(cf)
		wts := make([]float64, nbins)
		total := 0.0
		for k := 0; k < nbins; k++ {
			f := float64(k) * fs / float64(nfft)
			d := (f - cf) / b
			w := math.Pow(1+d*d, -4)
			wts[k] = w
			total += w
		}
		// Normalize so each channel pools unit total weight
		if total > 0 {
			for k := range wts {
				wts[k] /= total
			}
		}
		weights[ch] = wts
	}
	return weights
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
