package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/zhouzirui/voicecall/internal/model/call"
)

const (
	// FFTSize 分析窗口大小，每个快照 Bins = FFTSize/2 个值
	FFTSize = 256
	Bins    = FFTSize / 2

	defaultSmoothing = 0.8
	minDecibels      = -100.0
	maxDecibels      = -30.0
)

// Analyser 把 PCM 窗口转成可视化快照。
// 缩放方式与浏览器 AnalyserNode 一致：Blackman 窗，幅值随时间平滑，分贝区间映射到 0..255。
type Analyser struct {
	fft       *fourier.FFT
	window    []float64
	smoothing float64
	smoothed  []float64
	samples   []float64
}

// NewAnalyser 使用默认平滑系数
func NewAnalyser() *Analyser {
	window := make([]float64, FFTSize)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(FFTSize)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &Analyser{
		fft:       fourier.NewFFT(FFTSize),
		window:    window,
		smoothing: defaultSmoothing,
		smoothed:  make([]float64, Bins),
		samples:   make([]float64, FFTSize),
	}
}

// Analyse 用最近 FFTSize 个 [-1, 1] 采样计算快照，不足时在前面补零
func (a *Analyser) Analyse(pcm []float64) call.Snapshot {
	for i := range a.samples {
		a.samples[i] = 0
	}
	if len(pcm) > FFTSize {
		pcm = pcm[len(pcm)-FFTSize:]
	}
	copy(a.samples[FFTSize-len(pcm):], pcm)

	timeBins := make([]uint8, Bins)
	for i := range timeBins {
		timeBins[i] = toByte(128 * (1 + a.samples[FFTSize-Bins+i]))
	}

	windowed := make([]float64, FFTSize)
	for i, s := range a.samples {
		windowed[i] = s * a.window[i]
	}
	coeffs := a.fft.Coefficients(nil, windowed)

	freqBins := make([]uint8, Bins)
	var sum float64
	for k := 0; k < Bins; k++ {
		magnitude := cmplx.Abs(coeffs[k]) / FFTSize
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*magnitude

		db := minDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		freqBins[k] = toByte(255 * (db - minDecibels) / (maxDecibels - minDecibels))
		sum += float64(freqBins[k])
	}

	return call.Snapshot{
		FrequencyBins: freqBins,
		TimeBins:      timeBins,
		Volume:        sum / Bins / 255,
	}
}

// Reset 清空平滑历史
func (a *Analyser) Reset() {
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

func toByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// DecodePCM16 把小端 16 位有符号采样转换到 [-1, 1]
func DecodePCM16(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/BytesPerSample)
	for i := range out {
		sample := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float64(sample) / 32768.0
	}
	return out
}
