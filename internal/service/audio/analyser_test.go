package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sineWindow(bin int, amplitude float64) []float64 {
	out := make([]float64, FFTSize)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*float64(bin)*float64(i)/FFTSize)
	}
	return out
}

func TestAnalyserSilence(t *testing.T) {
	a := NewAnalyser()
	snap := a.Analyse(make([]float64, FFTSize))

	require.Len(t, snap.FrequencyBins, Bins)
	require.Len(t, snap.TimeBins, Bins)
	for i := range snap.FrequencyBins {
		require.Zero(t, snap.FrequencyBins[i])
		require.Equal(t, uint8(128), snap.TimeBins[i])
	}
	require.Zero(t, snap.Volume)
}

func TestAnalyserPeaksAtToneBin(t *testing.T) {
	a := NewAnalyser()
	window := sineWindow(20, 0.05)

	snap := a.Analyse(window)
	for i := 0; i < 10; i++ {
		snap = a.Analyse(window)
	}

	peak := 0
	for i, v := range snap.FrequencyBins {
		if v > snap.FrequencyBins[peak] {
			peak = i
		}
	}
	require.Equal(t, 20, peak)
	require.Greater(t, snap.Volume, 0.0)
}

func TestAnalyserSmoothsOverTime(t *testing.T) {
	a := NewAnalyser()
	first := a.Analyse(sineWindow(8, 0.05))
	second := a.Analyse(sineWindow(8, 0.05))
	require.Greater(t, second.FrequencyBins[8], first.FrequencyBins[8])

	a.Reset()
	again := a.Analyse(sineWindow(8, 0.05))
	require.Equal(t, first.FrequencyBins[8], again.FrequencyBins[8])
}

func TestAnalyserVolumeInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		samples := rapid.SliceOfN(rapid.Float64Range(-1, 1), 0, 2*FFTSize).Draw(rt, "samples")
		snap := NewAnalyser().Analyse(samples)
		if snap.Volume < 0 || snap.Volume > 1 {
			rt.Fatalf("volume %v out of range", snap.Volume)
		}
		if len(snap.FrequencyBins) != Bins || len(snap.TimeBins) != Bins {
			rt.Fatalf("unexpected bin counts %d/%d", len(snap.FrequencyBins), len(snap.TimeBins))
		}
	})
}

func TestDecodePCM16(t *testing.T) {
	samples := DecodePCM16([]byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00, 0x01})
	require.Len(t, samples, 3)
	require.Equal(t, -1.0, samples[0])
	require.InDelta(t, 1.0, samples[1], 1e-4)
	require.Zero(t, samples[2])
}

func TestSpeechWaveformBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seed := rapid.Uint64().Draw(rt, "seed")
		ms := rapid.Int64Range(0, 1<<40).Draw(rt, "ms")
		snap := NewSpeechWaveform(seed).At(time.UnixMilli(ms))

		if snap.Volume < 0.3-1e-9 || snap.Volume > 0.7+1e-9 {
			rt.Fatalf("volume %v outside [0.3, 0.7]", snap.Volume)
		}
		for i, v := range snap.TimeBins {
			if v < 98 || v > 158 {
				rt.Fatalf("time bin %d = %d outside waveform envelope", i, v)
			}
		}
		if len(snap.FrequencyBins) != Bins {
			rt.Fatalf("got %d frequency bins", len(snap.FrequencyBins))
		}
	})
}

func TestSpeechWaveformDeterministicPerSeed(t *testing.T) {
	now := time.UnixMilli(123456)
	a := NewSpeechWaveform(7).At(now)
	b := NewSpeechWaveform(7).At(now)
	require.Equal(t, a, b)
}
