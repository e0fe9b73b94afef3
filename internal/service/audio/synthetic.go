package audio

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/zhouzirui/voicecall/internal/model/call"
)

// SpeechWaveform 生成近似说话声的示意快照，数值随时间平滑变化并叠加有界随机量。
// 不涉及真实音频。
type SpeechWaveform struct {
	rng *rand.Rand
}

// NewSpeechWaveform 相同种子生成相同序列
func NewSpeechWaveform(seed uint64) *SpeechWaveform {
	return &SpeechWaveform{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// At 指定时刻的快照
func (w *SpeechWaveform) At(now time.Time) call.Snapshot {
	ms := float64(now.UnixNano()) / float64(time.Millisecond)

	freq := make([]uint8, Bins)
	wave := make([]uint8, Bins)
	for i := 0; i < Bins; i++ {
		v := w.rng.Float64()*255*0.7 + (math.Sin(ms/200+float64(i))+1)*30
		freq[i] = toByte(v)
		wave[i] = toByte(128 + math.Sin(ms/100+float64(i))*30)
	}

	return call.Snapshot{
		FrequencyBins: freq,
		TimeBins:      wave,
		Volume:        0.5 + math.Sin(ms/500)*0.2,
	}
}
