package playback

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/zhouzirui/voicecall/internal/service/audio"
)

const cueVolume = 0.2

// CuePlayer 播放接通和挂断提示音
type CuePlayer struct {
	player     Player
	connect    []byte
	disconnect []byte
}

// NewCuePlayer 预先生成两段提示音
func NewCuePlayer(player Player) *CuePlayer {
	return &CuePlayer{
		player:     player,
		connect:    Sweep(440, 1320, 180*time.Millisecond, cueVolume),
		disconnect: Sweep(1320, 330, 220*time.Millisecond, cueVolume),
	}
}

func (c *CuePlayer) Connect(ctx context.Context) error {
	return c.player.Play(ctx, c.connect, "wav")
}

func (c *CuePlayer) Disconnect(ctx context.Context) error {
	return c.player.Play(ctx, c.disconnect, "wav")
}

// Sweep 生成线性扫频的单声道 WAV，首尾带短淡入淡出
func Sweep(from, to float64, d time.Duration, volume float64) []byte {
	n := int(d.Seconds() * audio.SampleRate)
	fade := n / 10
	pcm := make([]byte, n*audio.BytesPerSample)

	var phase float64
	for i := 0; i < n; i++ {
		progress := float64(i) / float64(n)
		freq := from + (to-from)*progress
		phase += 2 * math.Pi * freq / audio.SampleRate

		gain := volume
		if fade > 0 && i < fade {
			gain *= float64(i) / float64(fade)
		} else if fade > 0 && i >= n-fade {
			gain *= float64(n-i) / float64(fade)
		}
		sample := int16(math.Sin(phase) * gain * math.MaxInt16)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return audio.EncodeWAV(pcm, audio.SampleRate, 1)
}
