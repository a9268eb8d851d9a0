// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package readaloud

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"
)

// Player renders synthesized PCM through the system output device with
// a volume stage for the read-aloud level setting.
type Player struct {
	mu     sync.Mutex
	volume float64
	rate   beep.SampleRate
	ready  bool
}

func NewPlayer(volume float64) *Player {
	return &Player{volume: volume}
}

func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.volume = v
}

// Play blocks until the utterance finishes or ctx is cancelled.
// Cancellation stops playback immediately.
func (p *Player) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}

	p.mu.Lock()
	vol := p.volume
	sr := beep.SampleRate(sampleRate)
	if !p.ready {
		// The speaker can only be initialized once; later utterances
		// at other rates are resampled to the first one.
		if err := speaker.Init(sr, sr.N(100*time.Millisecond)); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to open output device: %w", err)
		}
		p.rate = sr
		p.ready = true
	}
	outRate := p.rate
	p.mu.Unlock()

	var streamer beep.Streamer = &pcmStreamer{data: pcm}
	if sr != outRate {
		streamer = beep.Resample(3, sr, outRate, streamer)
	}
	staged := &effects.Volume{
		Streamer: streamer,
		Base:     2,
		Volume:   math.Log2(math.Max(vol, 1e-4)),
		Silent:   vol <= 0,
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(staged, beep.Callback(func() { close(done) })))

	select {
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// pcmStreamer adapts little-endian int16 mono PCM to a beep stream.
type pcmStreamer struct {
	data []byte
	pos  int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.data)-1 {
		return 0, false
	}
	n := 0
	for i := range samples {
		if s.pos >= len(s.data)-1 {
			break
		}
		v := float64(int16(uint16(s.data[s.pos])|uint16(s.data[s.pos+1])<<8)) / (1 << 15)
		samples[i][0] = v
		samples[i][1] = v
		s.pos += 2
		n++
	}
	return n, n > 0
}

func (s *pcmStreamer) Err() error { return nil }
