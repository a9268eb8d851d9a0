// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package readaloud

import (
	"context"
	"math"
	"strings"
)

// Synthesizer turns text into 16-bit mono PCM.
type Synthesizer interface {
	// Synthesize returns little-endian int16 PCM and its sample rate.
	Synthesize(ctx context.Context, text string) (pcm []byte, sampleRate int, err error)
}

// StubSynthesizer produces a deterministic tone per word. It stands in
// for a real engine in tests and when no system voice is configured.
type StubSynthesizer struct {
	SampleRate int
}

const (
	stubDefaultRate  = 16000
	stubWordDuration = 0.12 // seconds per word
)

func (s StubSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	rate := s.SampleRate
	if rate <= 0 {
		rate = stubDefaultRate
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, rate, nil
	}

	samplesPerWord := int(float64(rate) * stubWordDuration)
	pcm := make([]byte, 0, len(words)*samplesPerWord*2)
	for _, word := range words {
		if err := ctx.Err(); err != nil {
			return nil, rate, err
		}
		// Pitch derived from the word so identical input yields
		// identical audio.
		freq := 220.0 + float64(wordSum(word)%24)*20.0
		for i := 0; i < samplesPerWord; i++ {
			v := math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
			sample := int16(v * 0.25 * math.MaxInt16)
			pcm = append(pcm, byte(sample), byte(sample>>8))
		}
	}
	return pcm, rate, nil
}

func wordSum(word string) int {
	sum := 0
	for _, r := range word {
		sum += int(r)
	}
	return sum
}
