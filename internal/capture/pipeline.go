// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capture records microphone audio and ships it upstream as
// 16 kHz chunks.
package capture

import (
	"fmt"

	"github.com/hraban/opus"

	"github.com/orbitmeet/live_translator/internal/constants"
)

// Pipeline is the resample-and-chunk stage between the input device
// and the network. It owns its sample buffer so the math is testable
// without a device.
type Pipeline struct {
	deviceRate int
	encoder    *opus.Encoder

	buf          []int16
	chunkSamples int

	// linear-interpolation state carried across pushes
	pos  float64
	prev int16
	seen bool

	// 48k fast-path remainder
	rem []int16
}

// NewPipeline builds a stage resampling deviceRate mono input to
// 16 kHz int16 PCM chunks of roughly 250 ms. With encodeOpus set,
// chunks shrink to one 60 ms opus frame each, the largest packet the
// codec accepts.
func NewPipeline(deviceRate int, encodeOpus bool) (*Pipeline, error) {
	if deviceRate <= 0 {
		return nil, fmt.Errorf("invalid device sample rate %d", deviceRate)
	}

	p := &Pipeline{
		deviceRate:   deviceRate,
		chunkSamples: int(constants.TargetSampleRate * constants.ChunkDuration.Seconds()),
	}
	if encodeOpus {
		enc, err := opus.NewEncoder(constants.TargetSampleRate, 1, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("failed to create opus encoder: %w", err)
		}
		p.encoder = enc
		p.chunkSamples = constants.TargetSampleRate * 60 / 1000
	}
	return p, nil
}

// Push folds device samples in and returns any chunks that became
// ready, already serialized for ingest.
func (p *Pipeline) Push(samples []int16) ([][]byte, error) {
	p.buf = append(p.buf, p.resample(samples)...)

	var chunks [][]byte
	for len(p.buf) >= p.chunkSamples {
		frame := p.buf[:p.chunkSamples]
		p.buf = p.buf[p.chunkSamples:]

		if p.encoder != nil {
			packet := make([]byte, 4000)
			n, err := p.encoder.Encode(frame, packet)
			if err != nil {
				return chunks, fmt.Errorf("opus encode failed: %w", err)
			}
			chunks = append(chunks, packet[:n])
			continue
		}
		chunks = append(chunks, int16ToBytes(frame))
	}
	return chunks, nil
}

// Flush returns whatever is buffered as one short final chunk.
// Opus-framed pipelines drop the tail since partial frames cannot be
// encoded.
func (p *Pipeline) Flush() []byte {
	if len(p.buf) == 0 || p.encoder != nil {
		p.buf = p.buf[:0]
		return nil
	}
	out := int16ToBytes(p.buf)
	p.buf = p.buf[:0]
	return out
}

func (p *Pipeline) resample(in []int16) []int16 {
	switch {
	case p.deviceRate == constants.TargetSampleRate:
		out := make([]int16, len(in))
		copy(out, in)
		return out
	case p.deviceRate == 3*constants.TargetSampleRate:
		return p.downsample3to1(in)
	default:
		return p.resampleLinear(in)
	}
}

// downsample3to1 averages triplets, carrying the remainder so no
// sample is lost across pushes.
func (p *Pipeline) downsample3to1(in []int16) []int16 {
	merged := append(p.rem, in...)
	out := make([]int16, 0, len(merged)/3)
	i := 0
	for ; i+3 <= len(merged); i += 3 {
		sum := int(merged[i]) + int(merged[i+1]) + int(merged[i+2])
		out = append(out, int16(sum/3))
	}
	p.rem = append(p.rem[:0], merged[i:]...)
	return out
}

// resampleLinear interpolates between neighboring samples for
// arbitrary device rates, carrying the fractional read position and
// the last sample across pushes.
func (p *Pipeline) resampleLinear(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}

	src := in
	if p.seen {
		src = make([]int16, 0, len(in)+1)
		src = append(src, p.prev)
		src = append(src, in...)
	}

	step := float64(p.deviceRate) / float64(constants.TargetSampleRate)
	out := make([]int16, 0, int(float64(len(src))/step)+1)
	for {
		i := int(p.pos)
		if i+1 >= len(src) {
			break
		}
		frac := p.pos - float64(i)
		v := float64(src[i])*(1-frac) + float64(src[i+1])*frac
		out = append(out, int16(v))
		p.pos += step
	}

	p.pos -= float64(len(src) - 1)
	if p.pos < 0 {
		p.pos = 0
	}
	p.prev = in[len(in)-1]
	p.seen = true
	return out
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
