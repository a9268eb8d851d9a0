// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// IngestFunc ships one serialized chunk upstream.
type IngestFunc func(ctx context.Context, chunk []byte) error

// CloseFunc closes the upstream session, best effort.
type CloseFunc func(ctx context.Context)

// Capture owns the input device for the duration of one broadcasting
// run. Device handles are released on every exit path; a leaked handle
// blocks re-activation.
type Capture struct {
	deviceID   string
	encodeOpus bool
	ingest     IngestFunc
	closeUp    CloseFunc
	logger     *slog.Logger
}

func New(deviceID string, encodeOpus bool, ingest IngestFunc, closeUp CloseFunc) *Capture {
	return &Capture{
		deviceID:   deviceID,
		encodeOpus: encodeOpus,
		ingest:     ingest,
		closeUp:    closeUp,
		logger:     slog.With("component", "capture"),
	}
}

// Run records until ctx is cancelled. Device or format errors return
// after cleanup; they never panic. The upstream session is closed on
// every exit path.
func (c *Capture) Run(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.closeUp(closeCtx)
	}()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	device, err := c.pickDevice()
	if err != nil {
		return err
	}
	deviceRate := int(device.DefaultSampleRate)

	pipeline, err := NewPipeline(deviceRate, c.encodeOpus)
	if err != nil {
		return err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(deviceRate)
	params.FramesPerBuffer = framesPerBuffer

	buffer := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	defer stream.Stop()

	c.logger.Info("capture started",
		"device", device.Name, "device_rate", deviceRate, "opus", c.encodeOpus)

	sender := newSender(c.ingest, !c.encodeOpus, c.logger)
	defer sender.wait()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := stream.Read(); err != nil {
			return fmt.Errorf("input stream read failed: %w", err)
		}
		chunks, err := pipeline.Push(buffer)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			sender.send(ctx, chunk)
		}
	}
}

func (c *Capture) pickDevice() (*portaudio.DeviceInfo, error) {
	if c.deviceID == "" || c.deviceID == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	idx, err := strconv.Atoi(c.deviceID)
	if err != nil {
		return nil, fmt.Errorf("invalid input device id %q", c.deviceID)
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if idx < 0 || idx >= len(devices) {
		return nil, fmt.Errorf("input device index %d out of range", idx)
	}
	return devices[idx], nil
}

// sender keeps at most one transmission in flight. Raw PCM chunks
// arriving while a send is outstanding accumulate into one pending
// payload, so backpressure coalesces instead of queueing unbounded.
// Opus packets cannot be concatenated, so in opus mode a stalled send
// drops the late frame instead.
type sender struct {
	ingest   IngestFunc
	logger   *slog.Logger
	joinable bool
	pending  []byte
	busy     bool
	done     chan struct{}
}

const maxPending = 1 << 19 // ~16s of 16 kHz PCM

func newSender(ingest IngestFunc, joinable bool, logger *slog.Logger) *sender {
	return &sender{
		ingest:   ingest,
		logger:   logger,
		joinable: joinable,
		done:     make(chan struct{}, 1),
	}
}

// send is called from the capture loop only; the in-flight goroutine
// signals completion through done.
func (s *sender) send(ctx context.Context, chunk []byte) {
	if s.busy {
		select {
		case <-s.done:
			s.busy = false
		default:
			if !s.joinable {
				s.logger.Debug("send in flight, dropping opus frame")
				return
			}
			if len(s.pending)+len(chunk) > maxPending {
				s.logger.Warn("pending audio overflow, dropping oldest")
				s.pending = s.pending[:0]
			}
			s.pending = append(s.pending, chunk...)
			return
		}
	}

	if len(s.pending) > 0 {
		chunk = append(s.pending, chunk...)
		s.pending = nil
	}

	s.busy = true
	go func(payload []byte) {
		if err := s.ingest(ctx, payload); err != nil && ctx.Err() == nil {
			s.logger.Warn("chunk transmission failed", "bytes", len(payload), "error", err)
		}
		s.done <- struct{}{}
	}(chunk)
}

func (s *sender) wait() {
	if s.busy {
		<-s.done
	}
}
