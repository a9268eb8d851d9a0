// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
)

// pullUpstream reads audio from the session's configured upstream URL
// and forwards it to the provider connection. HTTP(S) streams are
// forwarded verbatim; rtp:// URLs are depacketized and opus-decoded.
// Closing the session cancels ctx and aborts the pull immediately.
func (m *Manager) pullUpstream(ctx context.Context, s *Session) {
	s.logger.Info("upstream pull started", "stream_url", s.streamURL)
	defer s.logger.Info("upstream pull stopped")

	var err error
	if strings.HasPrefix(s.streamURL, "rtp://") {
		err = s.pullRTP(ctx)
	} else {
		err = s.pullHTTP(ctx)
	}

	if err != nil && ctx.Err() == nil && !s.closed.Load() {
		s.logger.Error("upstream pull failed", "error", err)
		s.broadcast(Notice{Type: "stt.stream_error", SessionID: s.ID, Message: err.Error()})
	}
}

func (s *Session) pullHTTP(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := s.conn.Send(chunk); err != nil {
				return fmt.Errorf("forwarding stream chunk: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading stream: %w", readErr)
		}
	}
}

// pullRTP listens on the UDP port named by the rtp:// URL, unwraps RTP
// packets and decodes their opus payloads to 16-bit PCM before
// forwarding.
func (s *Session) pullRTP(ctx context.Context) error {
	u, err := url.Parse(s.streamURL)
	if err != nil {
		return fmt.Errorf("parsing rtp url: %w", err)
	}

	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return fmt.Errorf("resolving rtp address: %w", err)
	}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listening for rtp: %w", err)
	}
	defer sock.Close()

	go func() {
		<-ctx.Done()
		sock.Close()
	}()

	dec, err := opus.NewDecoder(48000, 1)
	if err != nil {
		return fmt.Errorf("creating opus decoder: %w", err)
	}

	pcmBuf := make([]int16, 5760) // max 120ms at 48kHz
	rtpBuf := make([]byte, 4096)

	for {
		n, _, readErr := sock.ReadFromUDP(rtpBuf)
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading rtp: %w", readErr)
		}
		if n == 0 {
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(rtpBuf[:n]); err != nil {
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		decoded, err := dec.Decode(packet.Payload, pcmBuf)
		if err != nil {
			s.logger.Debug("opus decode error", "error", err)
			continue
		}
		if decoded == 0 {
			continue
		}

		if err := s.conn.Send(int16ToBytes(downsample48to16(pcmBuf[:decoded]))); err != nil {
			return fmt.Errorf("forwarding rtp audio: %w", err)
		}
	}
}

func int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func downsample48to16(samples []int16) []int16 {
	const ratio = 3 // 48000 / 16000
	outLen := len(samples) / ratio
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		sum := int32(samples[i*ratio]) + int32(samples[i*ratio+1]) + int32(samples[i*ratio+2])
		out[i] = int16(sum / ratio)
	}
	return out
}
