// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orbitmeet/live_translator/internal/constants"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider opens streaming connections against the Deepgram
// listen API with diarization, punctuation and interim results enabled.
type DeepgramProvider struct {
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger
}

func NewDeepgramProvider(apiKey, model string) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepgramListenURL,
		logger:  slog.With("component", "deepgram_provider"),
	}
}

// SetBaseURL overrides the listen endpoint. Test hook.
func (p *DeepgramProvider) SetBaseURL(u string) { p.baseURL = u }

func (p *DeepgramProvider) Name() string { return "deepgram" }

func (p *DeepgramProvider) Open(ctx context.Context, cfg OpenConfig) (LiveConnection, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY not configured", ErrProviderUnavailable)
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreateFailed, err)
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	lang := cfg.Language
	if lang == "" || lang == "auto" {
		lang = "multi"
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("punctuate", "true")
	q.Set("vad_events", "true")
	if cfg.SampleRate > 0 {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
		q.Set("channels", "1")
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: constants.ProviderDialTimeout}
	header := http.Header{"Authorization": []string{"Token " + p.apiKey}}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", ErrSessionCreateFailed, err)
	}

	dc := &deepgramConn{
		conn:   conn,
		events: make(chan Event, constants.ProviderEventBuffer),
		done:   make(chan struct{}),
		logger: p.logger,
	}
	// Buffer the open event before the read loop starts: readLoop owns
	// the events channel and closes it when the socket drops, so nothing
	// may send on it after the loop is running.
	dc.emit(Event{Kind: EventOpen})
	go dc.readLoop()
	go dc.keepAliveLoop()

	return dc, nil
}

type deepgramConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	logger  *slog.Logger
}

// Wire shape of Deepgram live transcription messages. Only the fields
// the session manager consumes are mapped.
type deepgramMessage struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word    string `json:"word"`
				Speaker *int   `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

func (c *deepgramConn) Send(audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (c *deepgramConn) Events() <-chan Event { return c.events }

func (c *deepgramConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *deepgramConn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

func (c *deepgramConn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.emit(Event{Kind: EventError, Err: err})
			}
			c.emit(Event{Kind: EventClose})
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("unparseable provider message", "error", err)
			continue
		}

		switch msg.Type {
		case "SpeechStarted":
			c.emit(Event{Kind: EventTranscript, Result: &Result{SpeechStarted: true}})
		case "Results":
			c.emit(Event{Kind: EventTranscript, Result: resultFromMessage(&msg)})
		case "Error":
			c.emit(Event{Kind: EventError, Err: fmt.Errorf("provider error: %s", msg.Description)})
		}
	}
}

func resultFromMessage(msg *deepgramMessage) *Result {
	res := &Result{
		StartSec:    msg.Start,
		DurationSec: msg.Duration,
		IsFinal:     msg.IsFinal || msg.SpeechFinal,
	}
	if len(msg.Channel.Alternatives) == 0 {
		return res
	}
	alt := msg.Channel.Alternatives[0]
	res.Text = alt.Transcript
	conf := alt.Confidence
	res.Confidence = &conf
	for _, w := range alt.Words {
		res.Words = append(res.Words, Word{Text: w.Word, Speaker: w.Speaker})
	}
	return res
}

// keepAliveLoop keeps the provider connection open during silence; the
// listen API drops streams that stay quiet for more than ~10 seconds.
func (c *deepgramConn) keepAliveLoop() {
	ticker := time.NewTicker(constants.ProviderKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *deepgramConn) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("provider event buffer full, dropping event", "kind", ev.Kind)
	}
}
