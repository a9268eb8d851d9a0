// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package readaloud speaks finalized translated text through a local
// synthesizer and ducks the call's own output while doing so.
package readaloud

import (
	"sync"
)

// CallOutput is the call's output volume control the ducker operates
// on. Implementations wrap whatever the call platform exposes.
type CallOutput interface {
	Volume() float64
	SetVolume(v float64)
}

// Ducker lowers the call output while synthesized speech plays.
// The pre-duck volume is captured exactly once per speaking run;
// nested Duck calls never overwrite it.
type Ducker struct {
	mu       sync.Mutex
	out      CallOutput
	level    float64
	enabled  bool
	captured *float64
}

func NewDucker(out CallOutput, duckedLevel float64, enabled bool) *Ducker {
	return &Ducker{
		out:     out,
		level:   duckedLevel,
		enabled: enabled,
	}
}

// Duck lowers the call output. Safe to call repeatedly while speaking.
func (d *Ducker) Duck() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || d.out == nil || d.captured != nil {
		return
	}
	v := d.out.Volume()
	d.captured = &v
	d.out.SetVolume(d.level)
}

// Release restores the captured volume and clears the reference.
// Idempotent.
func (d *Ducker) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked()
}

func (d *Ducker) releaseLocked() {
	if d.captured == nil {
		return
	}
	d.out.SetVolume(*d.captured)
	d.captured = nil
}

// SetEnabled toggles ducking. Disabling mid-speech restores the call
// volume immediately, independent of the read-aloud state.
func (d *Ducker) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled == enabled {
		return
	}
	d.enabled = enabled
	if !enabled {
		d.releaseLocked()
	}
}
