// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stt

import (
	"bytes"
	"testing"
)

func TestDownsample48to16Averages(t *testing.T) {
	in := []int16{3, 6, 9, 30, 60, 90, 7}
	out := downsample48to16(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] != 6 || out[1] != 60 {
		t.Fatalf("unexpected averages: %v", out)
	}
}

func TestInt16ToBytesLittleEndian(t *testing.T) {
	got := int16ToBytes([]int16{0x0102, -2})
	want := []byte{0x02, 0x01, 0xfe, 0xff}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
