// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package constants

import "time"

const (
	ProviderDialTimeout   = 30 * time.Second
	ProviderKeepAlive     = 3 * time.Second
	ProviderEventBuffer   = 256
	ListenerEventBuffer   = 64
	SendTimeout           = 10 * time.Second
	TimeoutIncreaseFactor = 1.5

	SSEKeepAlive = 15 * time.Second

	TargetSampleRate = 16000
	ChunkDuration    = 250 * time.Millisecond
	MinInterimGap    = 800 * time.Millisecond

	PollInterval  = 1200 * time.Millisecond
	PollPageLimit = 25

	ListLimitDefault = 20
	ListLimitMax     = 100

	CaptionWindowSize = 4
	CaptionCharBudget = 220

	TranslateTimeout = 20 * time.Second
)
