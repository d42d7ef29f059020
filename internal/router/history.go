package router

import (
	"strings"
	"sync"
	"time"

	"overseer/internal/capability"
)

const (
	historyDepth  = 5
	historyWindow = 10 * time.Second
	backoffBase   = 2 * time.Second
	backoffCap    = 8 * time.Second
	loopThreshold = 3
)

type historyEntry struct {
	content string
	at      time.Time
}

// callHistory remembers the last few results per capability inside a short
// window and spots capabilities that keep producing the same empty answer.
type callHistory struct {
	mu     sync.Mutex
	recent map[string][]historyEntry
	now    func() time.Time
}

func newCallHistory() *callHistory {
	return &callHistory{recent: make(map[string][]historyEntry), now: time.Now}
}

// record appends a result and returns how many consecutive recent calls,
// including this one, produced byte-identical non-informative content.
// Informative results reset the streak.
func (h *callHistory) record(capName string, res *capability.Result) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	entries := h.recent[capName]

	// Drop entries outside the window, keep at most the last few.
	kept := entries[:0]
	for _, e := range entries {
		if now.Sub(e.at) <= historyWindow {
			kept = append(kept, e)
		}
	}
	if len(kept) >= historyDepth {
		kept = kept[len(kept)-historyDepth+1:]
	}
	kept = append(kept, historyEntry{content: res.Content, at: now})
	h.recent[capName] = kept

	if !nonInformative(res) {
		return 0
	}
	streak := 0
	for i := len(kept) - 1; i >= 0; i-- {
		if kept[i].content != res.Content {
			break
		}
		streak++
	}
	return streak
}

// backoffFor computes the delay applied after the nth identical repeat.
func backoffFor(streak int) time.Duration {
	if streak < 2 {
		return 0
	}
	d := backoffBase << (streak - 2)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// nonInformative reports whether a result carries no usable content.
func nonInformative(res *capability.Result) bool {
	if res == nil || !res.Success {
		return true
	}
	trimmed := strings.TrimSpace(res.Content)
	switch trimmed {
	case "", "null", "{}", "[]", "none":
		return true
	}
	return false
}
