// Package useragent rotates browser User-Agent strings for outbound fetches.
package useragent

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync/atomic"
)

// Desktop is a set of current desktop browser User-Agents. News sites serve
// full article markup to these rather than AMP or app-install interstitials.
var Desktop = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:140.0) Gecko/20100101 Firefox/140.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:140.0) Gecko/20100101 Firefox/140.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36 Edg/138.0.0.0",
}

// Mode selects how a Pool hands out User-Agents.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeRandom     Mode = "random"
)

// ParseMode validates a configured rotation mode. Empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeRandom:
		return ModeRandom, nil
	default:
		return "", fmt.Errorf("useragent: unknown mode %q", s)
	}
}

// Pool is a fixed set of User-Agents. It is safe for concurrent use.
type Pool struct {
	uas     []string
	mode    Mode
	counter atomic.Uint64
}

// NewPool creates a pool over uas, falling back to Desktop when uas is empty.
func NewPool(uas []string, mode Mode) *Pool {
	if len(uas) == 0 {
		uas = Desktop
	}
	if mode == "" {
		mode = ModeSequential
	}
	return &Pool{
		uas:  slices.Clone(uas),
		mode: mode,
	}
}

// Pick returns a User-Agent according to the pool's mode.
func (p *Pool) Pick() string {
	if p.mode == ModeRandom {
		return p.Random()
	}
	return p.Next()
}

// Next returns User-Agents round robin.
func (p *Pool) Next() string {
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// Random returns a uniformly chosen User-Agent.
func (p *Pool) Random() string {
	return p.uas[rand.IntN(len(p.uas))]
}

// Len reports the number of User-Agents in the pool.
func (p *Pool) Len() int {
	return len(p.uas)
}
