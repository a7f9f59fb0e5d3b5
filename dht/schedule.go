// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dht

import (
	"math/rand"
	"time"

	"github.com/droundy/pmail/bloom"
)

// scheduleInternalLocked picks a ring slot for a packet due at
// targetEpochSeconds and writes it there, per §9's pinned policy:
// idx = (now_ms+1)/T + 1 + rand() mod max(1, (eta*1000-now_ms)/T),
// then scan forward from idx for a free slot. steadfast controls how
// many slots are tried before giving up (schedule searches the whole
// window; scheduleIfConvenient tries exactly one).
func (n *Node) scheduleInternalLocked(pkt ScheduledPacket, targetEpochSeconds uint32, steadfast bool) bool {
	nowMs := time.Since(Epoch).Milliseconds()
	targetMs := int64(targetEpochSeconds) * 1000

	span := (targetMs - nowMs) / n.tickPeriod.Milliseconds()
	if span < 1 {
		span = 1
	}
	base := (nowMs+1)/n.tickPeriod.Milliseconds() + 1 + rand.Int63n(span)

	attempts := 1
	if steadfast {
		attempts = TIMER_WINDOW
	}
	for i := 0; i < attempts; i++ {
		idx := (uint64(base) + uint64(i)) % TIMER_WINDOW
		if n.timer[idx] == nil {
			cp := pkt
			n.timer[idx] = &cp
			return true
		}
	}
	return false
}

// Schedule searches up to TIMER_WINDOW slots for a free one
// (steadfast): used for ordinary relayed traffic, where dropping a
// packet should be rare and worth logging.
func (n *Node) Schedule(pkt ScheduledPacket, etaSeconds uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scheduleInternalLocked(pkt, etaSeconds, true)
}

// ScheduleIfConvenient searches exactly one slot and drops otherwise;
// used for whoami replies so a flood of whoami requests can't fill
// the timer ring (whoami is inherently best-effort).
func (n *Node) ScheduleIfConvenient(pkt ScheduledPacket, etaSeconds uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scheduleInternalLocked(pkt, etaSeconds, false)
}

// ScheduleASAP schedules a packet for the next convenient tick
// (its eta is effectively "now"), used for relaying a packet whose
// ETA has already passed.
func (n *Node) ScheduleASAP(pkt ScheduledPacket) bool {
	return n.Schedule(pkt, nowEpochSeconds())
}

// popAnyScheduledLocked removes and returns the first occupied ring
// slot, in no particular order.
func (n *Node) popAnyScheduledLocked() (ScheduledPacket, bool) {
	for i := range n.timer {
		if n.timer[i] != nil {
			sp := *n.timer[i]
			n.timer[i] = nil
			return sp, true
		}
	}
	return ScheduledPacket{}, false
}

// PopAnyScheduled removes and returns the first occupied ring slot, in
// no particular order. Used to drain pending sends on shutdown, and in
// tests that want to fire a scheduled packet without reproducing the
// exact tick index scheduleInternalLocked chose for it.
func (n *Node) PopAnyScheduled() (ScheduledPacket, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.popAnyScheduledLocked()
}

// Msg implements the per-tick decision (§4.4): if the ring slot for
// idx holds a scheduled packet, emit it (clearing the slot; liveness
// for its route was already decremented when this node built it);
// otherwise synthesize a maintenance packet (whoami or greeting loop).
func (n *Node) Msg(idx uint64) (ScheduledPacket, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if idx%TIMER_WINDOW == 0 {
		n.replayPrev = n.replayCur
		n.replayCur = bloom.New(replayFilterBits, replayFilterHashes)
	}

	slot := idx % TIMER_WINDOW
	if sp := n.timer[slot]; sp != nil {
		n.timer[slot] = nil
		return *sp, true
	}
	return n.synthesizeMaintenanceLocked()
}
