/*
 * Copyright 2024-present Open Networking Foundation

 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at

 * http://www.apache.org/licenses/LICENSE-2.0

 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tcpack

import (
	"context"
	"sync"
	"time"

	om "github.com/cevaris/ordered_map"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// default tunables
const (
	CDefaultFlushDelay  = 1 * time.Millisecond
	CDefaultIdleTimeout = 300 * time.Millisecond
	CDefaultMaxHold     = 9
	CDefaultMaxSessions = 128
)

// Verdict tells the caller of Submit who owns the buffer now
type Verdict uint8

const (
	// PassThrough - the caller sends the buffer itself
	PassThrough Verdict = iota
	// Held - the coalescer owns the buffer and sends it later
	Held
	// Dropped - the buffer could not be queued and was released
	Dropped
)

// String - Return the text representation of the verdict
func (v Verdict) String() string {
	switch v {
	case PassThrough:
		return "pass-through"
	case Held:
		return "held"
	}
	return "dropped"
}

// flush causes
const (
	causeTimer     = "timer"
	causeThreshold = "threshold"
	causeExplicit  = "explicit"
	causeReorder   = "reorder"
	causeNonAck    = "non-ack"
)

// TxFunc hands a flushed buffer to the transmit path, which takes ownership
type TxFunc func(ctx context.Context, aBuf *Buffer)

// Config holds the coalescer tunables
type Config struct {
	FlushDelay  time.Duration
	IdleTimeout time.Duration
	MaxHold     int
	MaxSessions int
}

// DefaultConfig returns the driver defaults
func DefaultConfig() Config {
	return Config{
		FlushDelay:  CDefaultFlushDelay,
		IdleTimeout: CDefaultIdleTimeout,
		MaxHold:     CDefaultMaxHold,
		MaxSessions: CDefaultMaxSessions,
	}
}

type pendingAck struct {
	key        FlowKey
	held       *Buffer
	ackSeq     uint32
	holdCount  int
	timer      *time.Timer
	generation uint64
	lastActive time.Time
}

//Coalescer holds back pure TCP ACKs per flow and replaces them in place by newer ones
type Coalescer struct {
	ifName     string
	cfg        Config
	tx         TxFunc
	clock      cmn.Clock
	mutexTable sync.Mutex
	table      *om.OrderedMap
	parser     *segmentParser
	drained    bool
}

//NewCoalescer returns an empty coalescer for interface aIfName sending flushed ACKs through aTx
func NewCoalescer(ctx context.Context, aIfName string, aCfg Config, aTx TxFunc) *Coalescer {
	def := DefaultConfig()
	if aCfg.FlushDelay <= 0 {
		aCfg.FlushDelay = def.FlushDelay
	}
	if aCfg.IdleTimeout <= 0 {
		aCfg.IdleTimeout = def.IdleTimeout
	}
	if aCfg.MaxHold <= 0 {
		aCfg.MaxHold = def.MaxHold
	}
	if aCfg.MaxSessions <= 0 {
		aCfg.MaxSessions = def.MaxSessions
	}
	logger.Debugw(ctx, "tcp ack coalescer created", log.Fields{"interface": aIfName, "flush-delay": aCfg.FlushDelay,
		"idle-timeout": aCfg.IdleTimeout, "max-hold": aCfg.MaxHold, "max-sessions": aCfg.MaxSessions})
	return &Coalescer{
		ifName: aIfName,
		cfg:    aCfg,
		tx:     aTx,
		clock:  cmn.SystemClock,
		table:  om.NewOrderedMap(),
		parser: newSegmentParser(),
	}
}

//SetClock replaces the time source of the idle aging
func (c *Coalescer) SetClock(aClock cmn.Clock) {
	c.mutexTable.Lock()
	defer c.mutexTable.Unlock()
	c.clock = aClock
}

//Submit offers an outbound frame; see Verdict for the ownership of aBuf afterwards
func (c *Coalescer) Submit(ctx context.Context, aBuf *Buffer) Verdict {
	var toSend []*Buffer
	var causes []string
	verdict := c.submit(ctx, aBuf, &toSend, &causes)
	c.transmit(ctx, toSend, causes)
	metrics.TCPAckSegments.WithLabelValues(c.ifName, verdict.String()).Inc()
	return verdict
}

//Flush sends the held ACK of aKey now; returns false if none was held
func (c *Coalescer) Flush(ctx context.Context, aKey FlowKey) bool {
	c.mutexTable.Lock()
	buf := c.takeHeldLocked(aKey)
	c.mutexTable.Unlock()
	if buf == nil {
		return false
	}
	c.transmit(ctx, []*Buffer{buf}, []string{causeExplicit})
	return true
}

//FlushAll sends all held ACKs now; the flow records are kept
func (c *Coalescer) FlushAll(ctx context.Context) int {
	var toSend []*Buffer
	c.mutexTable.Lock()
	for _, key := range c.keysLocked() {
		if buf := c.takeHeldLocked(key); buf != nil {
			toSend = append(toSend, buf)
		}
	}
	c.mutexTable.Unlock()
	causes := make([]string, len(toSend))
	for i := range causes {
		causes[i] = causeExplicit
	}
	c.transmit(ctx, toSend, causes)
	return len(toSend)
}

//Drain stops coalescing: all timers are stopped, held ACKs are released unsent and the table is emptied.
//Submit passes everything through until Resume is called.
func (c *Coalescer) Drain(ctx context.Context) int {
	c.mutexTable.Lock()
	defer c.mutexTable.Unlock()
	released := 0
	for _, key := range c.keysLocked() {
		if c.removeLocked(key) {
			released++
		}
	}
	c.drained = true
	logger.Debugw(ctx, "tcp ack coalescer drained", log.Fields{"interface": c.ifName, "released": released})
	return released
}

//Resume re-enables coalescing after Drain
func (c *Coalescer) Resume(ctx context.Context) {
	c.mutexTable.Lock()
	defer c.mutexTable.Unlock()
	c.drained = false
	logger.Debugw(ctx, "tcp ack coalescer resumed", log.Fields{"interface": c.ifName})
}

//Sessions returns the number of tracked flows
func (c *Coalescer) Sessions() int {
	c.mutexTable.Lock()
	defer c.mutexTable.Unlock()
	return c.table.Len()
}

//IsHeld returns true if an ACK of aKey is currently held
func (c *Coalescer) IsHeld(aKey FlowKey) bool {
	c.mutexTable.Lock()
	defer c.mutexTable.Unlock()
	if rec, ok := c.getLocked(aKey); ok {
		return rec.held != nil
	}
	return false
}

// Coalescer private (unexported) methods -- start

func (c *Coalescer) submit(ctx context.Context, aBuf *Buffer, aToSend *[]*Buffer, aCauses *[]string) Verdict {
	c.mutexTable.Lock()
	defer c.mutexTable.Unlock()
	if c.drained {
		return PassThrough
	}
	info, ok := c.parser.parse(aBuf.Bytes())
	if !ok {
		return PassThrough
	}
	rec, exists := c.getLocked(info.key)
	if !info.pureAck {
		if exists {
			// the held ack must not overtake this segment
			if held := c.takeHeldLocked(info.key); held != nil {
				*aToSend = append(*aToSend, held)
				*aCauses = append(*aCauses, causeNonAck)
			}
			c.removeLocked(info.key)
		}
		return PassThrough
	}
	now := c.clock()

	if !exists {
		c.sweepLocked(ctx, now)
		if c.table.Len() >= c.cfg.MaxSessions {
			logger.Warnw(ctx, "tcp ack session table full - segment dropped", log.Fields{"interface": c.ifName,
				"flow": info.key.String(), "sessions": c.table.Len()})
			aBuf.Release()
			return Dropped
		}
		rec = &pendingAck{key: info.key}
		c.table.Set(info.key, rec)
		c.holdLocked(rec, aBuf, info.ack, now)
		return Held
	}
	rec.lastActive = now
	if rec.held == nil {
		c.holdLocked(rec, aBuf, info.ack, now)
		return Held
	}
	if !seqAfter(info.ack, rec.ackSeq) || aBuf.Len() != rec.held.Len() {
		held := c.takeHeldLocked(info.key)
		*aToSend = append(*aToSend, held)
		*aCauses = append(*aCauses, causeReorder)
		return PassThrough
	}
	copy(rec.held.data, aBuf.Bytes())
	rec.ackSeq = info.ack
	rec.holdCount++
	aBuf.Release()
	metrics.TCPAckSegments.WithLabelValues(c.ifName, "coalesced").Inc()
	if rec.holdCount >= c.cfg.MaxHold {
		*aToSend = append(*aToSend, c.takeHeldLocked(info.key))
		*aCauses = append(*aCauses, causeThreshold)
	}
	return Held
}

func (c *Coalescer) holdLocked(aRec *pendingAck, aBuf *Buffer, aAck uint32, aNow time.Time) {
	aRec.held = aBuf
	aRec.ackSeq = aAck
	aRec.holdCount = 1
	aRec.lastActive = aNow
	aRec.generation++
	key, gen := aRec.key, aRec.generation
	aRec.timer = time.AfterFunc(c.cfg.FlushDelay, func() { c.onTimer(key, gen) })
}

//onTimer runs in the timer goroutine; a fire for a flushed, re-armed or removed record does nothing
func (c *Coalescer) onTimer(aKey FlowKey, aGeneration uint64) {
	c.mutexTable.Lock()
	rec, ok := c.getLocked(aKey)
	if !ok || rec.generation != aGeneration || rec.held == nil {
		c.mutexTable.Unlock()
		return
	}
	buf := rec.held
	rec.held = nil
	rec.timer = nil
	c.mutexTable.Unlock()
	c.transmit(context.Background(), []*Buffer{buf}, []string{causeTimer})
}

//takeHeldLocked clears the held slot of aKey and disarms its timer, the record stays
func (c *Coalescer) takeHeldLocked(aKey FlowKey) *Buffer {
	rec, ok := c.getLocked(aKey)
	if !ok || rec.held == nil {
		return nil
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	rec.generation++
	buf := rec.held
	rec.held = nil
	return buf
}

//removeLocked deletes the record of aKey, releasing its held buffer; returns true if one was held
func (c *Coalescer) removeLocked(aKey FlowKey) bool {
	buf := c.takeHeldLocked(aKey)
	c.table.Delete(aKey)
	if buf != nil {
		buf.Release()
		metrics.TCPAckSegments.WithLabelValues(c.ifName, "released").Inc()
		return true
	}
	return false
}

//sweepLocked removes all records idle longer than the idle timeout
func (c *Coalescer) sweepLocked(ctx context.Context, aNow time.Time) {
	var aged []FlowKey
	iter := c.table.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() {
		rec := kv.Value.(*pendingAck)
		if aNow.Sub(rec.lastActive) > c.cfg.IdleTimeout {
			aged = append(aged, rec.key)
		}
	}
	for _, key := range aged {
		c.removeLocked(key)
	}
	if len(aged) > 0 {
		logger.Debugw(ctx, "idle tcp ack sessions aged out", log.Fields{"interface": c.ifName, "count": len(aged)})
	}
}

func (c *Coalescer) getLocked(aKey FlowKey) (*pendingAck, bool) {
	val, ok := c.table.Get(aKey)
	if !ok {
		return nil, false
	}
	return val.(*pendingAck), true
}

func (c *Coalescer) keysLocked() []FlowKey {
	keys := make([]FlowKey, 0, c.table.Len())
	iter := c.table.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() {
		keys = append(keys, kv.Key.(FlowKey))
	}
	return keys
}

func (c *Coalescer) transmit(ctx context.Context, aBufs []*Buffer, aCauses []string) {
	for i, buf := range aBufs {
		metrics.TCPAckFlushes.WithLabelValues(c.ifName, aCauses[i]).Inc()
		c.tx(ctx, buf)
	}
}
