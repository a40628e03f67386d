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

//Package initsync provides the one-shot completion rendezvous used while waiting for device init
package initsync

import (
	"context"
	"sync"
	"time"
)

// Result of a Wait
type Result uint8

const (
	// Signaled - completion was reported
	Signaled Result = iota
	// TimedOut - no completion within the timeout or the context ended
	TimedOut
	// NotArmed - Wait was called without a preceding Arm
	NotArmed
)

// String - Return the text representation of the wait result
func (r Result) String() string {
	switch r {
	case Signaled:
		return "signaled"
	case TimedOut:
		return "timed-out"
	}
	return "not-armed"
}

// InitSynchronizer lets a completion callback running in any goroutine release the waiting sequencer.
// Every Arm starts a new round; a completion of the current round is seen by exactly one Wait.
type InitSynchronizer struct {
	mutexSync  sync.Mutex
	armed      bool
	signaled   bool
	completion chan error
}

// NewInitSynchronizer returns an unarmed synchronizer
func NewInitSynchronizer() *InitSynchronizer {
	return &InitSynchronizer{}
}

// Arm starts a new round, a pending completion of an earlier round is discarded
func (s *InitSynchronizer) Arm() {
	s.mutexSync.Lock()
	defer s.mutexSync.Unlock()
	s.completion = make(chan error, 1)
	s.armed = true
	s.signaled = false
}

// Signal reports successful completion; returns false if not armed or already signaled in this round
func (s *InitSynchronizer) Signal() bool {
	return s.complete(nil)
}

// Fail reports a failed completion with its reason
func (s *InitSynchronizer) Fail(aReason error) bool {
	return s.complete(aReason)
}

func (s *InitSynchronizer) complete(aReason error) bool {
	s.mutexSync.Lock()
	defer s.mutexSync.Unlock()
	if !s.armed || s.signaled {
		return false
	}
	s.signaled = true
	s.completion <- aReason
	return true
}

// Wait blocks until the current round is completed, aTimeout passes or ctx ends.
// The returned error carries the reason given to Fail.
func (s *InitSynchronizer) Wait(ctx context.Context, aTimeout time.Duration) (Result, error) {
	s.mutexSync.Lock()
	if !s.armed {
		s.mutexSync.Unlock()
		return NotArmed, nil
	}
	completion := s.completion
	s.mutexSync.Unlock()

	timer := time.NewTimer(aTimeout)
	defer timer.Stop()
	select {
	case reason := <-completion:
		s.mutexSync.Lock()
		if s.completion == completion {
			s.armed = false
		}
		s.mutexSync.Unlock()
		return Signaled, reason
	case <-timer.C:
		return TimedOut, nil
	case <-ctx.Done():
		return TimedOut, ctx.Err()
	}
}

// IsArmed returns true while a round is open
func (s *InitSynchronizer) IsArmed() bool {
	s.mutexSync.Lock()
	defer s.mutexSync.Unlock()
	return s.armed
}
