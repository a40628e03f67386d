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

//Package mocks provides in-memory stand-ins for the collaborators of the driver core
package mocks

import (
	"context"
	"errors"
	"sync"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
)

// NotifiedEvent is one recorded notification
type NotifiedEvent struct {
	DeviceID string
	Event    string
	Payload  []byte
}

// Notifier records notifications
type Notifier struct {
	mutex  sync.Mutex
	events []NotifiedEvent
}

// Notify records the event
func (n *Notifier) Notify(_ context.Context, aDeviceID string, aEvent string, aPayload []byte) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.events = append(n.events, NotifiedEvent{DeviceID: aDeviceID, Event: aEvent, Payload: aPayload})
}

// Events returns the recorded event names in order
func (n *Notifier) Events() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	names := make([]string, len(n.events))
	for i, e := range n.events {
		names[i] = e.Event
	}
	return names
}

// Count returns how often aEvent was notified
func (n *Notifier) Count(aEvent string) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	cnt := 0
	for _, e := range n.events {
		if e.Event == aEvent {
			cnt++
		}
	}
	return cnt
}

// Trigger records recovery triggers
type Trigger struct {
	mutex   sync.Mutex
	Accept  bool
	reasons []string
}

// Trigger records the reason and returns Accept
func (t *Trigger) Trigger(_ context.Context, aReason string) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.reasons = append(t.reasons, aReason)
	return t.Accept
}

// Reasons returns all recorded reasons
func (t *Trigger) Reasons() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]string(nil), t.reasons...)
}

// ErrRegistration is returned by Registrar when told to fail
var ErrRegistration = errors.New("netdev registration failed")

// Registrar is a cmn.NetdevRegistrar failing on a configurable interface index
type Registrar struct {
	mutex       sync.Mutex
	FailIndex   int
	FailEnabled bool
	registered  map[string]bool
}

// RegisterInterface registers aIf unless told to fail for its index
func (r *Registrar) RegisterInterface(_ context.Context, aIf cmn.Iinterface) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.FailEnabled && aIf.GetIndex() == r.FailIndex {
		return ErrRegistration
	}
	if r.registered == nil {
		r.registered = make(map[string]bool)
	}
	r.registered[aIf.GetName()] = true
	return nil
}

// UnregisterInterface removes aIf
func (r *Registrar) UnregisterInterface(_ context.Context, aIf cmn.Iinterface) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.registered, aIf.GetName())
}

// Registered returns the number of registered interfaces
func (r *Registrar) Registered() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.registered)
}
