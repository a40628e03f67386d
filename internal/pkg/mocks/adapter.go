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
	"fmt"
	"net"
	"sync"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
)

// Interface is a minimal cmn.Iinterface
type Interface struct {
	mutex      sync.RWMutex
	name       string
	role       cmn.InterfaceRole
	index      int
	mac        net.HardwareAddr
	registered bool
	stopped    bool
	detached   bool
	txTimeouts uint32
}

// NewInterface returns an interface with the given name, role and index
func NewInterface(aName string, aRole cmn.InterfaceRole, aIndex int) *Interface {
	return &Interface{name: aName, role: aRole, index: aIndex}
}

// GetName returns the interface name
func (i *Interface) GetName() string { return i.name }

// GetRole returns the interface role
func (i *Interface) GetRole() cmn.InterfaceRole { return i.role }

// GetIndex returns the interface index
func (i *Interface) GetIndex() int { return i.index }

// GetMacAddress returns the assigned MAC address
func (i *Interface) GetMacAddress() net.HardwareAddr {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.mac
}

// SetMacAddress assigns the MAC address
func (i *Interface) SetMacAddress(aMac net.HardwareAddr) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.mac = aMac
}

// IsRegistered returns true after registration with the network stack
func (i *Interface) IsRegistered() bool {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.registered
}

// SetRegistered records the registration state
func (i *Interface) SetRegistered(aReg bool) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.registered = aReg
}

// StopTxQueues stops transmission
func (i *Interface) StopTxQueues(context.Context) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.stopped = true
}

// WakeTxQueues resumes transmission
func (i *Interface) WakeTxQueues(context.Context) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.stopped = false
}

// TxQueuesStopped returns true while transmission is stopped
func (i *Interface) TxQueuesStopped() bool {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.stopped
}

// GetTxTimeoutCount returns the tx timeout counter
func (i *Interface) GetTxTimeoutCount() uint32 {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.txTimeouts
}

// SetTxTimeoutCount sets the tx timeout counter
func (i *Interface) SetTxTimeoutCount(aCount uint32) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.txTimeouts = aCount
}

// ResetTxTimeoutCount clears the tx timeout counter
func (i *Interface) ResetTxTimeoutCount() { i.SetTxTimeoutCount(0) }

// Detach marks the interface detached
func (i *Interface) Detach(context.Context) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.detached = true
}

// Attach marks the interface attached
func (i *Interface) Attach(context.Context) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.detached = false
}

// IsDetached returns true between Detach and Attach
func (i *Interface) IsDetached() bool {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.detached
}

// Adapter is a minimal cmn.IadapterHandle
type Adapter struct {
	mutex         sync.RWMutex
	ID            string
	Card          string
	Bus           cmn.BusType
	Roles         []cmn.InterfaceRole
	hwStatus      cmn.HwStatus
	hung          bool
	reload        bool
	country       string
	ifaces        []cmn.Iinterface
	statusHistory []cmn.HwStatus
	removeCalls   int
	workWg        sync.WaitGroup
}

// NewAdapter returns an adapter populating one station interface by default
func NewAdapter(aID string, aBus cmn.BusType) *Adapter {
	return &Adapter{ID: aID, Card: "sd8997", Bus: aBus, Roles: []cmn.InterfaceRole{cmn.RoleStation},
		hwStatus: cmn.HwNotReady}
}

// GetDeviceID returns the adapter id
func (a *Adapter) GetDeviceID() string { return a.ID }

// GetCardType returns the chip name
func (a *Adapter) GetCardType() string { return a.Card }

// GetBusType returns the bus type
func (a *Adapter) GetBusType() cmn.BusType { return a.Bus }

// GetHwStatus returns the hardware status
func (a *Adapter) GetHwStatus() cmn.HwStatus {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.hwStatus
}

// SetHwStatus sets the hardware status and records it
func (a *Adapter) SetHwStatus(_ context.Context, aStatus cmn.HwStatus) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.hwStatus = aStatus
	a.statusHistory = append(a.statusHistory, aStatus)
}

// StatusHistory returns all hardware states set so far
func (a *Adapter) StatusHistory() []cmn.HwStatus {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return append([]cmn.HwStatus(nil), a.statusHistory...)
}

// IsDriverHung returns the sticky hung flag
func (a *Adapter) IsDriverHung() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.hung
}

// SetDriverHung sets the hung flag
func (a *Adapter) SetDriverHung(_ context.Context, aHung bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.hung = aHung
}

// IsFwReload returns the reload flag
func (a *Adapter) IsFwReload() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.reload
}

// SetFwReload sets the reload flag
func (a *Adapter) SetFwReload(aReload bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.reload = aReload
}

// GetActiveCountry returns the last applied country
func (a *Adapter) GetActiveCountry() string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.country
}

// SetActiveCountry records the applied country
func (a *Adapter) SetActiveCountry(_ context.Context, aCountry string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.country = aCountry
}

// GetInterfaces returns the populated interfaces
func (a *Adapter) GetInterfaces() []cmn.Iinterface {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return append([]cmn.Iinterface(nil), a.ifaces...)
}

// PopulateInterfaces creates one interface per configured role
func (a *Adapter) PopulateInterfaces(context.Context) []cmn.Iinterface {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.ifaces = nil
	for i, role := range a.Roles {
		a.ifaces = append(a.ifaces, NewInterface(fmt.Sprintf("%s%d", role.String(), i), role, i))
	}
	return append([]cmn.Iinterface(nil), a.ifaces...)
}

// RemoveInterfaces drops all interfaces
func (a *Adapter) RemoveInterfaces(context.Context) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for _, ifc := range a.ifaces {
		ifc.SetRegistered(false)
	}
	a.ifaces = nil
	a.removeCalls++
}

// RemoveCalls returns how often RemoveInterfaces was called
func (a *Adapter) RemoveCalls() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.removeCalls
}

// GetTxTimeouts returns the tx timeout counters by interface name
func (a *Adapter) GetTxTimeouts() map[string]uint32 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	res := make(map[string]uint32, len(a.ifaces))
	for _, ifc := range a.ifaces {
		res[ifc.GetName()] = ifc.GetTxTimeoutCount()
	}
	return res
}

// QueueWork runs aWork in its own goroutine
func (a *Adapter) QueueWork(_ string, aWork func(context.Context)) bool {
	a.workWg.Add(1)
	go func() {
		defer a.workWg.Done()
		aWork(context.Background())
	}()
	return true
}

// WaitWork waits for all queued work
func (a *Adapter) WaitWork() {
	a.workWg.Wait()
}
