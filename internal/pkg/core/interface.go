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

//Package core provides the adapter handles, their interfaces and the process wide adapter registry
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/tcpack"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/tevino/abool"
	"go.uber.org/atomic"
)

// ErrTxStopped - the transmit queues of the interface are stopped
var ErrTxStopped = errors.New("tx-queues-stopped")

// interface name prefixes per role
var ifNamePrefix = map[cmn.InterfaceRole]string{
	cmn.RoleStation:    "mlan",
	cmn.RoleAP:         "uap",
	cmn.RoleWifiDirect: "wfd",
}

//Interface is one network endpoint of an adapter
type Interface struct {
	name        string
	role        cmn.InterfaceRole
	index       int
	deviceID    string
	pAdapter    *AdapterHandle
	pMlan       cmn.Mlan
	pCoalescer  *tcpack.Coalescer
	mutexIf     sync.RWMutex
	mac         net.HardwareAddr
	registered  bool
	connected   bool
	scanPending bool
	schedScan   bool
	txStopped   *abool.AtomicBool
	txTimeouts  *atomic.Uint32
	txFrames    *atomic.Uint64
}

//newInterface creates the interface aIndex of role aRole; its tx path coalesces ACKs if aAckCfg is given
func newInterface(ctx context.Context, apAdapter *AdapterHandle, aRole cmn.InterfaceRole, aRoleIndex int,
	aIndex int, aAckCfg *tcpack.Config) *Interface {
	ifc := &Interface{
		name:       fmt.Sprintf("%s%d", ifNamePrefix[aRole], aRoleIndex),
		role:       aRole,
		index:      aIndex,
		deviceID:   apAdapter.GetDeviceID(),
		pAdapter:   apAdapter,
		pMlan:      apAdapter.pMlan,
		txStopped:  abool.New(),
		txTimeouts: atomic.NewUint32(0),
		txFrames:   atomic.NewUint64(0),
	}
	if aAckCfg != nil {
		ifc.pCoalescer = tcpack.NewCoalescer(ctx, ifc.name, *aAckCfg, ifc.sendHeldAck)
	}
	logger.Debugw(ctx, "interface created", log.Fields{"device-id": ifc.deviceID, "name": ifc.name,
		"role": aRole.String(), "tcp-ack-coalescing": aAckCfg != nil})
	return ifc
}

// GetName returns the interface name
func (ifc *Interface) GetName() string {
	return ifc.name
}

// GetRole returns the interface role
func (ifc *Interface) GetRole() cmn.InterfaceRole {
	return ifc.role
}

// GetIndex returns the firmware side interface number
func (ifc *Interface) GetIndex() int {
	return ifc.index
}

// GetMacAddress returns the assigned MAC address
func (ifc *Interface) GetMacAddress() net.HardwareAddr {
	ifc.mutexIf.RLock()
	defer ifc.mutexIf.RUnlock()
	return ifc.mac
}

// SetMacAddress assigns the MAC address
func (ifc *Interface) SetMacAddress(aMac net.HardwareAddr) {
	ifc.mutexIf.Lock()
	defer ifc.mutexIf.Unlock()
	ifc.mac = aMac
}

// IsRegistered returns true while the interface is known to the network stack
func (ifc *Interface) IsRegistered() bool {
	ifc.mutexIf.RLock()
	defer ifc.mutexIf.RUnlock()
	return ifc.registered
}

// SetRegistered records the registration state
func (ifc *Interface) SetRegistered(aRegistered bool) {
	ifc.mutexIf.Lock()
	defer ifc.mutexIf.Unlock()
	ifc.registered = aRegistered
}

// IsConnected returns the link state
func (ifc *Interface) IsConnected() bool {
	ifc.mutexIf.RLock()
	defer ifc.mutexIf.RUnlock()
	return ifc.connected
}

// SetConnected records the link state as reported by the firmware
func (ifc *Interface) SetConnected(ctx context.Context, aConnected bool) {
	ifc.mutexIf.Lock()
	defer ifc.mutexIf.Unlock()
	if ifc.connected != aConnected {
		logger.Infow(ctx, "interface link state changed", log.Fields{"device-id": ifc.deviceID, "name": ifc.name,
			"connected": aConnected})
	}
	ifc.connected = aConnected
}

// StartScan marks a scan as pending; only one scan per interface at a time
func (ifc *Interface) StartScan(ctx context.Context) error {
	if ifc.txStopped.IsSet() {
		return ErrTxStopped
	}
	ifc.mutexIf.Lock()
	defer ifc.mutexIf.Unlock()
	if ifc.scanPending {
		return fmt.Errorf("scan already pending on %s", ifc.name)
	}
	ifc.scanPending = true
	logger.Debugw(ctx, "scan started", log.Fields{"device-id": ifc.deviceID, "name": ifc.name})
	return nil
}

// ScanDone clears the pending scan
func (ifc *Interface) ScanDone(ctx context.Context) {
	ifc.mutexIf.Lock()
	defer ifc.mutexIf.Unlock()
	ifc.scanPending = false
}

// ScanTimeout aborts the pending scan after the firmware did not answer in time and asks for a hang check
func (ifc *Interface) ScanTimeout(ctx context.Context) {
	ifc.mutexIf.Lock()
	pending := ifc.scanPending
	ifc.scanPending = false
	ifc.mutexIf.Unlock()
	if !pending {
		return
	}
	logger.Warnw(ctx, "scan timeout", log.Fields{"device-id": ifc.deviceID, "name": ifc.name})
	ifc.pAdapter.kickHangCheck(ctx, "scan-timeout")
}

// IsScanPending returns true while a scan is running
func (ifc *Interface) IsScanPending() bool {
	ifc.mutexIf.RLock()
	defer ifc.mutexIf.RUnlock()
	return ifc.scanPending
}

// StartSchedScan enables the firmware driven background scan
func (ifc *Interface) StartSchedScan(ctx context.Context) error {
	if ifc.txStopped.IsSet() {
		return ErrTxStopped
	}
	ifc.mutexIf.Lock()
	defer ifc.mutexIf.Unlock()
	ifc.schedScan = true
	logger.Debugw(ctx, "scheduled scan started", log.Fields{"device-id": ifc.deviceID, "name": ifc.name})
	return nil
}

// StopSchedScan disables the background scan
func (ifc *Interface) StopSchedScan(ctx context.Context) {
	ifc.mutexIf.Lock()
	defer ifc.mutexIf.Unlock()
	ifc.schedScan = false
}

// IsSchedScanActive returns true while a scheduled scan is enabled
func (ifc *Interface) IsSchedScanActive() bool {
	ifc.mutexIf.RLock()
	defer ifc.mutexIf.RUnlock()
	return ifc.schedScan
}

// StopTxQueues stops the transmit path
func (ifc *Interface) StopTxQueues(ctx context.Context) {
	if ifc.txStopped.SetToIf(false, true) {
		logger.Debugw(ctx, "tx queues stopped", log.Fields{"device-id": ifc.deviceID, "name": ifc.name})
	}
}

// WakeTxQueues restarts the transmit path
func (ifc *Interface) WakeTxQueues(ctx context.Context) {
	if ifc.txStopped.SetToIf(true, false) {
		logger.Debugw(ctx, "tx queues woken", log.Fields{"device-id": ifc.deviceID, "name": ifc.name})
	}
}

// TxQueuesStopped returns true while the transmit path is stopped
func (ifc *Interface) TxQueuesStopped() bool {
	return ifc.txStopped.IsSet()
}

// GetTxTimeoutCount returns the number of tx timeouts since the last reset
func (ifc *Interface) GetTxTimeoutCount() uint32 {
	return ifc.txTimeouts.Load()
}

// ResetTxTimeoutCount clears the tx timeout counter
func (ifc *Interface) ResetTxTimeoutCount() {
	ifc.txTimeouts.Store(0)
}

// TxTimeout is called by the network stack watchdog; it asks the hang monitor for an immediate check
func (ifc *Interface) TxTimeout(ctx context.Context) {
	cnt := ifc.txTimeouts.Inc()
	logger.Warnw(ctx, "tx timeout", log.Fields{"device-id": ifc.deviceID, "name": ifc.name, "count": cnt})
	ifc.pAdapter.kickHangCheck(ctx, "tx-timeout")
}

// GetTxFrames returns the number of frames handed to the firmware
func (ifc *Interface) GetTxFrames() uint64 {
	return ifc.txFrames.Load()
}

// Transmit sends one outbound Ethernet frame; pure TCP ACKs may be held back and replaced by newer ones
func (ifc *Interface) Transmit(ctx context.Context, aFrame []byte) error {
	if ifc.txStopped.IsSet() {
		return ErrTxStopped
	}
	if ifc.pCoalescer == nil {
		return ifc.send(ctx, aFrame)
	}
	buf := tcpack.NewBuffer(aFrame)
	if ifc.pCoalescer.Submit(ctx, buf) != tcpack.PassThrough {
		return nil
	}
	defer buf.Release()
	return ifc.send(ctx, buf.Bytes())
}

// Detach takes the interface down ahead of a reset; the network stack is told about the lost link
// and the aborted scans, held ACKs are dropped
func (ifc *Interface) Detach(ctx context.Context) {
	ifc.mutexIf.Lock()
	wasConnected := ifc.connected
	abortedScan := ifc.scanPending
	stoppedSchedScan := ifc.schedScan
	ifc.connected = false
	ifc.scanPending = false
	ifc.schedScan = false
	ifc.mutexIf.Unlock()
	released := 0
	if ifc.pCoalescer != nil {
		released = ifc.pCoalescer.Drain(ctx)
	}
	if abortedScan {
		ifc.notify(ctx, cmn.EventScanAborted)
	}
	if stoppedSchedScan {
		ifc.notify(ctx, cmn.EventSchedScanStopped)
	}
	if wasConnected {
		ifc.notify(ctx, cmn.EventDisconnected)
	}
	logger.Infow(ctx, "interface detached", log.Fields{"device-id": ifc.deviceID, "name": ifc.name,
		"disconnected": wasConnected, "scan-aborted": abortedScan, "sched-scan-stopped": stoppedSchedScan,
		"released-acks": released})
}

// Attach re-enables the per interface state after a reset
func (ifc *Interface) Attach(ctx context.Context) {
	if ifc.pCoalescer != nil {
		ifc.pCoalescer.Resume(ctx)
	}
	logger.Debugw(ctx, "interface attached", log.Fields{"device-id": ifc.deviceID, "name": ifc.name})
}

// Interface private (unexported) methods -- start

func (ifc *Interface) send(ctx context.Context, aFrame []byte) error {
	// the queues may have been stopped after the caller checked them
	if ifc.txStopped.IsSet() {
		return ErrTxStopped
	}
	if err := ifc.pMlan.SendPacket(ctx, ifc.index, aFrame); err != nil {
		logger.Debugw(ctx, "frame not accepted by firmware", log.Fields{"device-id": ifc.deviceID,
			"name": ifc.name, "error": err})
		return err
	}
	ifc.txFrames.Inc()
	ifc.pAdapter.QueueWork("main-process", nil)
	return nil
}

//sendHeldAck is the transmit function of the coalescer; it may run on a timer goroutine
func (ifc *Interface) sendHeldAck(ctx context.Context, aBuf *tcpack.Buffer) {
	defer aBuf.Release()
	if ifc.txStopped.IsSet() {
		return
	}
	_ = ifc.send(ctx, aBuf.Bytes())
}

func (ifc *Interface) notify(ctx context.Context, aEvent string) {
	ifc.pAdapter.pNotifier.Notify(ctx, ifc.deviceID, aEvent, []byte(ifc.name))
}
