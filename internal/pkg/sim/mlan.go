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

//Package sim provides a simulated card (bus, firmware MAC layer, netdev registration)
package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// InitMode selects how the simulated firmware answers the init request
type InitMode uint8

const (
	// InitAsync answers pending and completes after InitDelay
	InitAsync InitMode = iota
	// InitSync completes immediately
	InitSync
	// InitSilent answers pending and never completes
	InitSilent
	// InitReject refuses the init request
	InitReject
)

// HangKind selects which debug counter an injected hang raises
type HangKind uint8

// injectable hangs
const (
	HangCmdTimeout HangKind = iota
	HangHostToCard
	HangNoFreeCmdNode
	HangFwReported
	HangCmdPending
	HangPmWakeup
)

// SentFrame is one frame handed to the simulated firmware
type SentFrame struct {
	IfIndex int
	Frame   []byte
}

// Mlan simulates the MAC-layer firmware interface
type Mlan struct {
	mutexMlan sync.Mutex
	// knobs
	InitMode       InitMode
	InitDelay      time.Duration
	FailMacIndex   int
	FailMacEnabled bool
	FailAntenna    bool
	FailLowPower   bool
	FailDebugInfo  bool
	MacBase        net.HardwareAddr
	// state
	fwLoaded        bool
	fwRunning       bool
	lastParams      *cmn.InitParams
	snapshot        cmn.DebugSnapshot
	country         string
	powerTable      []byte
	sent            []SentFrame
	initRequests    int
	mainProcessRuns int
	shutdowns       int
}

// NewMlan returns a simulated firmware completing init asynchronously after aInitDelay
func NewMlan(aInitDelay time.Duration) *Mlan {
	return &Mlan{
		InitMode:  InitAsync,
		InitDelay: aInitDelay,
		MacBase:   net.HardwareAddr{0x00, 0x50, 0x43, 0x02, 0x00, 0x00},
	}
}

func (m *Mlan) firmwareLoaded() {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	m.fwLoaded = true
}

func (m *Mlan) deviceReset() {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	m.fwLoaded = false
	m.fwRunning = false
	m.snapshot = cmn.DebugSnapshot{}
}

// InitFirmware starts the firmware; completion is reported according to InitMode
func (m *Mlan) InitFirmware(ctx context.Context, aParams *cmn.InitParams, aComplete func(error)) (cmn.MlanStatus, error) {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	m.initRequests++
	m.lastParams = aParams
	if !m.fwLoaded {
		return cmn.MlanStatusFailure, errors.New("no firmware image loaded")
	}
	switch m.InitMode {
	case InitSync:
		m.fwRunning = true
		return cmn.MlanStatusSuccess, nil
	case InitReject:
		return cmn.MlanStatusFailure, errors.New("firmware rejected init request")
	case InitSilent:
		logger.Debugw(ctx, "simulated firmware will not complete init", log.Fields{})
		return cmn.MlanStatusPending, nil
	}
	time.AfterFunc(m.InitDelay, func() {
		m.mutexMlan.Lock()
		m.fwRunning = true
		m.mutexMlan.Unlock()
		aComplete(nil)
	})
	return cmn.MlanStatusPending, nil
}

// ShutdownFirmware stops the firmware
func (m *Mlan) ShutdownFirmware(_ context.Context) error {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	m.shutdowns++
	m.fwRunning = false
	return nil
}

// MainProcess runs one pass of the firmware event loop
func (m *Mlan) MainProcess(_ context.Context) error {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	m.mainProcessRuns++
	return nil
}

// GetDebugInfo returns the current debug counters
func (m *Mlan) GetDebugInfo(_ context.Context) (*cmn.DebugSnapshot, error) {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	if m.FailDebugInfo {
		return nil, errors.New("debug info request failed")
	}
	snap := m.snapshot
	return &snap, nil
}

// GetMacAddress derives a MAC address per interface
func (m *Mlan) GetMacAddress(_ context.Context, aRole cmn.InterfaceRole, aIndex int) (net.HardwareAddr, error) {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	if m.FailMacEnabled && aIndex == m.FailMacIndex {
		return nil, fmt.Errorf("no mac address for interface %d", aIndex)
	}
	mac := append(net.HardwareAddr(nil), m.MacBase...)
	mac[4] = byte(aRole)
	mac[5] = byte(aIndex)
	return mac, nil
}

// SetAntenna configures the antenna mode
func (m *Mlan) SetAntenna(_ context.Context, _ uint32) error {
	if m.FailAntenna {
		return errors.New("antenna configuration rejected")
	}
	return nil
}

// SetLowPowerMode configures the low power mode
func (m *Mlan) SetLowPowerMode(_ context.Context, _ bool) error {
	if m.FailLowPower {
		return errors.New("low power mode rejected")
	}
	return nil
}

// SetCountry applies the regulatory power table for a country
func (m *Mlan) SetCountry(_ context.Context, aCountry string, aPowerTable []byte) error {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	m.country = aCountry
	m.powerTable = append([]byte(nil), aPowerTable...)
	return nil
}

// SendPacket records the frame
func (m *Mlan) SendPacket(_ context.Context, aIfIndex int, aFrame []byte) error {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	if !m.fwRunning {
		return errors.New("firmware not running")
	}
	m.sent = append(m.sent, SentFrame{IfIndex: aIfIndex, Frame: append([]byte(nil), aFrame...)})
	return nil
}

// InjectHang raises the debug counter belonging to aKind
func (m *Mlan) InjectHang(aKind HangKind, aNow time.Time) {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	switch aKind {
	case HangCmdTimeout:
		m.snapshot.CmdTimeoutCount++
	case HangHostToCard:
		m.snapshot.HostToCardFailures++
	case HangNoFreeCmdNode:
		m.snapshot.NoFreeCmdNodeCount++
	case HangFwReported:
		m.snapshot.FwHangReports++
	case HangCmdPending:
		m.snapshot.PendingCmdID = 0x00a9
		m.snapshot.PendingCmdSince = aNow
	case HangPmWakeup:
		m.snapshot.PmWakeupPending = true
		m.snapshot.PmWakeupSince = aNow
	}
}

// IsRunning returns true once init completed and until reset or shutdown
func (m *Mlan) IsRunning() bool {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	return m.fwRunning
}

// LastInitParams returns the parameters of the last init request
func (m *Mlan) LastInitParams() *cmn.InitParams {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	return m.lastParams
}

// Country returns the last applied country and its power table
func (m *Mlan) Country() (string, []byte) {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	return m.country, m.powerTable
}

// Sent returns all frames handed to the firmware
func (m *Mlan) Sent() []SentFrame {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	return append([]SentFrame(nil), m.sent...)
}

// InitRequests returns the number of init requests
func (m *Mlan) InitRequests() int {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	return m.initRequests
}

// MainProcessRuns returns the number of event loop passes
func (m *Mlan) MainProcessRuns() int {
	m.mutexMlan.Lock()
	defer m.mutexMlan.Unlock()
	return m.mainProcessRuns
}

// Netdev is a cmn.NetdevRegistrar that only logs
type Netdev struct {
	mutexNetdev sync.Mutex
	registered  map[string]net.HardwareAddr
}

// NewNetdev returns an empty registrar
func NewNetdev() *Netdev {
	return &Netdev{registered: make(map[string]net.HardwareAddr)}
}

// RegisterInterface records aIf
func (n *Netdev) RegisterInterface(ctx context.Context, aIf cmn.Iinterface) error {
	n.mutexNetdev.Lock()
	defer n.mutexNetdev.Unlock()
	if _, exists := n.registered[aIf.GetName()]; exists {
		return fmt.Errorf("interface %s already registered", aIf.GetName())
	}
	n.registered[aIf.GetName()] = aIf.GetMacAddress()
	logger.Infow(ctx, "interface registered", log.Fields{"name": aIf.GetName(), "mac": aIf.GetMacAddress().String()})
	return nil
}

// UnregisterInterface forgets aIf
func (n *Netdev) UnregisterInterface(ctx context.Context, aIf cmn.Iinterface) {
	n.mutexNetdev.Lock()
	defer n.mutexNetdev.Unlock()
	delete(n.registered, aIf.GetName())
	logger.Infow(ctx, "interface unregistered", log.Fields{"name": aIf.GetName()})
}

// Registered returns the number of registered interfaces
func (n *Netdev) Registered() int {
	n.mutexNetdev.Lock()
	defer n.mutexNetdev.Unlock()
	return len(n.registered)
}
