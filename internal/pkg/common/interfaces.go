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

//Package common provides global definitions
package common

import (
	"context"
	"net"
	"time"
)

// BusOps is the bus specific part of the driver (SDIO, PCIe, USB)
type BusOps interface {
	BusType() BusType
	ResolveFirmwareName(ctx context.Context, aCfg CardConfig) (string, error)
	// DownloadFirmware transfers the image; a non-nil request asks for a staged continuation
	DownloadFirmware(ctx context.Context, aImage []byte) (*VdllRequest, error)
	DownloadChunk(ctx context.Context, aChunk []byte) (*VdllRequest, error)
	ReadRegister(ctx context.Context, aAddr uint32) (uint32, error)
	WriteRegister(ctx context.Context, aAddr uint32, aValue uint32) error
	// ResetDevice performs the bus level function reset (PCIe FLR, USB port reset)
	ResetDevice(ctx context.Context) error
	DumpRegisters(ctx context.Context) ([]byte, error)
}

// Mlan is the MAC-layer firmware interface of the adapter
type Mlan interface {
	// InitFirmware may answer MlanStatusPending and report the outcome later through aComplete
	InitFirmware(ctx context.Context, aParams *InitParams, aComplete func(error)) (MlanStatus, error)
	ShutdownFirmware(ctx context.Context) error
	MainProcess(ctx context.Context) error
	GetDebugInfo(ctx context.Context) (*DebugSnapshot, error)
	GetMacAddress(ctx context.Context, aRole InterfaceRole, aIndex int) (net.HardwareAddr, error)
	SetAntenna(ctx context.Context, aMode uint32) error
	SetLowPowerMode(ctx context.Context, aEnable bool) error
	SetCountry(ctx context.Context, aCountry string, aPowerTable []byte) error
	SendPacket(ctx context.Context, aIfIndex int, aFrame []byte) error
}

// NetdevRegistrar is the network stack side of interface registration
type NetdevRegistrar interface {
	RegisterInterface(ctx context.Context, aIf Iinterface) error
	UnregisterInterface(ctx context.Context, aIf Iinterface)
}

// Notifier broadcasts lifecycle events to user space
type Notifier interface {
	Notify(ctx context.Context, aDeviceID string, aEvent string, aPayload []byte)
}

// Iinterface interface to a virtual network interface of the adapter
type Iinterface interface {
	GetName() string
	GetRole() InterfaceRole
	GetIndex() int
	GetMacAddress() net.HardwareAddr
	SetMacAddress(net.HardwareAddr)
	IsRegistered() bool
	SetRegistered(bool)
	StopTxQueues(context.Context)
	WakeTxQueues(context.Context)
	TxQueuesStopped() bool
	GetTxTimeoutCount() uint32
	ResetTxTimeoutCount()
	// Detach drains per-interface state (pending acks, queued frames) ahead of a reset
	Detach(context.Context)
	Attach(context.Context)
}

// IadapterHandle interface to the per-card adapter handle
type IadapterHandle interface {
	GetDeviceID() string
	GetCardType() string
	GetBusType() BusType
	GetHwStatus() HwStatus
	SetHwStatus(context.Context, HwStatus)
	IsDriverHung() bool
	SetDriverHung(context.Context, bool)
	IsFwReload() bool
	SetFwReload(bool)
	GetActiveCountry() string
	SetActiveCountry(context.Context, string)
	GetInterfaces() []Iinterface
	PopulateInterfaces(context.Context) []Iinterface
	RemoveInterfaces(context.Context)
	GetTxTimeouts() map[string]uint32
	QueueWork(aName string, aWork func(context.Context)) bool
}

// RecoveryTrigger starts a recovery on hang detection
type RecoveryTrigger interface {
	Trigger(ctx context.Context, aReason string) bool
}

// Clock returns the current time, replaceable in tests
type Clock func() time.Time
