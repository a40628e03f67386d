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
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// HwStatus - hardware status of an adapter as seen by the driver core
type HwStatus int32

const (
	// HwInitializing - firmware download or device init in progress
	HwInitializing HwStatus = iota
	// HwFwReady - firmware reported init complete, interfaces not yet set up
	HwFwReady
	// HwReady - adapter fully operational
	HwReady
	// HwNotReady - adapter stopped, failed or under reset
	HwNotReady
)

// String - Return the text representation of the hardware status
func (s HwStatus) String() string {
	names := [...]string{
		"initializing",
		"fw-ready",
		"ready",
		"not-ready",
	}
	if s < 0 || int(s) >= len(names) {
		return "unknown"
	}
	return names[s]
}

// BusType - host interface the card is attached to
type BusType uint8

const (
	// BusSDIO - SDIO attached card
	BusSDIO BusType = iota
	// BusPCIe - PCIe attached card
	BusPCIe
	// BusUSB - USB attached card
	BusUSB
)

// String - Return the text representation of the bus type
func (b BusType) String() string {
	switch b {
	case BusSDIO:
		return "sdio"
	case BusPCIe:
		return "pcie"
	case BusUSB:
		return "usb"
	}
	return "unknown"
}

// InterfaceRole - role of a virtual network interface on the adapter
type InterfaceRole uint8

const (
	// RoleStation - infrastructure client
	RoleStation InterfaceRole = iota
	// RoleAP - access point
	RoleAP
	// RoleWifiDirect - wifi direct (p2p) device
	RoleWifiDirect
)

// String - Return the text representation of the interface role
func (r InterfaceRole) String() string {
	switch r {
	case RoleStation:
		return "sta"
	case RoleAP:
		return "uap"
	case RoleWifiDirect:
		return "wfd"
	}
	return "unknown"
}

// drv_mode bits selecting which interface roles are populated
const (
	DrvModeSta uint32 = 1 << 0
	DrvModeUap uint32 = 1 << 1
	DrvModeWfd uint32 = 1 << 2
)

// MlanStatus - result of a request into the MAC-layer firmware interface
type MlanStatus uint8

const (
	// MlanStatusSuccess - request completed synchronously
	MlanStatusSuccess MlanStatus = iota
	// MlanStatusPending - request accepted, completion is signaled later
	MlanStatusPending
	// MlanStatusFailure - request rejected
	MlanStatusFailure
)

// String - Return the text representation of the mlan status
func (m MlanStatus) String() string {
	names := [...]string{
		"success",
		"pending",
		"failure",
	}
	if int(m) >= len(names) {
		return "unknown"
	}
	return names[m]
}

// driver core errors
var (
	// ErrNotFound - a firmware blob does not exist in the store
	ErrNotFound = errors.New("firmware-not-found")
	// ErrIo - a firmware blob exists but could not be read
	ErrIo = errors.New("firmware-io-error")
	// ErrDownloadFailed - the firmware image could not be brought onto the device
	ErrDownloadFailed = errors.New("download-failed")
	// ErrInitTimeout - the device did not report init completion in time
	ErrInitTimeout = errors.New("init-timeout")
	// ErrInterfaceSetupFailed - MAC assignment or interface registration failed
	ErrInterfaceSetupFailed = errors.New("interface-setup-failed")
	// ErrResetFailed - the bus level reset did not complete
	ErrResetFailed = errors.New("reset-failed")
	// ErrBus - a bus transfer or register access failed
	ErrBus = errors.New("bus-error")
	// ErrRecoveryInProgress - a recovery is already running somewhere in the process
	ErrRecoveryInProgress = errors.New("recovery-in-progress")
	// ErrDeviceNotFound - no adapter registered for the given id
	ErrDeviceNotFound = errors.New("device-not-found")
)

// notification event names broadcast to user space
const (
	EventFwDumpComplete      = "FW_DUMP_COMPLETE"
	EventRecoveryStarted     = "FW_RECOVERY_STARTED"
	EventRecoverySucceeded   = "FW_RECOVERY_SUCCEEDED"
	EventRecoveryFailed      = "FW_RECOVERY_FAILED"
	EventDriverHang          = "DRIVER_HANG"
	EventFwReady             = "FW_READY"
	EventFwInitFailed        = "FW_INIT_FAILED"
	EventDebugDumpRequested  = "DEBUG_DUMP_REQUESTED"
	EventCountryPowerApplied = "COUNTRY_POWER_TABLE_APPLIED"
	EventDisconnected        = "DISCONNECTED"
	EventScanAborted         = "SCAN_ABORTED"
	EventSchedScanStopped    = "SCHED_SCAN_STOPPED"
)

// CardConfig carries what the bus layer needs to pick the firmware image name
type CardConfig struct {
	Chip       string
	SerialBoot bool
	Reload     bool
}

// VdllRequest - the device asks for the next slice of a staged (VDLL) firmware image
type VdllRequest struct {
	Offset uint32
	Length uint32
}

// InitParams are handed to the MAC layer together with the firmware init request
type InitParams struct {
	Country      string
	DpdData      []byte
	TxPowerTable []byte
	CalData      []byte
	HostCmdCfg   []byte
}

// DebugSnapshot - point in time view of the firmware command and power-management state
type DebugSnapshot struct {
	// PendingCmdID is 0 when no command is outstanding
	PendingCmdID        uint16
	PendingCmdSince     time.Time
	CmdTimeoutCount     uint32
	HostToCardFailures  uint32
	NoFreeCmdNodeCount  uint32
	PmWakeupPending     bool
	PmWakeupSince       time.Time
	FwHangReports       uint32
	InterfaceTxTimeouts map[string]uint32
	DriverHung          bool
	TakenAt             time.Time
}

// AdapterFsm - FSM details including name and device
type AdapterFsm struct {
	fsmName  string
	deviceID string
	PFsm     *fsm.FSM
}

// WaitGroupWithTimeOut definitions to have waitGroup functionality with timeout
type WaitGroupWithTimeOut struct {
	sync.WaitGroup
}
