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
	"strings"
	"sync"

	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/config"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/devdb"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/download"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/fwstore"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/hang"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/recovery"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/tcpack"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/spf13/afero"
	"github.com/tevino/abool"
	"go.uber.org/atomic"
)

const cWorkQueueLen = 32

const cDumpReasonOnDemand = "on-demand"

// HandleDeps are the per card collaborators of an adapter handle
type HandleDeps struct {
	Bus       cmn.BusOps
	Mlan      cmn.Mlan
	Registrar cmn.NetdevRegistrar
	FwFs      afero.Fs
}

// AdapterStatus is a point in time summary of an adapter
type AdapterStatus struct {
	DeviceID      string
	Card          string
	Bus           string
	HwStatus      string
	DriverHung    bool
	Country       string
	Interfaces    []string
	RecoveryState string
	Recoveries    uint64
}

type workItem struct {
	name string
	fn   func(context.Context)
}

//AdapterHandle is the device wide context of one card
type AdapterHandle struct {
	DeviceID           string
	pRegistry          *MoalRegistry
	config             *config.MoalFlags
	pCard              *card.Info
	pBus               cmn.BusOps
	pMlan              cmn.Mlan
	pRegistrar         cmn.NetdevRegistrar
	pNotifier          cmn.Notifier
	pFwStore           *fwstore.FirmwareStore
	pAdapterDB         *devdb.AdapterDB
	pSequencer         *download.DownloadSequencer
	pRecovery          *recovery.Coordinator
	pMonitor           *hang.Monitor
	hwStatus           *atomic.Int32
	driverHung         *abool.AtomicBool
	fwReload           *abool.AtomicBool
	deletionInProgress *abool.AtomicBool
	mutexInterfaces    sync.RWMutex
	interfaces         []*Interface
	mutexCountry       sync.RWMutex
	activeCountry      string
	workChan           chan workItem
	stopWork           chan struct{}
	workRunning        *abool.AtomicBool
	mainProcessPending *abool.AtomicBool
	workWg             sync.WaitGroup
	clock              cmn.Clock
}

//newAdapterHandle creates the handle of a discovered card together with its firmware lifecycle components
func newAdapterHandle(ctx context.Context, apRegistry *MoalRegistry, aDeviceID string, apCard *card.Info,
	aDeps HandleDeps) *AdapterHandle {
	cfg := apRegistry.config
	ah := &AdapterHandle{
		DeviceID:           aDeviceID,
		pRegistry:          apRegistry,
		config:             cfg,
		pCard:              apCard,
		pBus:               aDeps.Bus,
		pMlan:              aDeps.Mlan,
		pRegistrar:         aDeps.Registrar,
		pNotifier:          apRegistry.notifier,
		hwStatus:           atomic.NewInt32(int32(cmn.HwNotReady)),
		driverHung:         abool.New(),
		fwReload:           abool.New(),
		deletionInProgress: abool.New(),
		workChan:           make(chan workItem, cWorkQueueLen),
		workRunning:        abool.New(),
		mainProcessPending: abool.New(),
		clock:              cmn.SystemClock,
	}
	waitPolicy := fwstore.WaitBlocking
	if cfg.ReqFwNowait {
		waitPolicy = fwstore.WaitAsync
	}
	ah.pFwStore = fwstore.NewFirmwareStore(ctx, aDeps.FwFs, cfg.FwDir)
	ah.pFwStore.SetAsyncTimeout(ctx, cfg.FwRequestTimeout)
	ah.pAdapterDB = devdb.NewAdapterDB(ctx, apRegistry.kvBackend, aDeviceID)

	ah.pSequencer = download.NewDownloadSequencer(ctx, download.Deps{
		Adapter:   ah,
		Bus:       aDeps.Bus,
		Mlan:      aDeps.Mlan,
		Store:     ah.pFwStore,
		Registrar: aDeps.Registrar,
		Notifier:  ah.pNotifier,
		Card:      apCard,
	}, download.Config{
		FwName:          cfg.FwName,
		SerialBoot:      cfg.SerialBoot,
		WaitPolicy:      waitPolicy,
		InitTimeout:     cfg.InitTimeout,
		Country:         cfg.CountryCode,
		TxPowerTemplate: cfg.TxPowerTemplate,
		DpdFile:         cfg.DpdFile,
		CalDataFile:     cfg.CalDataFile,
		HostCmdFile:     cfg.HostCmdFile,
		AntennaMode:     uint32(cfg.AntennaMode),
		LowPowerMode:    cfg.LowPowerMode,
	})
	ah.pSequencer.SetDumpHandler(ah.onInitDump)

	ah.pRecovery = recovery.NewCoordinator(ctx, recovery.Deps{
		Adapter:   ah,
		Bus:       aDeps.Bus,
		Mlan:      aDeps.Mlan,
		Sequencer: ah.pSequencer,
		Store:     ah.pFwStore,
		Notifier:  ah.pNotifier,
		Card:      apCard,
		Marker:    apRegistry.recoveryMarker,
	}, recovery.Config{
		ResetPollTries:  cfg.ResetPollTries,
		ResetPollDelay:  cfg.ResetPollDelay,
		TxPowerTemplate: cfg.TxPowerTemplate,
		WaitPolicy:      waitPolicy,
	})
	ah.pRecovery.SetOnRestored(ah.onRecovered)

	ah.pMonitor = hang.NewMonitor(ctx, ah, aDeps.Mlan, ah.pRecovery, ah.pNotifier, hang.Thresholds{
		CmdPendingMax: cfg.CmdPendingMax,
		TxTimeoutMax:  uint32(cfg.TxTimeoutMax),
		PmWakeupMax:   cfg.PmWakeupMax,
	}, cfg.HangCheckInterval, cfg.AutoRecovery)

	metrics.HwStatus.WithLabelValues(aDeviceID).Set(float64(cmn.HwNotReady))
	logger.Debugw(ctx, "adapter handle created", log.Fields{"device-id": aDeviceID, "card": apCard.Chip,
		"bus": apCard.Bus.String()})
	return ah
}

// ##########################################################################################
// AdapterHandle methods that implement the lifecycle requests ##### begin #########

//start restores the persisted settings and brings the card up; the hang monitor runs from then on
func (ah *AdapterHandle) start(ctx context.Context) error {
	logger.Infow(ctx, "starting adapter", log.Fields{"device-id": ah.DeviceID})
	if err := ah.pAdapterDB.Restore(ctx); err != nil {
		logger.Warnw(ctx, "persisted adapter settings not available", log.Fields{"device-id": ah.DeviceID,
			"error": err})
	}
	if settings := ah.pAdapterDB.GetSettings(); ah.config.CountryCode == "" && settings.Country != "" {
		logger.Infow(ctx, "using persisted country", log.Fields{"device-id": ah.DeviceID,
			"country": settings.Country})
		ah.pSequencer.SetCountry(settings.Country)
	}
	ah.startWork(context.WithoutCancel(ctx))

	if err := ah.pSequencer.Run(ctx, download.ModeNormal); err != nil {
		return err
	}
	ah.pMonitor.Start(context.WithoutCancel(ctx))
	return nil
}

//stop tears the adapter down; queued work and an in-flight recovery are finished first
func (ah *AdapterHandle) stop(ctx context.Context, aPurge bool) {
	if !ah.deletionInProgress.SetToIf(false, true) {
		logger.Debugw(ctx, "adapter removal already in progress", log.Fields{"device-id": ah.DeviceID})
		return
	}
	logger.Infow(ctx, "stopping adapter", log.Fields{"device-id": ah.DeviceID, "purge": aPurge})
	ah.pMonitor.Stop()
	ah.stopWorkLoop()
	if ah.pRecovery.InProgress() {
		logger.Infow(ctx, "waiting for recovery to finish", log.Fields{"device-id": ah.DeviceID,
			"state": ah.pRecovery.CurrentState()})
	}
	ah.pRecovery.Wait()

	for _, ifc := range ah.GetInterfaces() {
		ifc.StopTxQueues(ctx)
		ifc.Detach(ctx)
		if ifc.IsRegistered() {
			ah.pRegistrar.UnregisterInterface(ctx, ifc)
			ifc.SetRegistered(false)
		}
	}
	ah.RemoveInterfaces(ctx)
	if ah.GetHwStatus() != cmn.HwNotReady {
		if err := ah.pMlan.ShutdownFirmware(ctx); err != nil {
			logger.Warnw(ctx, "firmware shutdown failed", log.Fields{"device-id": ah.DeviceID, "error": err})
		}
	}
	ah.SetHwStatus(ctx, cmn.HwNotReady)

	if aPurge {
		if err := ah.pAdapterDB.DeleteAll(ctx); err != nil {
			logger.Warnw(ctx, "persisted adapter data not removed", log.Fields{"device-id": ah.DeviceID,
				"error": err})
		}
	}
	if n := ah.pFwStore.Outstanding(); n != 0 {
		logger.Errorw(ctx, "firmware blobs still held at removal", log.Fields{"device-id": ah.DeviceID,
			"outstanding": n})
	}
	metrics.HwStatus.DeleteLabelValues(ah.DeviceID)
	logger.Infow(ctx, "adapter stopped", log.Fields{"device-id": ah.DeviceID})
}

//Recover runs a recovery now, e.g. after a failed one or with automatic recovery disabled
func (ah *AdapterHandle) Recover(ctx context.Context) error {
	if ah.deletionInProgress.IsSet() {
		return fmt.Errorf("%w: %s is being removed", cmn.ErrDeviceNotFound, ah.DeviceID)
	}
	err := ah.pRecovery.Recover(ctx, "manual")
	if err == nil {
		ah.pMonitor.Rearm()
	}
	return err
}

//HandleFwDump is called when the firmware announces a crash dump; the dump is taken on the work goroutine
func (ah *AdapterHandle) HandleFwDump(ctx context.Context, aReason string) bool {
	logger.Warnw(ctx, "firmware dump announced", log.Fields{"device-id": ah.DeviceID, "reason": aReason})
	return ah.QueueWork("fw-dump", func(wctx context.Context) {
		ah.processFwDump(wctx, aReason)
	})
}

//DebugDump takes an on-demand diagnostic dump and returns the stored record; a partial dump is returned
//together with the error of the failed part
func (ah *AdapterHandle) DebugDump(ctx context.Context) (*devdb.FwDumpRecord, error) {
	ah.pNotifier.Notify(ctx, ah.DeviceID, cmn.EventDebugDumpRequested, nil)
	_, dumpErr := ah.takeDump(ctx, cDumpReasonOnDemand)
	rec, err := ah.pAdapterDB.GetLastFwDump()
	if err != nil {
		return nil, err
	}
	return rec, dumpErr
}

//SetCountry switches the regulatory domain; a ready adapter loads the power table of aCountry at once
func (ah *AdapterHandle) SetCountry(ctx context.Context, aCountry string) error {
	country := strings.ToUpper(aCountry)
	if !isCountryCode(country) {
		return fmt.Errorf("invalid country code %q", aCountry)
	}
	if ah.pRecovery.InProgress() {
		return fmt.Errorf("%w: country change of %s", cmn.ErrRecoveryInProgress, ah.DeviceID)
	}
	if ah.GetHwStatus() == cmn.HwReady {
		name := download.PowerTableName(ah.config.TxPowerTemplate, country)
		blob, err := ah.pFwStore.Acquire(ctx, name, fwstore.WaitBlocking)
		if err != nil {
			return fmt.Errorf("power table of %s: %w", country, err)
		}
		defer ah.pFwStore.Release(ctx, blob)
		if err = ah.pMlan.SetCountry(ctx, country, blob.Bytes()); err != nil {
			return fmt.Errorf("apply country %s: %w", country, err)
		}
		ah.SetActiveCountry(ctx, country)
		ah.pNotifier.Notify(ctx, ah.DeviceID, cmn.EventCountryPowerApplied, []byte(country))
	} else if err := ah.pAdapterDB.UpdateSettings(ctx, func(s *devdb.Settings) { s.Country = country }); err != nil {
		logger.Warnw(ctx, "country not persisted", log.Fields{"device-id": ah.DeviceID, "error": err})
	}
	ah.pSequencer.SetCountry(country)
	logger.Infow(ctx, "country set", log.Fields{"device-id": ah.DeviceID, "country": country})
	return nil
}

//GetInterface returns the interface named aName
func (ah *AdapterHandle) GetInterface(aName string) (*Interface, error) {
	ah.mutexInterfaces.RLock()
	defer ah.mutexInterfaces.RUnlock()
	for _, ifc := range ah.interfaces {
		if ifc.GetName() == aName {
			return ifc, nil
		}
	}
	return nil, fmt.Errorf("no interface %s on device %s", aName, ah.DeviceID)
}

//Status returns a summary of the adapter
func (ah *AdapterHandle) Status() AdapterStatus {
	st := AdapterStatus{
		DeviceID:      ah.DeviceID,
		Card:          ah.pCard.Chip,
		Bus:           ah.pCard.Bus.String(),
		HwStatus:      ah.GetHwStatus().String(),
		DriverHung:    ah.IsDriverHung(),
		Country:       ah.GetActiveCountry(),
		RecoveryState: ah.pRecovery.CurrentState(),
		Recoveries:    ah.pRecovery.Attempts(),
	}
	for _, ifc := range ah.GetInterfaces() {
		st.Interfaces = append(st.Interfaces, ifc.GetName())
	}
	return st
}

//GetRecoveryError returns the outcome of the last finished recovery
func (ah *AdapterHandle) GetRecoveryError() error {
	return ah.pRecovery.LastError()
}

// ##########################################################################################
// AdapterHandle methods that implement cmn.IadapterHandle ##### begin #########

// GetDeviceID returns the device id
func (ah *AdapterHandle) GetDeviceID() string {
	return ah.DeviceID
}

// GetCardType returns the chip name
func (ah *AdapterHandle) GetCardType() string {
	return ah.pCard.Chip
}

// GetBusType returns the bus the card is attached to
func (ah *AdapterHandle) GetBusType() cmn.BusType {
	return ah.pCard.Bus
}

// GetHwStatus returns the hardware status
func (ah *AdapterHandle) GetHwStatus() cmn.HwStatus {
	return cmn.HwStatus(ah.hwStatus.Load())
}

// SetHwStatus sets the hardware status
func (ah *AdapterHandle) SetHwStatus(ctx context.Context, aStatus cmn.HwStatus) {
	old := cmn.HwStatus(ah.hwStatus.Swap(int32(aStatus)))
	if old != aStatus {
		logger.Debugw(ctx, "hw status changed", log.Fields{"device-id": ah.DeviceID, "from": old.String(),
			"to": aStatus.String()})
	}
	if !ah.deletionInProgress.IsSet() {
		metrics.HwStatus.WithLabelValues(ah.DeviceID).Set(float64(aStatus))
	}
}

// IsDriverHung returns the sticky hung flag
func (ah *AdapterHandle) IsDriverHung() bool {
	return ah.driverHung.IsSet()
}

// SetDriverHung sets or clears the hung flag
func (ah *AdapterHandle) SetDriverHung(ctx context.Context, aHung bool) {
	if ah.driverHung.SetToIf(!aHung, aHung) {
		logger.Infow(ctx, "driver hung flag changed", log.Fields{"device-id": ah.DeviceID, "hung": aHung})
	}
}

// IsFwReload returns true while the firmware is re-downloaded by a recovery
func (ah *AdapterHandle) IsFwReload() bool {
	return ah.fwReload.IsSet()
}

// SetFwReload sets the firmware reload flag
func (ah *AdapterHandle) SetFwReload(aReload bool) {
	ah.fwReload.SetTo(aReload)
}

// GetActiveCountry returns the country whose power table is applied
func (ah *AdapterHandle) GetActiveCountry() string {
	ah.mutexCountry.RLock()
	defer ah.mutexCountry.RUnlock()
	return ah.activeCountry
}

// SetActiveCountry records and persists the applied country
func (ah *AdapterHandle) SetActiveCountry(ctx context.Context, aCountry string) {
	ah.mutexCountry.Lock()
	ah.activeCountry = aCountry
	ah.mutexCountry.Unlock()
	if err := ah.pAdapterDB.UpdateSettings(ctx, func(s *devdb.Settings) { s.Country = aCountry }); err != nil {
		logger.Warnw(ctx, "active country not persisted", log.Fields{"device-id": ah.DeviceID,
			"country": aCountry, "error": err})
	}
}

// GetInterfaces returns the interfaces in creation order
func (ah *AdapterHandle) GetInterfaces() []cmn.Iinterface {
	ah.mutexInterfaces.RLock()
	defer ah.mutexInterfaces.RUnlock()
	res := make([]cmn.Iinterface, 0, len(ah.interfaces))
	for _, ifc := range ah.interfaces {
		res = append(res, ifc)
	}
	return res
}

// PopulateInterfaces creates one interface per role selected by drv_mode
func (ah *AdapterHandle) PopulateInterfaces(ctx context.Context) []cmn.Iinterface {
	var ackCfg *tcpack.Config
	if ah.config.TCPAckEnable {
		ackCfg = &tcpack.Config{
			FlushDelay:  ah.config.TCPAckFlushDelay,
			IdleTimeout: ah.config.TCPAckIdleTimeout,
			MaxHold:     ah.config.TCPAckMaxHold,
			MaxSessions: ah.config.TCPAckMaxSessions,
		}
	}
	roles := rolesOfDrvMode(uint32(ah.config.DrvMode))
	ifcs := make([]*Interface, 0, len(roles))
	for i, role := range roles {
		ifcs = append(ifcs, newInterface(ctx, ah, role, 0, i, ackCfg))
	}
	ah.mutexInterfaces.Lock()
	ah.interfaces = ifcs
	ah.mutexInterfaces.Unlock()
	logger.Infow(ctx, "interfaces populated", log.Fields{"device-id": ah.DeviceID, "drv-mode": ah.config.DrvMode,
		"count": len(ifcs)})
	return ah.GetInterfaces()
}

// RemoveInterfaces drops all interfaces, held ACKs are released
func (ah *AdapterHandle) RemoveInterfaces(ctx context.Context) {
	ah.mutexInterfaces.Lock()
	ifcs := ah.interfaces
	ah.interfaces = nil
	ah.mutexInterfaces.Unlock()
	for _, ifc := range ifcs {
		if ifc.pCoalescer != nil {
			ifc.pCoalescer.Drain(ctx)
		}
	}
	logger.Debugw(ctx, "interfaces removed", log.Fields{"device-id": ah.DeviceID, "count": len(ifcs)})
}

// GetTxTimeouts returns the tx timeout counters by interface name
func (ah *AdapterHandle) GetTxTimeouts() map[string]uint32 {
	ah.mutexInterfaces.RLock()
	defer ah.mutexInterfaces.RUnlock()
	res := make(map[string]uint32, len(ah.interfaces))
	for _, ifc := range ah.interfaces {
		res[ifc.GetName()] = ifc.GetTxTimeoutCount()
	}
	return res
}

// QueueWork hands aWork to the work goroutine, which runs the firmware main process after each item.
// A nil aWork only requests a main process run. Returns false if the work could not be queued.
func (ah *AdapterHandle) QueueWork(aName string, aWork func(context.Context)) bool {
	if !ah.workRunning.IsSet() {
		return false
	}
	if aWork == nil && !ah.mainProcessPending.SetToIf(false, true) {
		return true
	}
	select {
	case ah.workChan <- workItem{name: aName, fn: aWork}:
		return true
	default:
		if aWork == nil {
			ah.mainProcessPending.UnSet()
		}
		logger.Warnw(context.Background(), "work queue full - work dropped", log.Fields{"device-id": ah.DeviceID,
			"work": aName})
		return false
	}
}

// AdapterHandle private (unexported) methods -- start

func (ah *AdapterHandle) startWork(ctx context.Context) {
	if !ah.workRunning.SetToIf(false, true) {
		return
	}
	ah.stopWork = make(chan struct{})
	ah.workWg.Add(1)
	go ah.processWork(ctx, ah.stopWork)
}

func (ah *AdapterHandle) stopWorkLoop() {
	if !ah.workRunning.SetToIf(true, false) {
		return
	}
	close(ah.stopWork)
	ah.workWg.Wait()
}

func (ah *AdapterHandle) processWork(ctx context.Context, aStopChan <-chan struct{}) {
	defer ah.workWg.Done()
	logger.Debugw(ctx, "work goroutine started", log.Fields{"device-id": ah.DeviceID})
	for {
		select {
		case <-aStopChan:
			logger.Debugw(ctx, "work goroutine stopped", log.Fields{"device-id": ah.DeviceID})
			return
		case item := <-ah.workChan:
			if item.fn != nil {
				item.fn(ctx)
			} else {
				ah.mainProcessPending.UnSet()
			}
			if err := ah.pMlan.MainProcess(ctx); err != nil {
				logger.Warnw(ctx, "main process failed", log.Fields{"device-id": ah.DeviceID, "work": item.name,
					"error": err})
			}
		}
	}
}

func (ah *AdapterHandle) kickHangCheck(ctx context.Context, aReason string) {
	if !ah.pMonitor.Kick(aReason) {
		logger.Debugw(ctx, "hang check already requested", log.Fields{"device-id": ah.DeviceID, "reason": aReason})
	}
}

func (ah *AdapterHandle) processFwDump(ctx context.Context, aReason string) {
	seq, err := ah.takeDump(ctx, aReason)
	if err != nil {
		logger.Errorw(ctx, "firmware dump incomplete", log.Fields{"device-id": ah.DeviceID, "error": err})
	}
	ah.pNotifier.Notify(ctx, ah.DeviceID, cmn.EventFwDumpComplete, []byte(fmt.Sprintf("seq=%d reason=%s", seq, aReason)))
	if ah.deletionInProgress.IsSet() {
		return
	}
	if !ah.config.AutoRecovery {
		ah.SetDriverHung(ctx, true)
		ah.kickHangCheck(ctx, "fw-dump")
		return
	}
	if !ah.pRecovery.Trigger(ctx, "fw-dump") {
		logger.Infow(ctx, "recovery after firmware dump not started - another one is in progress",
			log.Fields{"device-id": ah.DeviceID})
	}
}

func (ah *AdapterHandle) onInitDump(ctx context.Context, aReason string) {
	seq, err := ah.takeDump(ctx, aReason)
	if err != nil {
		logger.Errorw(ctx, "diagnostic dump incomplete", log.Fields{"device-id": ah.DeviceID, "error": err})
	}
	ah.pNotifier.Notify(ctx, ah.DeviceID, cmn.EventFwDumpComplete, []byte(fmt.Sprintf("seq=%d reason=%s", seq, aReason)))
}

//takeDump reads the register dump and the debug snapshot and stores both
func (ah *AdapterHandle) takeDump(ctx context.Context, aReason string) (uint32, error) {
	now := ah.clock()
	var errs []error
	regs, err := ah.pBus.DumpRegisters(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: register dump: %v", cmn.ErrBus, err))
	}
	snap, err := ah.pMlan.GetDebugInfo(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("debug info: %w", err))
		snap = nil
	}
	if snap != nil {
		snap.InterfaceTxTimeouts = ah.GetTxTimeouts()
		snap.DriverHung = ah.IsDriverHung()
		snap.TakenAt = now
	}
	seq, err := ah.pAdapterDB.StoreFwDump(ctx, aReason, regs, snap, now)
	if err != nil {
		errs = append(errs, err)
	}
	logger.Infow(ctx, "diagnostic dump taken", log.Fields{"device-id": ah.DeviceID, "reason": aReason,
		"sequence": seq, "register-bytes": len(regs), "snapshot": snap != nil})
	return seq, errors.Join(errs...)
}

func (ah *AdapterHandle) onRecovered(ctx context.Context) {
	ah.pMonitor.Rearm()
	if err := ah.pAdapterDB.UpdateSettings(ctx, func(s *devdb.Settings) { s.Recoveries++ }); err != nil {
		logger.Warnw(ctx, "recovery count not persisted", log.Fields{"device-id": ah.DeviceID, "error": err})
	}
}

func rolesOfDrvMode(aDrvMode uint32) []cmn.InterfaceRole {
	var roles []cmn.InterfaceRole
	if aDrvMode&cmn.DrvModeSta != 0 {
		roles = append(roles, cmn.RoleStation)
	}
	if aDrvMode&cmn.DrvModeUap != 0 {
		roles = append(roles, cmn.RoleAP)
	}
	if aDrvMode&cmn.DrvModeWfd != 0 {
		roles = append(roles, cmn.RoleWifiDirect)
	}
	return roles
}

func isCountryCode(aCountry string) bool {
	if len(aCountry) != 2 {
		return false
	}
	for _, c := range aCountry {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
