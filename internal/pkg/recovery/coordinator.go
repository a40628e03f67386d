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

//Package recovery provides the single-flight adapter recovery after a firmware hang
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/download"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/fwstore"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/tevino/abool"
	"go.uber.org/atomic"
)

// recovery FSM related events
const (
	RcEvDeclare    = "RcEvDeclare"
	RcEvQuiesce    = "RcEvQuiesce"
	RcEvReset      = "RcEvReset"
	RcEvRedownload = "RcEvRedownload"
	RcEvRestore    = "RcEvRestore"
	RcEvDone       = "RcEvDone"
	RcEvFail       = "RcEvFail"
	RcEvClear      = "RcEvClear"
)

// recovery FSM related states
const (
	RcStIdle          = "RcStIdle"
	RcStDeclared      = "RcStDeclared"
	RcStQuiescing     = "RcStQuiescing"
	RcStResetting     = "RcStResetting"
	RcStRedownloading = "RcStRedownloading"
	RcStRestoring     = "RcStRestoring"
	RcStFailed        = "RcStFailed"
)

// Redownloader runs the firmware download sequence
type Redownloader interface {
	Run(ctx context.Context, aMode download.Mode) error
}

// Deps are the collaborators of a Coordinator
type Deps struct {
	Adapter   cmn.IadapterHandle
	Bus       cmn.BusOps
	Mlan      cmn.Mlan
	Sequencer Redownloader
	Store     *fwstore.FirmwareStore
	Notifier  cmn.Notifier
	Card      *card.Info
	// Marker is the process wide "recovery in progress" flag, shared by all adapters
	Marker *abool.AtomicBool
}

// Config holds the recovery tunables
type Config struct {
	ResetPollTries  int
	ResetPollDelay  time.Duration
	TxPowerTemplate string
	WaitPolicy      fwstore.WaitPolicy
}

// default tunables
const (
	CDefaultResetPollTries = 100
	CDefaultResetPollDelay = 100 * time.Microsecond
)

// Coordinator quiesces, resets, redownloads and restores one adapter; at most one recovery runs at a time
type Coordinator struct {
	deviceID       string
	pAdapter       cmn.IadapterHandle
	pBus           cmn.BusOps
	pMlan          cmn.Mlan
	pSequencer     Redownloader
	pStore         *fwstore.FirmwareStore
	pNotifier      cmn.Notifier
	pCard          *card.Info
	marker         *abool.AtomicBool
	cfg            Config
	PAdaptFsm      *cmn.AdapterFsm
	mutexRecovery  sync.Mutex
	onRestored     func(ctx context.Context)
	lastErr        error
	inFlight       cmn.WaitGroupWithTimeOut
	markerSetCnt   *atomic.Uint64
	markerClearCnt *atomic.Uint64
	attempts       *atomic.Uint64
}

// NewCoordinator returns a coordinator in state RcStIdle
func NewCoordinator(ctx context.Context, aDeps Deps, aCfg Config) *Coordinator {
	if aCfg.ResetPollTries <= 0 {
		aCfg.ResetPollTries = CDefaultResetPollTries
	}
	if aCfg.ResetPollDelay <= 0 {
		aCfg.ResetPollDelay = CDefaultResetPollDelay
	}
	marker := aDeps.Marker
	if marker == nil {
		marker = abool.New()
	}
	rc := &Coordinator{
		deviceID:       aDeps.Adapter.GetDeviceID(),
		pAdapter:       aDeps.Adapter,
		pBus:           aDeps.Bus,
		pMlan:          aDeps.Mlan,
		pSequencer:     aDeps.Sequencer,
		pStore:         aDeps.Store,
		pNotifier:      aDeps.Notifier,
		pCard:          aDeps.Card,
		marker:         marker,
		cfg:            aCfg,
		markerSetCnt:   atomic.NewUint64(0),
		markerClearCnt: atomic.NewUint64(0),
		attempts:       atomic.NewUint64(0),
	}
	rc.PAdaptFsm = cmn.NewAdapterFsm("RecoveryCoordinator", rc.deviceID)
	rc.PAdaptFsm.PFsm = fsm.NewFSM(
		RcStIdle,
		fsm.Events{
			{Name: RcEvDeclare, Src: []string{RcStIdle}, Dst: RcStDeclared},
			{Name: RcEvQuiesce, Src: []string{RcStDeclared}, Dst: RcStQuiescing},
			{Name: RcEvReset, Src: []string{RcStQuiescing}, Dst: RcStResetting},
			{Name: RcEvRedownload, Src: []string{RcStResetting}, Dst: RcStRedownloading},
			{Name: RcEvRestore, Src: []string{RcStRedownloading}, Dst: RcStRestoring},
			{Name: RcEvDone, Src: []string{RcStRestoring}, Dst: RcStIdle},
			{Name: RcEvFail, Src: []string{RcStDeclared, RcStQuiescing, RcStResetting, RcStRedownloading,
				RcStRestoring}, Dst: RcStFailed},
			{Name: RcEvClear, Src: []string{RcStFailed}, Dst: RcStIdle},
		},
		fsm.Callbacks{
			"enter_state":           func(e *fsm.Event) { rc.PAdaptFsm.LogFsmStateChange(ctx, e) },
			"enter_" + RcStDeclared: func(e *fsm.Event) { rc.pAdapter.SetHwStatus(ctx, cmn.HwNotReady) },
			"enter_" + RcStFailed:   func(e *fsm.Event) { rc.pAdapter.SetDriverHung(ctx, true) },
		},
	)
	return rc
}

//SetOnRestored registers a function called after a successful recovery, e.g. to re-arm hang reporting
func (rc *Coordinator) SetOnRestored(aFunc func(ctx context.Context)) {
	rc.mutexRecovery.Lock()
	defer rc.mutexRecovery.Unlock()
	rc.onRestored = aFunc
}

// Trigger starts a recovery in the background; returns false if a recovery is already in progress
func (rc *Coordinator) Trigger(ctx context.Context, aReason string) bool {
	if !rc.acquireMarker(ctx, aReason) {
		return false
	}
	rc.inFlight.Add(1)
	go func() {
		defer rc.inFlight.Done()
		_ = rc.runRecovery(context.WithoutCancel(ctx), aReason)
	}()
	return true
}

// Recover runs a recovery in the calling goroutine; the error wraps cmn.ErrRecoveryInProgress if one is
// already running
func (rc *Coordinator) Recover(ctx context.Context, aReason string) error {
	if !rc.acquireMarker(ctx, aReason) {
		return fmt.Errorf("%w: device %s", cmn.ErrRecoveryInProgress, rc.deviceID)
	}
	rc.inFlight.Add(1)
	defer rc.inFlight.Done()
	return rc.runRecovery(ctx, aReason)
}

// Wait blocks until a recovery started by this coordinator has finished
func (rc *Coordinator) Wait() {
	rc.inFlight.Wait()
}

// WaitTimeout is Wait with an upper bound; returns true if the recovery is still running
func (rc *Coordinator) WaitTimeout(aTimeout time.Duration) bool {
	return rc.inFlight.WaitTimeout(aTimeout)
}

// InProgress returns true while any recovery holds the process wide marker
func (rc *Coordinator) InProgress() bool {
	return rc.marker.IsSet()
}

// MarkerCounts returns how often this coordinator set and cleared the process wide marker
func (rc *Coordinator) MarkerCounts() (uint64, uint64) {
	return rc.markerSetCnt.Load(), rc.markerClearCnt.Load()
}

// Attempts returns the number of recoveries started
func (rc *Coordinator) Attempts() uint64 {
	return rc.attempts.Load()
}

// LastError returns the outcome of the last finished recovery
func (rc *Coordinator) LastError() error {
	rc.mutexRecovery.Lock()
	defer rc.mutexRecovery.Unlock()
	return rc.lastErr
}

//CurrentState returns the FSM state
func (rc *Coordinator) CurrentState() string {
	return rc.PAdaptFsm.PFsm.Current()
}

// Coordinator private (unexported) methods -- start

func (rc *Coordinator) acquireMarker(ctx context.Context, aReason string) bool {
	if !rc.marker.SetToIf(false, true) {
		logger.Infow(ctx, "recovery already in progress - request ignored", log.Fields{"device-id": rc.deviceID,
			"reason": aReason})
		metrics.RecoveryRejected.Inc()
		return false
	}
	rc.markerSetCnt.Inc()
	return true
}

func (rc *Coordinator) releaseMarker() {
	rc.markerClearCnt.Inc()
	rc.marker.UnSet()
}

//runRecovery drives the recovery FSM; the caller must hold the marker, it is released on every exit path
func (rc *Coordinator) runRecovery(ctx context.Context, aReason string) (err error) {
	defer rc.releaseMarker()
	rc.attempts.Inc()
	start := time.Now()

	pBaseFsm := rc.PAdaptFsm.PFsm
	if pBaseFsm.Is(RcStFailed) {
		_ = pBaseFsm.Event(RcEvClear)
	}
	if evErr := pBaseFsm.Event(RcEvDeclare); evErr != nil {
		logger.Errorw(ctx, "RecoveryCoordinator can't proceed", log.Fields{"device-id": rc.deviceID,
			"state": pBaseFsm.Current(), "error": evErr})
		return fmt.Errorf("%w: device %s in state %s", cmn.ErrRecoveryInProgress, rc.deviceID, pBaseFsm.Current())
	}
	logger.Warnw(ctx, "adapter recovery started", log.Fields{"device-id": rc.deviceID, "reason": aReason})
	rc.pNotifier.Notify(ctx, rc.deviceID, cmn.EventRecoveryStarted, []byte(aReason))
	prevCountry := rc.pAdapter.GetActiveCountry()

	defer func() {
		rc.mutexRecovery.Lock()
		rc.lastErr = err
		onRestored := rc.onRestored
		rc.mutexRecovery.Unlock()
		if err != nil {
			if pBaseFsm.Current() != RcStFailed {
				_ = pBaseFsm.Event(RcEvFail)
			}
			metrics.Recoveries.WithLabelValues(rc.deviceID, metrics.OutcomeFailed).Inc()
			rc.pNotifier.Notify(ctx, rc.deviceID, cmn.EventRecoveryFailed, []byte(err.Error()))
			logger.Errorw(ctx, "adapter recovery failed - adapter stays hung", log.Fields{"device-id": rc.deviceID,
				"error": err})
			// the hung flag keeps the failure, the FSM goes back to idle before the marker is released
			_ = pBaseFsm.Event(RcEvClear)
			return
		}
		_ = pBaseFsm.Event(RcEvDone)
		if onRestored != nil {
			onRestored(ctx)
		}
		metrics.Recoveries.WithLabelValues(rc.deviceID, metrics.OutcomeSucceeded).Inc()
		rc.pNotifier.Notify(ctx, rc.deviceID, cmn.EventRecoverySucceeded, nil)
		logger.Infow(ctx, "adapter recovery succeeded", log.Fields{"device-id": rc.deviceID,
			"took": time.Since(start).String()})
	}()

	_ = pBaseFsm.Event(RcEvQuiesce)
	rc.quiesce(ctx)

	_ = pBaseFsm.Event(RcEvReset)
	if err = rc.reset(ctx); err != nil {
		return err
	}

	_ = pBaseFsm.Event(RcEvRedownload)
	rc.pAdapter.SetFwReload(true)
	err = rc.pSequencer.Run(ctx, download.ModeReload)
	rc.pAdapter.SetFwReload(false)
	if err != nil {
		return fmt.Errorf("redownload: %w", err)
	}

	_ = pBaseFsm.Event(RcEvRestore)
	return rc.restore(ctx, prevCountry)
}

//quiesce brings all interfaces into a safe state for the reset; failures are logged and skipped
func (rc *Coordinator) quiesce(ctx context.Context) {
	for _, ifc := range rc.pAdapter.GetInterfaces() {
		ifc.StopTxQueues(ctx)
		ifc.Detach(ctx)
		logger.Debugw(ctx, "interface quiesced", log.Fields{"device-id": rc.deviceID, "interface": ifc.GetName()})
	}
	if err := rc.pMlan.ShutdownFirmware(ctx); err != nil {
		logger.Warnw(ctx, "firmware shutdown failed - continuing with reset", log.Fields{"device-id": rc.deviceID,
			"error": err})
	}
}

//restore re-attaches the interfaces and re-applies the previously active power table
func (rc *Coordinator) restore(ctx context.Context, aCountry string) error {
	if aCountry != "" && rc.pAdapter.GetActiveCountry() != aCountry {
		if err := rc.applyCountry(ctx, aCountry); err != nil {
			return err
		}
	}
	for _, ifc := range rc.pAdapter.GetInterfaces() {
		ifc.Attach(ctx)
		ifc.ResetTxTimeoutCount()
		ifc.WakeTxQueues(ctx)
	}
	rc.pAdapter.SetDriverHung(ctx, false)
	return nil
}

func (rc *Coordinator) applyCountry(ctx context.Context, aCountry string) error {
	if rc.pStore == nil {
		return nil
	}
	name := download.PowerTableName(rc.cfg.TxPowerTemplate, aCountry)
	blob, err := rc.pStore.Acquire(ctx, name, rc.cfg.WaitPolicy)
	if errors.Is(err, cmn.ErrNotFound) {
		logger.Warnw(ctx, "power table of previous country not present - not re-applied", log.Fields{
			"device-id": rc.deviceID, "country": aCountry})
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore country %s: %w", aCountry, err)
	}
	defer rc.pStore.Release(ctx, blob)
	if err = rc.pMlan.SetCountry(ctx, aCountry, blob.Bytes()); err != nil {
		return fmt.Errorf("restore country %s: %w", aCountry, err)
	}
	rc.pAdapter.SetActiveCountry(ctx, aCountry)
	logger.Infow(ctx, "country power table re-applied", log.Fields{"device-id": rc.deviceID, "country": aCountry})
	rc.pNotifier.Notify(ctx, rc.deviceID, cmn.EventCountryPowerApplied, []byte(aCountry))
	return nil
}
