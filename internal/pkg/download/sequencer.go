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

//Package download provides the firmware download and device bring-up sequence
package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/fwstore"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/initsync"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/tevino/abool"
)

const (
	// CDefaultInitTimeout is how long the device gets to report init completion
	CDefaultInitTimeout = 10 * time.Second
	// CDefaultTxPowerTemplate names the per country power table, %s is the country code
	CDefaultTxPowerTemplate = "nxp/txpower_%s.bin"
	// CWorldWideCountry is the country code of the world-wide power table
	CWorldWideCountry = "WW"
	cMaxVdllRounds    = 4096
)

// Mode of a download run
type Mode uint8

const (
	// ModeNormal brings the adapter up from scratch including its interfaces
	ModeNormal Mode = iota
	// ModeReload re-downloads after a reset and keeps the existing interfaces
	ModeReload
)

// String - Return the text representation of the mode
func (m Mode) String() string {
	if m == ModeReload {
		return "reload"
	}
	return "normal"
}

// download FSM related events
const (
	DlEvRequestImage = "DlEvRequestImage"
	DlEvImageReady   = "DlEvImageReady"
	DlEvDownloaded   = "DlEvDownloaded"
	DlEvDeviceReady  = "DlEvDeviceReady"
	DlEvFail         = "DlEvFail"
	DlEvReset        = "DlEvReset"
)

// download FSM related states
const (
	DlStIdle               = "DlStIdle"
	DlStRequestingImage    = "DlStRequestingImage"
	DlStDownloading        = "DlStDownloading"
	DlStAwaitingDeviceInit = "DlStAwaitingDeviceInit"
	DlStReady              = "DlStReady"
	DlStFailed             = "DlStFailed"
)

// Config holds the per adapter firmware parameters
type Config struct {
	FwName          string
	SerialBoot      bool
	WaitPolicy      fwstore.WaitPolicy
	InitTimeout     time.Duration
	Country         string
	TxPowerTemplate string
	DpdFile         string
	CalDataFile     string
	HostCmdFile     string
	AntennaMode     uint32
	LowPowerMode    bool
}

// DumpHandler is invoked when the device failed to come up in time
type DumpHandler func(ctx context.Context, aReason string)

// Deps are the collaborators of a DownloadSequencer
type Deps struct {
	Adapter   cmn.IadapterHandle
	Bus       cmn.BusOps
	Mlan      cmn.Mlan
	Store     *fwstore.FirmwareStore
	Registrar cmn.NetdevRegistrar
	Notifier  cmn.Notifier
	Card      *card.Info
}

//DownloadSequencer brings a firmware image onto the device and the adapter up to Ready
type DownloadSequencer struct {
	deviceID    string
	pAdapter    cmn.IadapterHandle
	pBus        cmn.BusOps
	pMlan       cmn.Mlan
	pStore      *fwstore.FirmwareStore
	pRegistrar  cmn.NetdevRegistrar
	pNotifier   cmn.Notifier
	pCard       *card.Info
	pInitSync   *initsync.InitSynchronizer
	PAdaptFsm   *cmn.AdapterFsm
	running     *abool.AtomicBool
	mutexParams sync.RWMutex
	cfg         Config
	dumpHandler DumpHandler
	mutexHeld   sync.Mutex
	held        []*fwstore.FirmwareBlob
	imageBlob   *fwstore.FirmwareBlob
	initParams  *cmn.InitParams
}

//NewDownloadSequencer returns a sequencer in state DlStIdle
func NewDownloadSequencer(ctx context.Context, aDeps Deps, aCfg Config) *DownloadSequencer {
	if aCfg.InitTimeout <= 0 {
		aCfg.InitTimeout = CDefaultInitTimeout
	}
	if aCfg.TxPowerTemplate == "" {
		aCfg.TxPowerTemplate = CDefaultTxPowerTemplate
	}
	ds := &DownloadSequencer{
		deviceID:   aDeps.Adapter.GetDeviceID(),
		pAdapter:   aDeps.Adapter,
		pBus:       aDeps.Bus,
		pMlan:      aDeps.Mlan,
		pStore:     aDeps.Store,
		pRegistrar: aDeps.Registrar,
		pNotifier:  aDeps.Notifier,
		pCard:      aDeps.Card,
		pInitSync:  initsync.NewInitSynchronizer(),
		running:    abool.New(),
		cfg:        aCfg,
	}
	ds.PAdaptFsm = cmn.NewAdapterFsm("DownloadSequencer", ds.deviceID)
	ds.PAdaptFsm.PFsm = fsm.NewFSM(
		DlStIdle,
		fsm.Events{
			{Name: DlEvRequestImage, Src: []string{DlStIdle}, Dst: DlStRequestingImage},
			{Name: DlEvImageReady, Src: []string{DlStRequestingImage}, Dst: DlStDownloading},
			{Name: DlEvDownloaded, Src: []string{DlStDownloading}, Dst: DlStAwaitingDeviceInit},
			{Name: DlEvDeviceReady, Src: []string{DlStAwaitingDeviceInit}, Dst: DlStReady},
			{Name: DlEvFail, Src: []string{DlStRequestingImage, DlStDownloading, DlStAwaitingDeviceInit}, Dst: DlStFailed},
			{Name: DlEvReset, Src: []string{DlStReady, DlStFailed}, Dst: DlStIdle},
		},
		fsm.Callbacks{
			"enter_state":                  func(e *fsm.Event) { ds.PAdaptFsm.LogFsmStateChange(ctx, e) },
			"enter_" + DlStRequestingImage: func(e *fsm.Event) { ds.pAdapter.SetHwStatus(ctx, cmn.HwInitializing) },
			"enter_" + DlStReady:           func(e *fsm.Event) { ds.pAdapter.SetHwStatus(ctx, cmn.HwReady) },
			"enter_" + DlStFailed:          func(e *fsm.Event) { ds.pAdapter.SetHwStatus(ctx, cmn.HwNotReady) },
		},
	)
	logger.Debugw(ctx, "DownloadSequencer created", log.Fields{"device-id": ds.deviceID, "card": ds.pCard.Chip})
	return ds
}

//SetDumpHandler configures what to do when device init times out
func (ds *DownloadSequencer) SetDumpHandler(aHandler DumpHandler) {
	ds.mutexParams.Lock()
	defer ds.mutexParams.Unlock()
	ds.dumpHandler = aHandler
}

//SetCountry changes the country whose power table is loaded on the next run
func (ds *DownloadSequencer) SetCountry(aCountry string) {
	ds.mutexParams.Lock()
	defer ds.mutexParams.Unlock()
	ds.cfg.Country = aCountry
}

//GetInitSynchronizer returns the rendezvous the device init completion is reported to
func (ds *DownloadSequencer) GetInitSynchronizer() *initsync.InitSynchronizer {
	return ds.pInitSync
}

//CurrentState returns the FSM state
func (ds *DownloadSequencer) CurrentState() string {
	return ds.PAdaptFsm.PFsm.Current()
}

//Run executes the complete sequence; the error wraps cmn.ErrDownloadFailed, cmn.ErrInitTimeout or
//cmn.ErrInterfaceSetupFailed. All firmware blobs acquired by the run are released before it returns.
func (ds *DownloadSequencer) Run(ctx context.Context, aMode Mode) error {
	if !ds.running.SetToIf(false, true) {
		return fmt.Errorf("download sequence already running for device %s", ds.deviceID)
	}
	defer ds.running.UnSet()
	defer ds.releaseAll(ctx)

	pBaseFsm := ds.PAdaptFsm.PFsm
	if pBaseFsm.Is(DlStReady) || pBaseFsm.Is(DlStFailed) {
		_ = pBaseFsm.Event(DlEvReset)
	}
	ds.mutexParams.RLock()
	cfg := ds.cfg
	ds.mutexParams.RUnlock()

	logger.Infow(ctx, "firmware download sequence started", log.Fields{"device-id": ds.deviceID, "mode": aMode.String()})
	start := time.Now()
	var ifacesCreated bool
	var runErr error
	event := DlEvRequestImage
	for {
		if evErr := pBaseFsm.Event(event); evErr != nil {
			logger.Errorw(ctx, "DownloadSequencer can't proceed", log.Fields{"device-id": ds.deviceID,
				"event": event, "state": pBaseFsm.Current(), "error": evErr})
			return fmt.Errorf("%w: invalid sequence state %s: %v", cmn.ErrDownloadFailed, pBaseFsm.Current(), evErr)
		}
		switch pBaseFsm.Current() {
		case DlStRequestingImage:
			var blob *fwstore.FirmwareBlob
			if blob, runErr = ds.requestImage(ctx, cfg, aMode); runErr == nil {
				ds.imageBlob = blob
				event = DlEvImageReady
			}
		case DlStDownloading:
			var params *cmn.InitParams
			if params, runErr = ds.downloadImage(ctx, cfg); runErr == nil {
				ds.initParams = params
				event = DlEvDownloaded
			}
		case DlStAwaitingDeviceInit:
			if runErr = ds.awaitDeviceInit(ctx, cfg); runErr == nil {
				ifacesCreated = aMode == ModeNormal
				if runErr = ds.setupAdapter(ctx, cfg, aMode); runErr == nil {
					event = DlEvDeviceReady
				}
			}
		case DlStReady:
			metrics.Downloads.WithLabelValues(ds.deviceID, metrics.OutcomeSucceeded).Inc()
			ds.pNotifier.Notify(ctx, ds.deviceID, cmn.EventFwReady, nil)
			logger.Infow(ctx, "adapter ready", log.Fields{"device-id": ds.deviceID, "mode": aMode.String(),
				"took": time.Since(start).String()})
			return nil
		case DlStFailed:
			ds.rollback(ctx, ifacesCreated)
			metrics.Downloads.WithLabelValues(ds.deviceID, outcomeOf(runErr)).Inc()
			ds.pNotifier.Notify(ctx, ds.deviceID, cmn.EventFwInitFailed, []byte(runErr.Error()))
			logger.Errorw(ctx, "firmware download sequence failed", log.Fields{"device-id": ds.deviceID,
				"mode": aMode.String(), "error": runErr})
			return runErr
		}
		if runErr != nil {
			event = DlEvFail
		}
	}
}
