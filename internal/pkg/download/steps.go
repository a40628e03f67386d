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

package download

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/fwstore"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/initsync"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// DownloadSequencer private (unexported) methods -- start

//requestImage resolves the image name and acquires the main firmware blob
func (ds *DownloadSequencer) requestImage(ctx context.Context, aCfg Config, aMode Mode) (*fwstore.FirmwareBlob, error) {
	name := aCfg.FwName
	if name == "" {
		var err error
		name, err = ds.pBus.ResolveFirmwareName(ctx, cmn.CardConfig{
			Chip: ds.pCard.Chip, SerialBoot: aCfg.SerialBoot, Reload: aMode == ModeReload})
		if err != nil {
			return nil, fmt.Errorf("%w: no image name: %w", cmn.ErrDownloadFailed, busError(err))
		}
	}
	blob, err := ds.pStore.Acquire(ctx, name, aCfg.WaitPolicy)
	if err != nil {
		logger.Errorw(ctx, "firmware image not available", log.Fields{"device-id": ds.deviceID, "name": name, "error": err})
		return nil, fmt.Errorf("%w: %w", cmn.ErrDownloadFailed, err)
	}
	ds.hold(blob)
	return blob, nil
}

//downloadImage transfers the image including staged continuations and collects the auxiliary blobs
func (ds *DownloadSequencer) downloadImage(ctx context.Context, aCfg Config) (*cmn.InitParams, error) {
	blob := ds.imageBlob
	req, err := ds.pBus.DownloadFirmware(ctx, blob.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: firmware transfer: %w", cmn.ErrDownloadFailed, busError(err))
	}
	rounds := 0
	for req != nil {
		if rounds >= cMaxVdllRounds {
			return nil, fmt.Errorf("%w: device requested more than %d staged sections", cmn.ErrDownloadFailed, cMaxVdllRounds)
		}
		chunk, secErr := blob.Section(req.Offset, req.Length)
		if secErr != nil {
			return nil, fmt.Errorf("%w: staged section: %v", cmn.ErrDownloadFailed, secErr)
		}
		if req, err = ds.pBus.DownloadChunk(ctx, chunk); err != nil {
			return nil, fmt.Errorf("%w: staged transfer: %w", cmn.ErrDownloadFailed, busError(err))
		}
		rounds++
	}
	logger.Infow(ctx, "firmware image downloaded", log.Fields{"device-id": ds.deviceID, "name": blob.Name(),
		"length": blob.Len(), "crc": fmt.Sprintf("0x%08x", blob.Crc()), "vdll-rounds": rounds})
	ds.release(ctx, blob)
	ds.imageBlob = nil

	params := &cmn.InitParams{}
	if params.DpdData, err = ds.acquireOptional(ctx, aCfg, aCfg.DpdFile); err != nil {
		return nil, err
	}
	if params.Country, params.TxPowerTable, err = ds.acquirePowerTable(ctx, aCfg); err != nil {
		return nil, err
	}
	calFile := aCfg.CalDataFile
	if calFile == "" && ds.pCard.NeedsCalData {
		calFile = ds.pCard.CalData
	}
	if params.CalData, err = ds.acquireOptional(ctx, aCfg, calFile); err != nil {
		return nil, err
	}
	if params.HostCmdCfg, err = ds.acquireOptional(ctx, aCfg, aCfg.HostCmdFile); err != nil {
		return nil, err
	}
	return params, nil
}

//acquireOptional loads an optional blob, a missing one is not an error
func (ds *DownloadSequencer) acquireOptional(ctx context.Context, aCfg Config, aName string) ([]byte, error) {
	if aName == "" {
		return nil, nil
	}
	blob, err := ds.pStore.Acquire(ctx, aName, aCfg.WaitPolicy)
	if errors.Is(err, cmn.ErrNotFound) {
		logger.Infow(ctx, "optional firmware blob not present - skipped", log.Fields{"device-id": ds.deviceID, "name": aName})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cmn.ErrDownloadFailed, err)
	}
	ds.hold(blob)
	return blob.Bytes(), nil
}

//acquirePowerTable loads the country power table, degrading once to the world-wide table
func (ds *DownloadSequencer) acquirePowerTable(ctx context.Context, aCfg Config) (string, []byte, error) {
	country := strings.ToUpper(aCfg.Country)
	if country == "" {
		country = CWorldWideCountry
	}
	name := PowerTableName(aCfg.TxPowerTemplate, country)
	fallback := PowerTableName(aCfg.TxPowerTemplate, CWorldWideCountry)
	blob, err := ds.pStore.AcquireWithFallback(ctx, name, fallback, aCfg.WaitPolicy)
	if errors.Is(err, cmn.ErrNotFound) {
		logger.Infow(ctx, "no power table present - skipped", log.Fields{"device-id": ds.deviceID, "name": name})
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", cmn.ErrDownloadFailed, err)
	}
	ds.hold(blob)
	if blob.Name() != name {
		logger.Warnw(ctx, "country power table missing - using world-wide table", log.Fields{"device-id": ds.deviceID,
			"country": country})
		country = CWorldWideCountry
	}
	return country, blob.Bytes(), nil
}

//awaitDeviceInit requests firmware init and waits for its completion
func (ds *DownloadSequencer) awaitDeviceInit(ctx context.Context, aCfg Config) error {
	ds.pInitSync.Arm()
	status, err := ds.pMlan.InitFirmware(ctx, ds.initParams, ds.initComplete)
	switch status {
	case cmn.MlanStatusSuccess:
	case cmn.MlanStatusPending:
		res, reason := ds.pInitSync.Wait(ctx, aCfg.InitTimeout)
		if res != initsync.Signaled {
			logger.Errorw(ctx, "device init not completed in time", log.Fields{"device-id": ds.deviceID,
				"timeout": aCfg.InitTimeout, "error": reason})
			ds.requestDump(ctx, "init-timeout")
			return fmt.Errorf("%w: no completion within %s", cmn.ErrInitTimeout, aCfg.InitTimeout)
		}
		if reason != nil {
			return fmt.Errorf("%w: device init failed: %v", cmn.ErrDownloadFailed, reason)
		}
	default:
		return fmt.Errorf("%w: firmware rejected init: %v", cmn.ErrDownloadFailed, err)
	}
	// auxiliary blobs are consumed by the firmware init
	ds.releaseAll(ctx)
	ds.pAdapter.SetHwStatus(ctx, cmn.HwFwReady)
	return nil
}

//initComplete is handed to the MAC layer and may run in any goroutine
func (ds *DownloadSequencer) initComplete(aErr error) {
	if aErr != nil {
		ds.pInitSync.Fail(aErr)
		return
	}
	ds.pInitSync.Signal()
}

//setupAdapter sets up interfaces (fatal) and the optional adapter configuration (best effort)
func (ds *DownloadSequencer) setupAdapter(ctx context.Context, aCfg Config, aMode Mode) error {
	if aMode == ModeNormal {
		for _, ifc := range ds.pAdapter.PopulateInterfaces(ctx) {
			mac, err := ds.pMlan.GetMacAddress(ctx, ifc.GetRole(), ifc.GetIndex())
			if err != nil {
				return fmt.Errorf("%w: mac address of %s: %v", cmn.ErrInterfaceSetupFailed, ifc.GetName(), err)
			}
			ifc.SetMacAddress(mac)
			if err = ds.pRegistrar.RegisterInterface(ctx, ifc); err != nil {
				return fmt.Errorf("%w: register %s: %v", cmn.ErrInterfaceSetupFailed, ifc.GetName(), err)
			}
			ifc.SetRegistered(true)
		}
	}
	if ds.initParams != nil && len(ds.initParams.TxPowerTable) > 0 {
		ds.pAdapter.SetActiveCountry(ctx, ds.initParams.Country)
	}

	optional := []struct {
		name string
		fn   func() error
	}{
		{"antenna", func() error {
			mode := aCfg.AntennaMode
			if mode == 0 {
				mode = ds.pCard.AntennaMode
			}
			if mode == 0 {
				return nil
			}
			return ds.pMlan.SetAntenna(ctx, mode)
		}},
		{"low-power-mode", func() error {
			if !aCfg.LowPowerMode {
				return nil
			}
			return ds.pMlan.SetLowPowerMode(ctx, true)
		}},
		{"slew-rate", func() error {
			if ds.pCard.SlewRateReg == 0 {
				return nil
			}
			return ds.pBus.WriteRegister(ctx, ds.pCard.SlewRateReg, ds.pCard.SlewRateValue)
		}},
		{"pmic", func() error {
			if ds.pCard.PmicReg == 0 {
				return nil
			}
			return ds.pBus.WriteRegister(ctx, ds.pCard.PmicReg, ds.pCard.PmicValue)
		}},
	}
	for _, step := range optional {
		if err := step.fn(); err != nil {
			logger.Warnw(ctx, "optional adapter configuration failed", log.Fields{"device-id": ds.deviceID,
				"step": step.name, "error": err})
		}
	}
	return nil
}

//rollback undoes the interface setup of a failed run
func (ds *DownloadSequencer) rollback(ctx context.Context, aIfacesCreated bool) {
	if aIfacesCreated {
		for _, ifc := range ds.pAdapter.GetInterfaces() {
			if ifc.IsRegistered() {
				ds.pRegistrar.UnregisterInterface(ctx, ifc)
				ifc.SetRegistered(false)
			}
		}
		ds.pAdapter.RemoveInterfaces(ctx)
	}
	ds.releaseAll(ctx)
	ds.imageBlob = nil
	ds.initParams = nil
}

func (ds *DownloadSequencer) requestDump(ctx context.Context, aReason string) {
	ds.mutexParams.RLock()
	handler := ds.dumpHandler
	ds.mutexParams.RUnlock()
	if handler == nil {
		logger.Warnw(ctx, "diagnostic dump requested but no handler set", log.Fields{"device-id": ds.deviceID,
			"reason": aReason})
		return
	}
	handler(ctx, aReason)
}

func (ds *DownloadSequencer) hold(aBlob *fwstore.FirmwareBlob) {
	ds.mutexHeld.Lock()
	defer ds.mutexHeld.Unlock()
	ds.held = append(ds.held, aBlob)
}

func (ds *DownloadSequencer) release(ctx context.Context, aBlob *fwstore.FirmwareBlob) {
	ds.mutexHeld.Lock()
	for i, b := range ds.held {
		if b == aBlob {
			ds.held = append(ds.held[:i], ds.held[i+1:]...)
			break
		}
	}
	ds.mutexHeld.Unlock()
	ds.pStore.Release(ctx, aBlob)
}

func (ds *DownloadSequencer) releaseAll(ctx context.Context) {
	ds.mutexHeld.Lock()
	loHeld := ds.held
	ds.held = nil
	ds.mutexHeld.Unlock()
	for _, b := range loHeld {
		ds.pStore.Release(ctx, b)
	}
}

// PowerTableName returns the power table file name of a country
func PowerTableName(aTemplate string, aCountry string) string {
	if aTemplate == "" {
		aTemplate = CDefaultTxPowerTemplate
	}
	return fmt.Sprintf(aTemplate, strings.ToUpper(aCountry))
}

func busError(aErr error) error {
	if errors.Is(aErr, cmn.ErrBus) {
		return aErr
	}
	return fmt.Errorf("%w: %v", cmn.ErrBus, aErr)
}

func outcomeOf(aErr error) string {
	switch {
	case errors.Is(aErr, cmn.ErrInitTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(aErr, cmn.ErrInterfaceSetupFailed):
		return metrics.OutcomeSetup
	}
	return metrics.OutcomeFailed
}
