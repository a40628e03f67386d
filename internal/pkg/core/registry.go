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
	"fmt"
	"sort"
	"sync"

	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/config"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/devdb"
	"github.com/opencord/voltha-lib-go/v7/pkg/db"
	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/tevino/abool"
	"golang.org/x/sync/semaphore"
)

//MoalRegistry holds all adapters of the process and the state shared between them
type MoalRegistry struct {
	adapters       map[string]*AdapterHandle
	mutexAdapters  sync.RWMutex
	semAddRemove   *semaphore.Weighted
	recoveryMarker *abool.AtomicBool
	config         *config.MoalFlags
	notifier       cmn.Notifier
	kvClient       kvstore.Client
	kvBackend      devdb.KVBackend
	stopped        *abool.AtomicBool
}

//NewMoalRegistry returns an empty registry; without kv client the adapter data is kept in memory only
func NewMoalRegistry(ctx context.Context, cfg *config.MoalFlags, aNotifier cmn.Notifier,
	aKvClient kvstore.Client) *MoalRegistry {
	mr := &MoalRegistry{
		adapters:       make(map[string]*AdapterHandle),
		semAddRemove:   semaphore.NewWeighted(1),
		recoveryMarker: abool.New(),
		config:         cfg,
		notifier:       aNotifier,
		kvClient:       aKvClient,
		stopped:        abool.New(),
	}
	if aKvClient != nil {
		mr.kvBackend = mr.setBackend(ctx, devdb.CBasePathMoalKVStore)
	}
	return mr
}

//Start starts (logs) the registry
func (mr *MoalRegistry) Start(ctx context.Context) error {
	logger.Info(ctx, "starting-moal-registry")
	return nil
}

//Stop removes all adapters; persisted adapter data is kept
func (mr *MoalRegistry) Stop(ctx context.Context) error {
	if !mr.stopped.SetToIf(false, true) {
		return nil
	}
	logger.Info(ctx, "stopping-moal-registry")
	for _, deviceID := range mr.Adapters() {
		if err := mr.RemoveAdapter(ctx, deviceID, false); err != nil {
			logger.Warnw(ctx, "adapter not removed", log.Fields{"device-id": deviceID, "error": err})
		}
	}
	logger.Info(ctx, "moal-registry-stopped")
	return nil
}

//AddAdapter creates the handle of a discovered card and brings it up; a card failing to come up is not added
func (mr *MoalRegistry) AddAdapter(ctx context.Context, aDeviceID string, aChip string, aBus cmn.BusType,
	aDeps HandleDeps) (*AdapterHandle, error) {
	if mr.stopped.IsSet() {
		return nil, fmt.Errorf("registry stopped - device %s not added", aDeviceID)
	}
	if err := mr.semAddRemove.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer mr.semAddRemove.Release(1)

	if _, err := mr.GetAdapter(aDeviceID); err == nil {
		return nil, fmt.Errorf("device %s already added", aDeviceID)
	}
	cardInfo, err := card.Lookup(aChip, aBus)
	if err != nil {
		logger.Errorw(ctx, "card not supported", log.Fields{"device-id": aDeviceID, "error": err})
		return nil, err
	}
	logger.Infow(ctx, "add-adapter", log.Fields{"device-id": aDeviceID, "card": aChip, "bus": aBus.String()})
	handle := newAdapterHandle(ctx, mr, aDeviceID, cardInfo, aDeps)
	if err = handle.start(ctx); err != nil {
		logger.Errorw(ctx, "adapter bring-up failed", log.Fields{"device-id": aDeviceID, "error": err})
		handle.stop(ctx, false)
		return nil, err
	}
	mr.mutexAdapters.Lock()
	mr.adapters[aDeviceID] = handle
	mr.mutexAdapters.Unlock()
	return handle, nil
}

//RemoveAdapter tears the adapter down after an in-flight recovery finished; aPurge deletes its persisted data
func (mr *MoalRegistry) RemoveAdapter(ctx context.Context, aDeviceID string, aPurge bool) error {
	if err := mr.semAddRemove.Acquire(ctx, 1); err != nil {
		return err
	}
	defer mr.semAddRemove.Release(1)

	handle, err := mr.GetAdapter(aDeviceID)
	if err != nil {
		return err
	}
	logger.Infow(ctx, "remove-adapter", log.Fields{"device-id": aDeviceID, "purge": aPurge})
	handle.stop(ctx, aPurge)
	mr.mutexAdapters.Lock()
	delete(mr.adapters, aDeviceID)
	mr.mutexAdapters.Unlock()
	return nil
}

//GetAdapter returns the adapter of aDeviceID; the error wraps cmn.ErrDeviceNotFound
func (mr *MoalRegistry) GetAdapter(aDeviceID string) (*AdapterHandle, error) {
	mr.mutexAdapters.RLock()
	defer mr.mutexAdapters.RUnlock()
	if handle, ok := mr.adapters[aDeviceID]; ok {
		return handle, nil
	}
	return nil, fmt.Errorf("%w: %s", cmn.ErrDeviceNotFound, aDeviceID)
}

//Adapters returns the ids of all adapters, sorted
func (mr *MoalRegistry) Adapters() []string {
	mr.mutexAdapters.RLock()
	defer mr.mutexAdapters.RUnlock()
	ids := make([]string, 0, len(mr.adapters))
	for id := range mr.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

//RecoveryInProgress returns true while any adapter of the process is recovering
func (mr *MoalRegistry) RecoveryInProgress() bool {
	return mr.recoveryMarker.IsSet()
}

//IsReady returns true if there is at least one adapter and all adapters are ready
func (mr *MoalRegistry) IsReady() bool {
	mr.mutexAdapters.RLock()
	defer mr.mutexAdapters.RUnlock()
	if len(mr.adapters) == 0 {
		return false
	}
	for _, handle := range mr.adapters {
		if handle.GetHwStatus() != cmn.HwReady {
			return false
		}
	}
	return true
}

func (mr *MoalRegistry) setBackend(ctx context.Context, aBasePathKvStore string) *db.Backend {
	logger.Debugw(ctx, "SetKVStoreBackend", log.Fields{"IpTarget": mr.config.KVStoreAddress,
		"BasePathKvStore": aBasePathKvStore})
	kvbackend := &db.Backend{
		Client:     mr.kvClient,
		StoreType:  mr.config.KVStoreType,
		Address:    mr.config.KVStoreAddress,
		Timeout:    mr.config.KVStoreTimeout,
		PathPrefix: aBasePathKvStore}

	return kvbackend
}
