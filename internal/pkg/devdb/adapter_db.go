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

// Package devdb provides the persisted per adapter diagnostics and settings
package devdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// CBasePathMoalKVStore is the kv store path prefix of all adapters
const CBasePathMoalKVStore = "service/voltha/moal_adapter"

// kv store keys below <CBasePathMoalKVStore>/<device-id>
const (
	cKeyFwDump   = "fw_dump"
	cKeyDebug    = "debug_snapshot"
	cKeySettings = "settings"
)

// ErrNoDump - no firmware dump was taken yet
var ErrNoDump = errors.New("no-firmware-dump")

// KVBackend is the part of db.Backend the device DB needs
type KVBackend interface {
	Put(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) (*kvstore.KVPair, error)
	Delete(ctx context.Context, key string) error
}

// FwDumpRecord is one persisted firmware dump
type FwDumpRecord struct {
	Sequence  uint32             `json:"sequence"`
	Reason    string             `json:"reason"`
	TakenAt   time.Time          `json:"taken_at"`
	Registers []byte             `json:"registers"`
	Snapshot  *cmn.DebugSnapshot `json:"snapshot,omitempty"`
}

// Settings are the adapter settings surviving a restart of the driver
type Settings struct {
	Country    string `json:"country"`
	Recoveries uint32 `json:"recoveries"`
}

// AdapterDB persists the diagnostics and settings of one adapter; without a backend it keeps them in memory only
type AdapterDB struct {
	deviceID     string
	kvBackend    KVBackend
	mutexDB      sync.RWMutex
	settings     Settings
	lastDump     *FwDumpRecord
	dumpSequence uint32
}

// NewAdapterDB returns the DB of aDeviceID; aBackend may be nil
func NewAdapterDB(ctx context.Context, aBackend KVBackend, aDeviceID string) *AdapterDB {
	logger.Debugw(ctx, "init AdapterDB", log.Fields{"device-id": aDeviceID, "persistent": aBackend != nil})
	return &AdapterDB{deviceID: aDeviceID, kvBackend: aBackend}
}

// Restore reads the persisted settings and the last dump sequence number
func (db *AdapterDB) Restore(ctx context.Context) error {
	db.mutexDB.Lock()
	defer db.mutexDB.Unlock()
	if db.kvBackend == nil {
		return nil
	}
	var settings Settings
	found, err := db.getLocked(ctx, cKeySettings, &settings)
	if err != nil {
		return err
	}
	if found {
		db.settings = settings
		logger.Debugw(ctx, "adapter settings restored", log.Fields{"device-id": db.deviceID, "settings": settings})
	}
	var dump FwDumpRecord
	if found, err = db.getLocked(ctx, cKeyFwDump, &dump); err != nil {
		return err
	}
	if found {
		db.lastDump = &dump
		db.dumpSequence = dump.Sequence
	}
	return nil
}

// GetSettings returns a copy of the current settings
func (db *AdapterDB) GetSettings() Settings {
	db.mutexDB.RLock()
	defer db.mutexDB.RUnlock()
	return db.settings
}

// UpdateSettings applies aUpdate to the settings and persists them
func (db *AdapterDB) UpdateSettings(ctx context.Context, aUpdate func(s *Settings)) error {
	db.mutexDB.Lock()
	defer db.mutexDB.Unlock()
	aUpdate(&db.settings)
	return db.putLocked(ctx, cKeySettings, db.settings)
}

// StoreFwDump persists a firmware dump and returns its sequence number
func (db *AdapterDB) StoreFwDump(ctx context.Context, aReason string, aRegisters []byte,
	aSnapshot *cmn.DebugSnapshot, aTakenAt time.Time) (uint32, error) {
	db.mutexDB.Lock()
	defer db.mutexDB.Unlock()
	db.dumpSequence++
	rec := &FwDumpRecord{
		Sequence:  db.dumpSequence,
		Reason:    aReason,
		TakenAt:   aTakenAt,
		Registers: aRegisters,
		Snapshot:  aSnapshot,
	}
	db.lastDump = rec
	if aSnapshot != nil {
		if err := db.putLocked(ctx, cKeyDebug, aSnapshot); err != nil {
			return rec.Sequence, err
		}
	}
	logger.Infow(ctx, "firmware dump stored", log.Fields{"device-id": db.deviceID, "sequence": rec.Sequence,
		"reason": aReason, "length": len(aRegisters)})
	return rec.Sequence, db.putLocked(ctx, cKeyFwDump, rec)
}

// GetLastFwDump returns the last stored dump or ErrNoDump
func (db *AdapterDB) GetLastFwDump() (*FwDumpRecord, error) {
	db.mutexDB.RLock()
	defer db.mutexDB.RUnlock()
	if db.lastDump == nil {
		return nil, fmt.Errorf("%w: device %s", ErrNoDump, db.deviceID)
	}
	rec := *db.lastDump
	return &rec, nil
}

// DeleteAll removes all persisted data of the adapter
func (db *AdapterDB) DeleteAll(ctx context.Context) error {
	db.mutexDB.Lock()
	defer db.mutexDB.Unlock()
	db.settings = Settings{}
	db.lastDump = nil
	if db.kvBackend == nil {
		return nil
	}
	for _, key := range []string{cKeyFwDump, cKeyDebug, cKeySettings} {
		if err := db.kvBackend.Delete(ctx, db.path(key)); err != nil {
			logger.Errorw(ctx, "unable to delete in KVstore", log.Fields{"device-id": db.deviceID, "key": key,
				"err": err})
			return fmt.Errorf("%w: delete %s: %v", cmn.ErrIo, key, err)
		}
	}
	logger.Debugw(ctx, "adapter data deleted from KVStore", log.Fields{"device-id": db.deviceID})
	return nil
}

// AdapterDB private (unexported) methods -- start

func (db *AdapterDB) path(aKey string) string {
	return db.deviceID + "/" + aKey
}

func (db *AdapterDB) putLocked(ctx context.Context, aKey string, aValue interface{}) error {
	if db.kvBackend == nil {
		return nil
	}
	value, err := json.Marshal(aValue)
	if err != nil {
		logger.Errorw(ctx, "unable to marshal adapter data", log.Fields{"device-id": db.deviceID, "key": aKey,
			"error": err})
		return fmt.Errorf("marshal %s: %w", aKey, err)
	}
	if err = db.kvBackend.Put(ctx, db.path(aKey), value); err != nil {
		logger.Errorw(ctx, "unable to write to KVstore", log.Fields{"device-id": db.deviceID, "key": aKey,
			"err": err})
		return fmt.Errorf("%w: write %s: %v", cmn.ErrIo, aKey, err)
	}
	return nil
}

func (db *AdapterDB) getLocked(ctx context.Context, aKey string, aValue interface{}) (bool, error) {
	kvPair, err := db.kvBackend.Get(ctx, db.path(aKey))
	if err != nil {
		logger.Errorw(ctx, "unable to read from KVstore", log.Fields{"device-id": db.deviceID, "key": aKey})
		return false, fmt.Errorf("%w: read %s: %v", cmn.ErrIo, aKey, err)
	}
	if kvPair == nil {
		logger.Debugw(ctx, "no adapter data found", log.Fields{"device-id": db.deviceID, "key": aKey})
		return false, nil
	}
	tmpBytes, err := kvstore.ToByte(kvPair.Value)
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", cmn.ErrIo, aKey, err)
	}
	if err = json.Unmarshal(tmpBytes, aValue); err != nil {
		logger.Errorw(ctx, "unable to unmarshal adapter data", log.Fields{"error": err, "device-id": db.deviceID})
		return false, fmt.Errorf("%w: unmarshal %s: %v", cmn.ErrIo, aKey, err)
	}
	return true, nil
}
