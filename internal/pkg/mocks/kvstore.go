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

//Package mocks provides in-memory stand-ins for the collaborators of the driver core
package mocks

import (
	"context"
	"sync"

	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
)

// KVStore is an in-memory key value backend with optional failure injection
type KVStore struct {
	mutex   sync.Mutex
	entries map[string][]byte
	FailPut error
	FailGet error
	FailDel error
}

// NewKVStore returns an empty store
func NewKVStore() *KVStore {
	return &KVStore{entries: make(map[string][]byte)}
}

// Put stores aValue, which must be a []byte or string
func (k *KVStore) Put(_ context.Context, aKey string, aValue interface{}) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.FailPut != nil {
		return k.FailPut
	}
	value, err := kvstore.ToByte(aValue)
	if err != nil {
		return err
	}
	k.entries[aKey] = append([]byte(nil), value...)
	return nil
}

// Get returns nil without error for a missing key
func (k *KVStore) Get(_ context.Context, aKey string) (*kvstore.KVPair, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.FailGet != nil {
		return nil, k.FailGet
	}
	value, ok := k.entries[aKey]
	if !ok {
		return nil, nil
	}
	return kvstore.NewKVPair(aKey, value, "", 0, 0), nil
}

// Delete removes aKey, a missing key is not an error
func (k *KVStore) Delete(_ context.Context, aKey string) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.FailDel != nil {
		return k.FailDel
	}
	delete(k.entries, aKey)
	return nil
}

// Keys returns the number of stored keys
func (k *KVStore) Keys() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return len(k.entries)
}
