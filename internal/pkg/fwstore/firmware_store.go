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

//Package fwstore provides the named firmware blob store of the driver
package fwstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/boguslaw-wojcik/crc32a"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/spf13/afero"
	"github.com/tevino/abool"
)

// CDefaultFirmwareDir is the default directory firmware names are resolved against
const CDefaultFirmwareDir = "/lib/firmware"

const cDefaultAsyncTimeout = 30 * time.Second

// WaitPolicy selects how Acquire waits for the blob
type WaitPolicy uint8

const (
	// WaitBlocking reads the blob in the calling goroutine
	WaitBlocking WaitPolicy = iota
	// WaitAsync hands the request to a loader and waits for its completion
	WaitAsync
)

// String - Return the text representation of the wait policy
func (p WaitPolicy) String() string {
	if p == WaitAsync {
		return "async"
	}
	return "blocking"
}

// FirmwareBlob is an immutable firmware image handed out by the store
type FirmwareBlob struct {
	name     string
	data     []byte
	crc      uint32
	released *abool.AtomicBool
}

// Name of the blob as requested
func (b *FirmwareBlob) Name() string {
	return b.name
}

// Len returns the blob size in bytes
func (b *FirmwareBlob) Len() int {
	return len(b.data)
}

// Bytes returns the blob content, callers must not modify it
func (b *FirmwareBlob) Bytes() []byte {
	return b.data
}

// Crc returns the crc32a checksum computed at acquisition
func (b *FirmwareBlob) Crc() uint32 {
	return b.crc
}

// Section returns aLength bytes starting at aOffset
func (b *FirmwareBlob) Section(aOffset uint32, aLength uint32) ([]byte, error) {
	end := uint64(aOffset) + uint64(aLength)
	if aLength == 0 || end > uint64(len(b.data)) {
		return nil, fmt.Errorf("section out of range: offset %d length %d image %d", aOffset, aLength, len(b.data))
	}
	return b.data[aOffset:end], nil
}

// AcquireResult is delivered on the channel returned by RequestAsync
type AcquireResult struct {
	Blob *FirmwareBlob
	Err  error
}

type requesterChannelMap map[chan<- AcquireResult]struct{} //using an empty structure map for easier (unique) element appending

//FirmwareStore hands out firmware blobs by name and tracks which of them are still held
type FirmwareStore struct {
	fs            afero.Fs
	baseDir       string
	mutexStore    sync.RWMutex
	outstanding   map[*FirmwareBlob]struct{}
	loadsInFlight map[string]requesterChannelMap
	asyncTimeout  time.Duration
	acquiredTotal uint64
	releasedTotal uint64
}

//NewFirmwareStore returns a store reading below aBaseDir of the given filesystem
func NewFirmwareStore(ctx context.Context, aFs afero.Fs, aBaseDir string) *FirmwareStore {
	logger.Debugw(ctx, "init-FirmwareStore", log.Fields{"base-dir": aBaseDir})
	if aBaseDir == "" {
		aBaseDir = CDefaultFirmwareDir
	}
	return &FirmwareStore{
		fs:            aFs,
		baseDir:       aBaseDir,
		outstanding:   make(map[*FirmwareBlob]struct{}),
		loadsInFlight: make(map[string]requesterChannelMap),
		asyncTimeout:  cDefaultAsyncTimeout,
	}
}

//SetAsyncTimeout configures how long an asynchronous acquisition is waited for
func (st *FirmwareStore) SetAsyncTimeout(ctx context.Context, aTimeout time.Duration) {
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	logger.Debugw(ctx, "setting async acquire timeout", log.Fields{"timeout": aTimeout})
	st.asyncTimeout = aTimeout
}

//Exists returns true if a blob with the given name is present in the store
func (st *FirmwareStore) Exists(ctx context.Context, aName string) bool {
	ok, err := afero.Exists(st.fs, st.path(aName))
	if err != nil {
		logger.Debugw(ctx, "firmware existence check failed", log.Fields{"name": aName, "error": err})
		return false
	}
	return ok
}

//Acquire returns the named blob, the error is cmn.ErrNotFound or wraps cmn.ErrIo
func (st *FirmwareStore) Acquire(ctx context.Context, aName string, aPolicy WaitPolicy) (*FirmwareBlob, error) {
	logger.Debugw(ctx, "firmware requested", log.Fields{"name": aName, "policy": aPolicy.String()})
	if aPolicy == WaitBlocking {
		data, err := st.load(aName)
		if err != nil {
			return nil, err
		}
		return st.newBlob(ctx, aName, data), nil
	}

	st.mutexStore.RLock()
	timeout := st.asyncTimeout
	st.mutexStore.RUnlock()
	resultChan := st.RequestAsync(ctx, aName)
	select {
	case res := <-resultChan:
		return res.Blob, res.Err
	case <-ctx.Done():
		st.abandon(ctx, aName, resultChan)
		return nil, fmt.Errorf("%w: %s: %v", cmn.ErrIo, aName, ctx.Err())
	case <-time.After(timeout):
		st.abandon(ctx, aName, resultChan)
		return nil, fmt.Errorf("%w: %s: asynchronous request timed out", cmn.ErrIo, aName)
	}
}

//AcquireWithFallback tries aName and, only if that does not exist, aFallback once
func (st *FirmwareStore) AcquireWithFallback(ctx context.Context, aName string, aFallback string,
	aPolicy WaitPolicy) (*FirmwareBlob, error) {
	blob, err := st.Acquire(ctx, aName, aPolicy)
	if err == nil || !errors.Is(err, cmn.ErrNotFound) || aFallback == "" || aFallback == aName {
		return blob, err
	}
	logger.Infow(ctx, "firmware not found - retrying with fallback", log.Fields{"name": aName, "fallback": aFallback})
	return st.Acquire(ctx, aFallback, aPolicy)
}

//RequestAsync starts an asynchronous acquisition; concurrent requests for one name share a single load
func (st *FirmwareStore) RequestAsync(ctx context.Context, aName string) <-chan AcquireResult {
	waitChan := make(chan AcquireResult, 1)
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	if loRequesters, ok := st.loadsInFlight[aName]; ok {
		loRequesters[waitChan] = struct{}{}
		logger.Debugw(ctx, "firmware load in flight - adding requester", log.Fields{
			"name": aName, "number-of-requesters": len(loRequesters)})
		return waitChan
	}
	st.loadsInFlight[aName] = requesterChannelMap{waitChan: struct{}{}}
	go st.loadAsync(context.WithoutCancel(ctx), aName)
	return waitChan
}

//Release returns the blob to the store; releasing twice is a no-op
func (st *FirmwareStore) Release(ctx context.Context, aBlob *FirmwareBlob) {
	if aBlob == nil {
		return
	}
	if !aBlob.released.SetToIf(false, true) {
		logger.Debugw(ctx, "firmware already released", log.Fields{"name": aBlob.name})
		return
	}
	st.mutexStore.Lock()
	delete(st.outstanding, aBlob)
	st.releasedTotal++
	st.mutexStore.Unlock()
	logger.Debugw(ctx, "firmware released", log.Fields{"name": aBlob.name})
}

//Outstanding returns the number of acquired blobs not yet released
func (st *FirmwareStore) Outstanding() int {
	st.mutexStore.RLock()
	defer st.mutexStore.RUnlock()
	return len(st.outstanding)
}

//Totals returns the number of acquisitions and releases since creation
func (st *FirmwareStore) Totals() (uint64, uint64) {
	st.mutexStore.RLock()
	defer st.mutexStore.RUnlock()
	return st.acquiredTotal, st.releasedTotal
}

// FirmwareStore private (unexported) methods -- start

func (st *FirmwareStore) path(aName string) string {
	return filepath.Join(st.baseDir, filepath.Clean("/"+aName))
}

func (st *FirmwareStore) load(aName string) ([]byte, error) {
	data, err := afero.ReadFile(st.fs, st.path(aName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", cmn.ErrNotFound, aName)
		}
		return nil, fmt.Errorf("%w: %s: %v", cmn.ErrIo, aName, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: empty image", cmn.ErrIo, aName)
	}
	return data, nil
}

func (st *FirmwareStore) newBlob(ctx context.Context, aName string, aData []byte) *FirmwareBlob {
	blob := &FirmwareBlob{
		name:     aName,
		data:     aData,
		crc:      crc32a.Checksum(aData),
		released: abool.New(),
	}
	st.mutexStore.Lock()
	st.outstanding[blob] = struct{}{}
	st.acquiredTotal++
	st.mutexStore.Unlock()
	logger.Debugw(ctx, "firmware acquired", log.Fields{"name": aName, "length": len(aData),
		"crc": fmt.Sprintf("0x%08x", blob.crc)})
	return blob
}

//loadAsync reads the file and informs all requesters that registered for it in the meantime
func (st *FirmwareStore) loadAsync(ctx context.Context, aName string) {
	data, err := st.load(aName)
	st.mutexStore.Lock()
	loRequesters := st.loadsInFlight[aName]
	delete(st.loadsInFlight, aName)
	st.mutexStore.Unlock()

	for channel := range loRequesters {
		if err != nil {
			channel <- AcquireResult{Err: err}
			continue
		}
		// every requester owns its own blob (and its own release), the data itself is shared
		channel <- AcquireResult{Blob: st.newBlob(ctx, aName, data)}
	}
	if err != nil {
		logger.Infow(ctx, "asynchronous firmware load failed", log.Fields{"name": aName, "error": err,
			"number-of-requesters": len(loRequesters)})
	}
}

//abandon releases a result that arrives after its requester gave up waiting
func (st *FirmwareStore) abandon(ctx context.Context, aName string, aWaitChan <-chan AcquireResult) {
	logger.Warnw(ctx, "firmware request abandoned", log.Fields{"name": aName})
	go func() {
		if res := <-aWaitChan; res.Blob != nil {
			st.Release(ctx, res.Blob)
		}
	}()
}
