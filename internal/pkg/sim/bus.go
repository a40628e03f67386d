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

//Package sim provides a simulated card (bus, firmware MAC layer, netdev registration)
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// number of reads the reset register keeps its value after an in-band reset request
const cResetClearAfterReads = 3

// ErrInjected is returned by the simulated bus when a failure was injected
var ErrInjected = errors.New("injected bus failure")

// Bus simulates the register space and image transfer of one card
type Bus struct {
	mutexBus sync.Mutex
	info     *card.Info
	pMlan    *Mlan
	regs     map[uint32]uint32
	// knobs
	FailDownload     bool
	FailReset        bool
	ResetAckNever    bool
	ResetNeverClears bool
	VdllRounds       int
	VdllChunkLen     uint32
	// observations
	downloads      int
	resets         int
	lastImage      []byte
	chunks         [][]byte
	vdllRemaining  int
	vdllNextOffset uint32
	resetReads     int
	resetPending   bool
}

// NewBus returns a simulated bus for the card described by aInfo, bound to the simulated MAC layer
func NewBus(aInfo *card.Info, aMlan *Mlan) *Bus {
	return &Bus{
		info:         aInfo,
		pMlan:        aMlan,
		regs:         make(map[uint32]uint32),
		VdllChunkLen: 4,
	}
}

// BusType returns the bus of the simulated card
func (b *Bus) BusType() cmn.BusType {
	return b.info.Bus
}

// ResolveFirmwareName picks the image name from the capability table
func (b *Bus) ResolveFirmwareName(ctx context.Context, aCfg cmn.CardConfig) (string, error) {
	name := b.info.FirmwareName(aCfg)
	if name == "" {
		return "", fmt.Errorf("no firmware image for %s", b.info.Chip)
	}
	logger.Debugw(ctx, "firmware name resolved", log.Fields{"chip": b.info.Chip, "name": name})
	return name, nil
}

// DownloadFirmware takes the image; with VdllRounds set the device asks for staged continuations
func (b *Bus) DownloadFirmware(ctx context.Context, aImage []byte) (*cmn.VdllRequest, error) {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	if b.FailDownload {
		return nil, ErrInjected
	}
	b.downloads++
	b.lastImage = append([]byte(nil), aImage...)
	b.chunks = nil
	logger.Debugw(ctx, "simulated firmware download", log.Fields{"length": len(aImage), "download": b.downloads})
	if b.VdllRounds > 0 && b.info.SupportsVdll {
		b.vdllRemaining = b.VdllRounds
		b.vdllNextOffset = 0
		return b.nextVdllLocked(uint32(len(aImage))), nil
	}
	b.pMlan.firmwareLoaded()
	return nil, nil
}

// DownloadChunk takes one staged continuation
func (b *Bus) DownloadChunk(ctx context.Context, aChunk []byte) (*cmn.VdllRequest, error) {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	if b.FailDownload {
		return nil, ErrInjected
	}
	b.chunks = append(b.chunks, append([]byte(nil), aChunk...))
	b.vdllNextOffset += uint32(len(aChunk))
	if b.vdllRemaining == 0 {
		b.pMlan.firmwareLoaded()
		return nil, nil
	}
	return b.nextVdllLocked(uint32(len(b.lastImage))), nil
}

func (b *Bus) nextVdllLocked(aImageLen uint32) *cmn.VdllRequest {
	b.vdllRemaining--
	length := b.VdllChunkLen
	if b.vdllNextOffset+length > aImageLen {
		b.vdllNextOffset = 0
	}
	return &cmn.VdllRequest{Offset: b.vdllNextOffset, Length: length}
}

// ReadRegister reads the simulated register space
func (b *Bus) ReadRegister(_ context.Context, aAddr uint32) (uint32, error) {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	if b.resetPending && aAddr == b.info.Reset.ResetReg {
		b.resetReads++
		if !b.ResetNeverClears && b.resetReads >= cResetClearAfterReads {
			b.completeResetLocked()
		}
	}
	return b.regs[aAddr], nil
}

// WriteRegister writes the simulated register space; wake and reset registers have side effects
func (b *Bus) WriteRegister(ctx context.Context, aAddr uint32, aValue uint32) error {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	if b.FailReset && aAddr == b.info.Reset.ResetReg {
		return ErrInjected
	}
	b.regs[aAddr] = aValue
	rst := b.info.Reset
	if b.info.Bus == cmn.BusSDIO && aAddr == rst.WakeReg && aValue == rst.WakeValue && !b.ResetAckNever {
		b.regs[rst.AckReg] |= rst.AckMask
	}
	if b.info.Bus == cmn.BusSDIO && aAddr == rst.ResetReg && aValue == rst.ResetVal {
		logger.Debugw(ctx, "simulated in-band reset requested", log.Fields{"chip": b.info.Chip})
		b.resetPending = true
		b.resetReads = 0
	}
	return nil
}

func (b *Bus) completeResetLocked() {
	b.regs[b.info.Reset.ResetReg] = 0
	b.regs[b.info.Reset.AckReg] &^= b.info.Reset.AckMask
	b.resetPending = false
	b.resets++
	b.pMlan.deviceReset()
}

// ResetDevice performs a function level reset
func (b *Bus) ResetDevice(ctx context.Context) error {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	if b.FailReset {
		return ErrInjected
	}
	logger.Debugw(ctx, "simulated function level reset", log.Fields{"chip": b.info.Chip})
	b.resets++
	b.pMlan.deviceReset()
	return nil
}

// DumpRegisters returns a textual dump of the register space
func (b *Bus) DumpRegisters(_ context.Context) ([]byte, error) {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	dump := []byte(fmt.Sprintf("chip=%s bus=%s downloads=%d resets=%d\n", b.info.Chip, b.info.Bus, b.downloads, b.resets))
	for addr, val := range b.regs {
		dump = append(dump, []byte(fmt.Sprintf("0x%08x=0x%08x\n", addr, val))...)
	}
	return dump, nil
}

// Downloads returns the number of full image downloads
func (b *Bus) Downloads() int {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	return b.downloads
}

// Resets returns the number of completed device resets
func (b *Bus) Resets() int {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	return b.resets
}

// Chunks returns the staged continuations received since the last download
func (b *Bus) Chunks() [][]byte {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	return append([][]byte(nil), b.chunks...)
}

// Register returns the current value of a simulated register
func (b *Bus) Register(aAddr uint32) uint32 {
	b.mutexBus.Lock()
	defer b.mutexBus.Unlock()
	return b.regs[aAddr]
}
