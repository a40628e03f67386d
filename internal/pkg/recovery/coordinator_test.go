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

package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/download"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/fwstore"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/mocks"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/sim"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tevino/abool"
)

var testImage = []byte{0xa0, 0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7}

// overlapTracker records how many redownloads run at the same time
type overlapTracker struct {
	mutex     sync.Mutex
	active    int
	maxActive int
}

type trackedSequencer struct {
	tracker *overlapTracker
	inner   Redownloader
}

func (ps *trackedSequencer) Run(ctx context.Context, aMode download.Mode) error {
	ps.tracker.mutex.Lock()
	ps.tracker.active++
	if ps.tracker.active > ps.tracker.maxActive {
		ps.tracker.maxActive = ps.tracker.active
	}
	ps.tracker.mutex.Unlock()
	defer func() {
		ps.tracker.mutex.Lock()
		ps.tracker.active--
		ps.tracker.mutex.Unlock()
	}()
	return ps.inner.Run(ctx, aMode)
}

type recoveryBed struct {
	adapter  *mocks.Adapter
	bus      *sim.Bus
	mlan     *sim.Mlan
	store    *fwstore.FirmwareStore
	notifier *mocks.Notifier
	seq      *download.DownloadSequencer
	rc       *Coordinator
}

func newRecoveryBed(t *testing.T, aDeviceID string, aChip string, aBus cmn.BusType, aCountry string,
	aMarker *abool.AtomicBool, aFiles map[string][]byte) *recoveryBed {
	t.Helper()
	info, err := card.Lookup(aChip, aBus)
	require.NoError(t, err)
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/fw/"+info.FwCombo, testImage, 0644))
	for name, data := range aFiles {
		require.NoError(t, afero.WriteFile(memFs, "/fw/"+name, data, 0644))
	}
	rb := &recoveryBed{
		adapter:  mocks.NewAdapter(aDeviceID, aBus),
		mlan:     sim.NewMlan(time.Millisecond),
		store:    fwstore.NewFirmwareStore(context.Background(), memFs, "/fw"),
		notifier: &mocks.Notifier{},
	}
	rb.adapter.Roles = []cmn.InterfaceRole{cmn.RoleStation, cmn.RoleAP}
	rb.bus = sim.NewBus(info, rb.mlan)
	rb.seq = download.NewDownloadSequencer(context.Background(), download.Deps{
		Adapter:   rb.adapter, Bus: rb.bus, Mlan: rb.mlan, Store: rb.store,
		Registrar: &mocks.Registrar{}, Notifier: rb.notifier, Card: info,
	}, download.Config{Country: aCountry})
	require.NoError(t, rb.seq.Run(context.Background(), download.ModeNormal))
	rb.rc = NewCoordinator(context.Background(), Deps{
		Adapter:  rb.adapter, Bus: rb.bus, Mlan: rb.mlan, Sequencer: rb.seq, Store: rb.store,
		Notifier: rb.notifier, Card: info, Marker: aMarker,
	}, Config{ResetPollDelay: time.Microsecond})
	return rb
}

func TestRecoverSdio(t *testing.T) {
	rb := newRecoveryBed(t, "rc-sdio", "sd8987", cmn.BusSDIO, "", nil, nil)
	rb.adapter.SetDriverHung(context.Background(), true)
	var restored bool
	rb.rc.SetOnRestored(func(context.Context) { restored = true })

	require.NoError(t, rb.rc.Recover(context.Background(), "cmd-timeout"))

	assert.Equal(t, RcStIdle, rb.rc.CurrentState())
	assert.Equal(t, 1, rb.bus.Resets())
	assert.Equal(t, 2, rb.bus.Downloads())
	assert.True(t, rb.mlan.IsRunning())
	assert.False(t, rb.adapter.IsDriverHung())
	assert.False(t, rb.adapter.IsFwReload())
	assert.Equal(t, cmn.HwReady, rb.adapter.GetHwStatus())
	assert.True(t, restored)
	for _, ifc := range rb.adapter.GetInterfaces() {
		assert.False(t, ifc.TxQueuesStopped())
		assert.False(t, ifc.(*mocks.Interface).IsDetached())
	}
	assert.Len(t, rb.adapter.GetInterfaces(), 2)
	assert.Equal(t, 1, rb.notifier.Count(cmn.EventRecoveryStarted))
	assert.Equal(t, 1, rb.notifier.Count(cmn.EventRecoverySucceeded))
	assert.Equal(t, 0, rb.notifier.Count(cmn.EventRecoveryFailed))
	set, cleared := rb.rc.MarkerCounts()
	assert.Equal(t, uint64(1), set)
	assert.Equal(t, uint64(1), cleared)
	assert.False(t, rb.rc.InProgress())
	assert.NoError(t, rb.rc.LastError())
	assert.Equal(t, 0, rb.store.Outstanding())
}

func TestRecoverPcieUsesFunctionLevelReset(t *testing.T) {
	rb := newRecoveryBed(t, "rc-pcie", "pcie8997", cmn.BusPCIe, "", nil, nil)

	require.NoError(t, rb.rc.Recover(context.Background(), "fw-hang-reported"))
	assert.Equal(t, 1, rb.bus.Resets())
	assert.Equal(t, 2, rb.bus.Downloads())
}

func TestRecoverUsbOnlyRedownloads(t *testing.T) {
	rb := newRecoveryBed(t, "rc-usb", "usb8997", cmn.BusUSB, "", nil, nil)

	require.NoError(t, rb.rc.Recover(context.Background(), "tx-timeout"))
	assert.Equal(t, 0, rb.bus.Resets())
	assert.Equal(t, 2, rb.bus.Downloads())
}

func TestRecoverReappliesCountry(t *testing.T) {
	rb := newRecoveryBed(t, "rc-country", "sd8987", cmn.BusSDIO, "", nil, map[string][]byte{
		"nxp/txpower_WW.bin": []byte("ww"),
		"nxp/txpower_JP.bin": []byte("jp"),
	})
	require.Equal(t, "WW", rb.adapter.GetActiveCountry())
	// country changed at runtime after bring-up
	rb.adapter.SetActiveCountry(context.Background(), "JP")

	require.NoError(t, rb.rc.Recover(context.Background(), "test"))
	country, table := rb.mlan.Country()
	assert.Equal(t, "JP", country)
	assert.Equal(t, []byte("jp"), table)
	assert.Equal(t, "JP", rb.adapter.GetActiveCountry())
	assert.Equal(t, 1, rb.notifier.Count(cmn.EventCountryPowerApplied))
	assert.Equal(t, 0, rb.store.Outstanding())
}

func TestRecoverResetNotAcknowledged(t *testing.T) {
	rb := newRecoveryBed(t, "rc-noack", "sd8987", cmn.BusSDIO, "", nil, nil)
	rb.bus.ResetAckNever = true

	err := rb.rc.Recover(context.Background(), "test")
	assert.ErrorIs(t, err, cmn.ErrResetFailed)
	assert.Equal(t, RcStIdle, rb.rc.CurrentState())
	assert.True(t, rb.adapter.IsDriverHung(), "failed recovery leaves the adapter hung")
	assert.Equal(t, cmn.HwNotReady, rb.adapter.GetHwStatus())
	for _, ifc := range rb.adapter.GetInterfaces() {
		assert.True(t, ifc.TxQueuesStopped())
	}
	assert.Equal(t, 1, rb.notifier.Count(cmn.EventRecoveryFailed))
	set, cleared := rb.rc.MarkerCounts()
	assert.Equal(t, set, cleared)
	assert.False(t, rb.rc.InProgress())
	assert.ErrorIs(t, rb.rc.LastError(), cmn.ErrResetFailed)
}

func TestFailedRecoveryEndsIdleBeforeNextAdapter(t *testing.T) {
	marker := abool.New()
	first := newRecoveryBed(t, "rc-fail-a", "sd8987", cmn.BusSDIO, "", marker, nil)
	second := newRecoveryBed(t, "rc-fail-b", "pcie8997", cmn.BusPCIe, "", marker, nil)
	first.bus.ResetAckNever = true

	assert.ErrorIs(t, first.rc.Recover(context.Background(), "test"), cmn.ErrResetFailed)
	assert.Equal(t, RcStIdle, first.rc.CurrentState())
	assert.False(t, marker.IsSet())
	assert.True(t, first.adapter.IsDriverHung())

	require.NoError(t, second.rc.Recover(context.Background(), "test"))
	assert.Equal(t, RcStIdle, first.rc.CurrentState())
	assert.Equal(t, RcStIdle, second.rc.CurrentState())

	// the failed adapter can be recovered again once its card behaves
	first.bus.ResetAckNever = false
	require.NoError(t, first.rc.Recover(context.Background(), "manual"))
	assert.False(t, first.adapter.IsDriverHung())
}

func TestRecoverResetNeverClears(t *testing.T) {
	rb := newRecoveryBed(t, "rc-noclear", "sd8987", cmn.BusSDIO, "", nil, nil)
	rb.bus.ResetNeverClears = true

	assert.ErrorIs(t, rb.rc.Recover(context.Background(), "test"), cmn.ErrResetFailed)
	assert.Equal(t, 1, rb.bus.Downloads(), "no redownload after a failed reset")
}

func TestRecoverRedownloadFails(t *testing.T) {
	rb := newRecoveryBed(t, "rc-redl", "pcie8997", cmn.BusPCIe, "", nil, nil)
	rb.bus.FailDownload = true

	err := rb.rc.Recover(context.Background(), "test")
	assert.ErrorIs(t, err, cmn.ErrDownloadFailed)
	assert.True(t, rb.adapter.IsDriverHung())
	assert.False(t, rb.adapter.IsFwReload())

	// a manual re-trigger is accepted after the failure
	rb.bus.FailDownload = false
	require.NoError(t, rb.rc.Recover(context.Background(), "manual"))
	assert.Equal(t, RcStIdle, rb.rc.CurrentState())
	assert.False(t, rb.adapter.IsDriverHung())
	assert.Equal(t, uint64(2), rb.rc.Attempts())
}

func TestTriggerRejectedWhileInProgress(t *testing.T) {
	marker := abool.New()
	rb := newRecoveryBed(t, "rc-busy", "sd8987", cmn.BusSDIO, "", marker, nil)
	marker.Set()

	assert.False(t, rb.rc.Trigger(context.Background(), "test"))
	assert.ErrorIs(t, rb.rc.Recover(context.Background(), "test"), cmn.ErrRecoveryInProgress)
	set, cleared := rb.rc.MarkerCounts()
	assert.Equal(t, uint64(0), set)
	assert.Equal(t, uint64(0), cleared)
	assert.True(t, marker.IsSet(), "a foreign marker is not cleared")
}

func TestTriggerRunsInBackground(t *testing.T) {
	rb := newRecoveryBed(t, "rc-bg", "sd8987", cmn.BusSDIO, "", nil, nil)

	require.True(t, rb.rc.Trigger(context.Background(), "test"))
	assert.False(t, rb.rc.WaitTimeout(5*time.Second))
	assert.Equal(t, RcStIdle, rb.rc.CurrentState())
	assert.Equal(t, 1, rb.notifier.Count(cmn.EventRecoverySucceeded))
}

func TestSingleFlightAcrossAdapters(t *testing.T) {
	marker := abool.New()
	beds := []*recoveryBed{
		newRecoveryBed(t, "rc-sf-0", "sd8987", cmn.BusSDIO, "", marker, nil),
		newRecoveryBed(t, "rc-sf-1", "pcie8997", cmn.BusPCIe, "", marker, nil),
	}
	tracker := &overlapTracker{}
	for _, rb := range beds {
		rb.rc.pSequencer = &trackedSequencer{tracker: tracker, inner: rb.seq}
	}

	var wg sync.WaitGroup
	var accepted sync.Map
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rb := beds[n%len(beds)]
			if rb.rc.Trigger(context.Background(), "fuzz") {
				accepted.Store(n, true)
			}
		}(i)
	}
	wg.Wait()
	for _, rb := range beds {
		rb.rc.Wait()
	}

	var total, attempts uint64
	accepted.Range(func(_, _ any) bool { total++; return true })
	for _, rb := range beds {
		set, cleared := rb.rc.MarkerCounts()
		assert.Equal(t, set, cleared)
		attempts += set
		assert.Equal(t, RcStIdle, rb.rc.CurrentState())
	}
	assert.GreaterOrEqual(t, total, uint64(1))
	assert.Equal(t, total, attempts)
	assert.LessOrEqual(t, tracker.maxActive, 1)
	assert.False(t, marker.IsSet())
}
