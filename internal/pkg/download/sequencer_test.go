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
	"sync"
	"testing"
	"time"

	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/fwstore"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/mocks"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/sim"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testImage = []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f}

type testBed struct {
	adapter   *mocks.Adapter
	bus       *sim.Bus
	mlan      *sim.Mlan
	store     *fwstore.FirmwareStore
	registrar *mocks.Registrar
	notifier  *mocks.Notifier
	info      *card.Info
}

func newTestBed(t *testing.T, aDeviceID string, aChip string, aFiles map[string][]byte) *testBed {
	t.Helper()
	info, err := card.Lookup(aChip, cmn.BusSDIO)
	require.NoError(t, err)
	memFs := afero.NewMemMapFs()
	for name, data := range aFiles {
		require.NoError(t, afero.WriteFile(memFs, "/lib/firmware/"+name, data, 0644))
	}
	mlan := sim.NewMlan(5 * time.Millisecond)
	return &testBed{
		adapter:   mocks.NewAdapter(aDeviceID, cmn.BusSDIO),
		bus:       sim.NewBus(info, mlan),
		mlan:      mlan,
		store:     fwstore.NewFirmwareStore(context.Background(), memFs, "/lib/firmware"),
		registrar: &mocks.Registrar{},
		notifier:  &mocks.Notifier{},
		info:      info,
	}
}

func (tb *testBed) sequencer(aCfg Config) *DownloadSequencer {
	return NewDownloadSequencer(context.Background(), Deps{
		Adapter:   tb.adapter,
		Bus:       tb.bus,
		Mlan:      tb.mlan,
		Store:     tb.store,
		Registrar: tb.registrar,
		Notifier:  tb.notifier,
		Card:      tb.info,
	}, aCfg)
}

func TestRunBringsAdapterUp(t *testing.T) {
	tb := newTestBed(t, "dl-ready", "sd8997", map[string][]byte{
		"nxp/sdsd8997_combo_v4.bin": testImage,
		"nxp/WlanCalData_ext.conf":  []byte("cal"),
		"nxp/txpower_WW.bin":        []byte("ww-table"),
	})
	ds := tb.sequencer(Config{Country: "us", DpdFile: "nxp/dpd.bin"})

	require.NoError(t, ds.Run(context.Background(), ModeNormal))

	assert.Equal(t, DlStReady, ds.CurrentState())
	assert.Equal(t, []cmn.HwStatus{cmn.HwInitializing, cmn.HwFwReady, cmn.HwReady}, tb.adapter.StatusHistory())
	assert.True(t, tb.mlan.IsRunning())
	assert.Equal(t, 1, tb.bus.Downloads())

	params := tb.mlan.LastInitParams()
	require.NotNil(t, params)
	assert.Nil(t, params.DpdData, "missing optional dpd file is skipped")
	assert.Equal(t, []byte("cal"), params.CalData)
	assert.Equal(t, []byte("ww-table"), params.TxPowerTable)
	assert.Equal(t, CWorldWideCountry, params.Country)
	assert.Equal(t, CWorldWideCountry, tb.adapter.GetActiveCountry())

	ifaces := tb.adapter.GetInterfaces()
	require.Len(t, ifaces, 1)
	assert.True(t, ifaces[0].IsRegistered())
	assert.NotNil(t, ifaces[0].GetMacAddress())
	assert.Equal(t, 1, tb.registrar.Registered())

	assert.Equal(t, tb.info.SlewRateValue, tb.bus.Register(tb.info.SlewRateReg))
	assert.Equal(t, []string{cmn.EventFwReady}, tb.notifier.Events())
	assert.Equal(t, 0, tb.store.Outstanding())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Downloads.WithLabelValues("dl-ready", metrics.OutcomeSucceeded)))
}

func TestRunUsesCountryTable(t *testing.T) {
	tb := newTestBed(t, "dl-country", "sd8987", map[string][]byte{
		"nxp/sdsd8987_combo.bin": testImage,
		"nxp/txpower_DE.bin":     []byte("de-table"),
		"nxp/txpower_WW.bin":     []byte("ww-table"),
	})
	ds := tb.sequencer(Config{Country: "de"})

	require.NoError(t, ds.Run(context.Background(), ModeNormal))
	assert.Equal(t, []byte("de-table"), tb.mlan.LastInitParams().TxPowerTable)
	assert.Equal(t, "DE", tb.adapter.GetActiveCountry())
}

func TestRunLoadsDpdAndHostCmd(t *testing.T) {
	tb := newTestBed(t, "dl-aux", "sd8987", map[string][]byte{
		"nxp/sdsd8987_combo.bin": testImage,
		"nxp/dpd.bin":            []byte("dpd"),
		"nxp/hostcmd.conf":       []byte("hostcmd"),
	})
	ds := tb.sequencer(Config{DpdFile: "nxp/dpd.bin", HostCmdFile: "nxp/hostcmd.conf"})

	require.NoError(t, ds.Run(context.Background(), ModeNormal))
	params := tb.mlan.LastInitParams()
	require.NotNil(t, params)
	assert.Equal(t, []byte("dpd"), params.DpdData)
	assert.Equal(t, []byte("hostcmd"), params.HostCmdCfg)
	assert.Nil(t, params.CalData)
	assert.Equal(t, 0, tb.store.Outstanding())
}

func TestRunWithoutAnyPowerTable(t *testing.T) {
	tb := newTestBed(t, "dl-nopower", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	ds := tb.sequencer(Config{})

	require.NoError(t, ds.Run(context.Background(), ModeNormal))
	assert.Nil(t, tb.mlan.LastInitParams().TxPowerTable)
	assert.Equal(t, "", tb.adapter.GetActiveCountry())
}

func TestRunImageMissing(t *testing.T) {
	tb := newTestBed(t, "dl-missing", "sd8987", nil)
	ds := tb.sequencer(Config{})

	err := ds.Run(context.Background(), ModeNormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, cmn.ErrDownloadFailed)
	assert.ErrorIs(t, err, cmn.ErrNotFound)
	assert.Equal(t, DlStFailed, ds.CurrentState())
	assert.Equal(t, cmn.HwNotReady, tb.adapter.GetHwStatus())
	assert.Equal(t, 0, tb.bus.Downloads())
	assert.Equal(t, []string{cmn.EventFwInitFailed}, tb.notifier.Events())
}

func TestRunBusFailure(t *testing.T) {
	tb := newTestBed(t, "dl-bus", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	tb.bus.FailDownload = true
	ds := tb.sequencer(Config{})

	err := ds.Run(context.Background(), ModeNormal)
	assert.ErrorIs(t, err, cmn.ErrDownloadFailed)
	assert.ErrorIs(t, err, cmn.ErrBus)
	assert.Equal(t, 0, tb.store.Outstanding())
}

func TestRunServesStagedSections(t *testing.T) {
	tb := newTestBed(t, "dl-vdll", "sd9177", map[string][]byte{"nxp/sdsd9177_combo.bin": testImage})
	tb.bus.VdllRounds = 3
	ds := tb.sequencer(Config{})

	require.NoError(t, ds.Run(context.Background(), ModeNormal))
	assert.Equal(t, [][]byte{testImage[0:4], testImage[4:8], testImage[8:12]}, tb.bus.Chunks())
	assert.Equal(t, 0, tb.store.Outstanding())
}

func TestRunInitTimeoutRequestsDump(t *testing.T) {
	tb := newTestBed(t, "dl-timeout", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	tb.mlan.InitMode = sim.InitSilent
	initTimeout := 50 * time.Millisecond
	ds := tb.sequencer(Config{InitTimeout: initTimeout})
	var mutex sync.Mutex
	var reasons []string
	ds.SetDumpHandler(func(_ context.Context, aReason string) {
		mutex.Lock()
		defer mutex.Unlock()
		reasons = append(reasons, aReason)
	})

	start := time.Now()
	err := ds.Run(context.Background(), ModeNormal)
	took := time.Since(start)
	assert.ErrorIs(t, err, cmn.ErrInitTimeout)
	assert.Equal(t, DlStFailed, ds.CurrentState())
	assert.GreaterOrEqual(t, took, initTimeout, "gave up before the init timeout")
	assert.Less(t, took, initTimeout+500*time.Millisecond, "kept waiting after the init timeout")
	mutex.Lock()
	assert.Equal(t, []string{"init-timeout"}, reasons)
	mutex.Unlock()
	assert.Equal(t, 0, tb.adapter.RemoveCalls(), "no interfaces were created")
	assert.Equal(t, 0, tb.store.Outstanding())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Downloads.WithLabelValues("dl-timeout", metrics.OutcomeTimeout)))
}

func TestRunInitRejected(t *testing.T) {
	tb := newTestBed(t, "dl-reject", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	tb.mlan.InitMode = sim.InitReject
	ds := tb.sequencer(Config{})

	err := ds.Run(context.Background(), ModeNormal)
	assert.ErrorIs(t, err, cmn.ErrDownloadFailed)
	assert.NotErrorIs(t, err, cmn.ErrInitTimeout)
}

func TestRunSynchronousInit(t *testing.T) {
	tb := newTestBed(t, "dl-sync", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	tb.mlan.InitMode = sim.InitSync
	ds := tb.sequencer(Config{})

	require.NoError(t, ds.Run(context.Background(), ModeNormal))
	assert.Equal(t, 1, tb.mlan.InitRequests())
	assert.Equal(t, DlStReady, ds.CurrentState())
}

func TestRunRollsBackInterfaces(t *testing.T) {
	tb := newTestBed(t, "dl-rollback", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	tb.adapter.Roles = []cmn.InterfaceRole{cmn.RoleStation, cmn.RoleAP}
	tb.registrar.FailEnabled = true
	tb.registrar.FailIndex = 1
	ds := tb.sequencer(Config{})

	err := ds.Run(context.Background(), ModeNormal)
	assert.ErrorIs(t, err, cmn.ErrInterfaceSetupFailed)
	assert.Equal(t, 0, tb.registrar.Registered())
	assert.Equal(t, 1, tb.adapter.RemoveCalls())
	assert.Empty(t, tb.adapter.GetInterfaces())
	assert.Equal(t, cmn.HwNotReady, tb.adapter.GetHwStatus())
	assert.Equal(t, 0, tb.store.Outstanding())
}

func TestRunOptionalStepsAreBestEffort(t *testing.T) {
	tb := newTestBed(t, "dl-optional", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	tb.mlan.FailAntenna = true
	tb.mlan.FailLowPower = true
	ds := tb.sequencer(Config{LowPowerMode: true})

	require.NoError(t, ds.Run(context.Background(), ModeNormal))
	assert.Equal(t, cmn.HwReady, tb.adapter.GetHwStatus())
}

func TestRunReloadKeepsInterfaces(t *testing.T) {
	tb := newTestBed(t, "dl-reload", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	ds := tb.sequencer(Config{})
	require.NoError(t, ds.Run(context.Background(), ModeNormal))
	before := tb.adapter.GetInterfaces()

	require.NoError(t, tb.bus.ResetDevice(context.Background()))
	assert.False(t, tb.mlan.IsRunning())
	require.NoError(t, ds.Run(context.Background(), ModeReload))

	assert.True(t, tb.mlan.IsRunning())
	assert.Equal(t, 2, tb.bus.Downloads())
	assert.Equal(t, before, tb.adapter.GetInterfaces())
	assert.Equal(t, 1, tb.registrar.Registered())
	assert.Equal(t, 2, tb.notifier.Count(cmn.EventFwReady))
}

func TestRunIsSingleFlight(t *testing.T) {
	tb := newTestBed(t, "dl-single", "sd8987", map[string][]byte{"nxp/sdsd8987_combo.bin": testImage})
	tb.mlan.InitMode = sim.InitSilent
	ds := tb.sequencer(Config{InitTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ds.Run(ctx, ModeNormal) }()
	require.Eventually(t, func() bool { return ds.GetInitSynchronizer().IsArmed() }, time.Second, time.Millisecond)

	assert.Error(t, ds.Run(context.Background(), ModeNormal))
	cancel()
	assert.ErrorIs(t, <-done, cmn.ErrInitTimeout)
}

func TestPowerTableName(t *testing.T) {
	assert.Equal(t, "nxp/txpower_US.bin", PowerTableName("", "us"))
	assert.Equal(t, "rg/US.tbl", PowerTableName("rg/%s.tbl", "US"))
}
