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

package core

import (
	"context"
	"testing"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/devdb"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func persistedSettings(t *testing.T, tb *testBed, aDeviceID string) devdb.Settings {
	t.Helper()
	adb := devdb.NewAdapterDB(context.Background(), tb.kv, aDeviceID)
	require.NoError(t, adb.Restore(context.Background()))
	return adb.GetSettings()
}

func TestRolesOfDrvMode(t *testing.T) {
	assert.Equal(t, []cmn.InterfaceRole{cmn.RoleStation}, rolesOfDrvMode(cmn.DrvModeSta))
	assert.Equal(t, []cmn.InterfaceRole{cmn.RoleStation, cmn.RoleAP, cmn.RoleWifiDirect},
		rolesOfDrvMode(cmn.DrvModeSta|cmn.DrvModeUap|cmn.DrvModeWfd))
	assert.Equal(t, []cmn.InterfaceRole{cmn.RoleAP}, rolesOfDrvMode(cmn.DrvModeUap))
	assert.Empty(t, rolesOfDrvMode(0))
}

func TestInterfacesFollowDrvMode(t *testing.T) {
	cfg := testFlags()
	cfg.DrvMode = 7
	tb := newTestBed(t, cfg)
	ah, tc := tb.addAdapter(t, "ah-drvmode")

	assert.Equal(t, []string{"mlan0", "uap0", "wfd0"}, ah.Status().Interfaces)
	assert.Equal(t, 3, tc.netdev.Registered())
	for i, ifc := range ah.GetInterfaces() {
		assert.Equal(t, i, ifc.GetIndex())
		assert.NotNil(t, ifc.GetMacAddress())
	}
	_, err := ah.GetInterface("mlan1")
	assert.Error(t, err)
}

func TestSetCountry(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "ah-country")
	ctx := context.Background()

	require.NoError(t, ah.SetCountry(ctx, "jp"))
	country, table := tc.mlan.Country()
	assert.Equal(t, "JP", country)
	assert.Equal(t, []byte("jp-table"), table)
	assert.Equal(t, "JP", ah.GetActiveCountry())
	assert.Equal(t, 1, tb.notifier.Count(cmn.EventCountryPowerApplied))
	assert.Equal(t, "JP", persistedSettings(t, tb, "ah-country").Country)

	err := ah.SetCountry(ctx, "FR")
	assert.ErrorIs(t, err, cmn.ErrNotFound)
	assert.Error(t, ah.SetCountry(ctx, "J1"))
	assert.Error(t, ah.SetCountry(ctx, "JPN"))
	assert.Equal(t, "JP", ah.GetActiveCountry())
	assert.Equal(t, 0, ah.pFwStore.Outstanding())
}

func TestSetCountryWhileNotReady(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "ah-country-later")
	ctx := context.Background()
	ah.SetHwStatus(ctx, cmn.HwNotReady)

	require.NoError(t, ah.SetCountry(ctx, "de"))
	country, _ := tc.mlan.Country()
	assert.NotEqual(t, "DE", country, "not applied to the firmware")
	assert.Equal(t, "WW", ah.GetActiveCountry())
	assert.Equal(t, "DE", persistedSettings(t, tb, "ah-country-later").Country)
	ah.SetHwStatus(ctx, cmn.HwReady)
}

func TestSetCountryRejectedDuringRecovery(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, _ := tb.addAdapter(t, "ah-country-recovery")

	tb.registry.recoveryMarker.Set()
	defer tb.registry.recoveryMarker.UnSet()
	assert.ErrorIs(t, ah.SetCountry(context.Background(), "DE"), cmn.ErrRecoveryInProgress)
	assert.Equal(t, "WW", ah.GetActiveCountry())
}

func TestDebugDump(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, _ := tb.addAdapter(t, "ah-debug")

	rec, err := ah.DebugDump(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.Sequence)
	assert.Equal(t, cDumpReasonOnDemand, rec.Reason)
	assert.NotEmpty(t, rec.Registers)
	require.NotNil(t, rec.Snapshot)
	assert.Contains(t, rec.Snapshot.InterfaceTxTimeouts, "mlan0")
	assert.Equal(t, 1, tb.notifier.Count(cmn.EventDebugDumpRequested))

	rec, err = ah.DebugDump(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.Sequence)
}

func TestDebugDumpPartial(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "ah-debug-partial")
	tc.mlan.FailDebugInfo = true

	rec, err := ah.DebugDump(context.Background())
	assert.Error(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.Snapshot)
	assert.NotEmpty(t, rec.Registers)
}

func TestFwDumpTriggersRecovery(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "ah-fwdump")

	require.True(t, ah.HandleFwDump(context.Background(), "fw-crash"))
	require.Eventually(t, func() bool {
		return tb.notifier.Count(cmn.EventRecoverySucceeded) == 1
	}, testWait, testTick)

	assert.Equal(t, 1, tb.notifier.Count(cmn.EventFwDumpComplete))
	assert.Equal(t, cmn.HwReady, ah.GetHwStatus())
	assert.False(t, ah.IsDriverHung())
	assert.NoError(t, ah.GetRecoveryError())
	assert.Equal(t, 2, tc.bus.Downloads())
	assert.Equal(t, 2, tc.netdev.Registered())
	assert.Equal(t, uint64(1), ah.Status().Recoveries)

	rec, err := ah.pAdapterDB.GetLastFwDump()
	require.NoError(t, err)
	assert.Equal(t, "fw-crash", rec.Reason)
	assert.Equal(t, uint32(1), persistedSettings(t, tb, "ah-fwdump").Recoveries)
}

func TestFwDumpWithoutAutoRecovery(t *testing.T) {
	cfg := testFlags()
	cfg.AutoRecovery = false
	tb := newTestBed(t, cfg)
	ah, tc := tb.addAdapter(t, "ah-fwdump-manual")

	require.True(t, ah.HandleFwDump(context.Background(), "fw-crash"))
	require.Eventually(t, func() bool {
		return tb.notifier.Count(cmn.EventDriverHang) == 1
	}, testWait, testTick)
	assert.True(t, ah.IsDriverHung())
	assert.True(t, ah.Status().DriverHung)
	assert.Equal(t, 0, tb.notifier.Count(cmn.EventRecoveryStarted))

	require.NoError(t, ah.Recover(context.Background()))
	assert.False(t, ah.IsDriverHung())
	assert.Equal(t, cmn.HwReady, ah.GetHwStatus())
	assert.Equal(t, 2, tc.bus.Downloads())
}

func TestHangDetectedTriggersRecovery(t *testing.T) {
	cfg := testFlags()
	cfg.HangCheckInterval = 10 * time.Millisecond
	tb := newTestBed(t, cfg)
	ah, tc := tb.addAdapter(t, "ah-hang")

	tc.mlan.InjectHang(sim.HangCmdTimeout, time.Now())
	require.Eventually(t, func() bool {
		return tb.notifier.Count(cmn.EventRecoverySucceeded) == 1
	}, testWait, testTick)

	assert.Equal(t, 1, tb.notifier.Count(cmn.EventDriverHang))
	assert.Equal(t, cmn.HwReady, ah.GetHwStatus())
	assert.False(t, ah.IsDriverHung())
	assert.False(t, tb.registry.RecoveryInProgress())
}

func TestTxTimeoutsTriggerRecovery(t *testing.T) {
	cfg := testFlags()
	cfg.TxTimeoutMax = 2
	cfg.HangCheckInterval = 20 * time.Millisecond
	tb := newTestBed(t, cfg)
	ah, _ := tb.addAdapter(t, "ah-txtimeout")
	ifc, err := ah.GetInterface("uap0")
	require.NoError(t, err)

	ifc.TxTimeout(context.Background())
	assert.Equal(t, map[string]uint32{"mlan0": 0, "uap0": 1}, ah.GetTxTimeouts())
	ifc.TxTimeout(context.Background())

	require.Eventually(t, func() bool {
		return tb.notifier.Count(cmn.EventRecoverySucceeded) == 1
	}, testWait, testTick)
	assert.Equal(t, uint32(0), ifc.GetTxTimeoutCount())
	assert.False(t, ifc.TxQueuesStopped())
}

func TestQueueWorkRunsMainProcess(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "ah-work")
	runs := tc.mlan.MainProcessRuns()

	done := make(chan struct{})
	require.True(t, ah.QueueWork("test", func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatal("work item not run")
	}
	assert.True(t, ah.QueueWork("main-process", nil))
	assert.Eventually(t, func() bool { return tc.mlan.MainProcessRuns() > runs }, testWait, testTick)
}

func TestRemoveWaitsForRecovery(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "ah-remove-recovery")

	require.True(t, ah.HandleFwDump(context.Background(), "fw-crash"))
	require.NoError(t, tb.registry.RemoveAdapter(context.Background(), "ah-remove-recovery", true))

	assert.False(t, tb.registry.RecoveryInProgress())
	assert.False(t, tc.mlan.IsRunning())
	assert.Equal(t, cmn.HwNotReady, ah.GetHwStatus())
	assert.Equal(t, 0, tc.netdev.Registered())
	assert.Equal(t, 0, ah.pFwStore.Outstanding())
	assert.ErrorIs(t, ah.Recover(context.Background()), cmn.ErrDeviceNotFound)
}
