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

package hang

import (
	"testing"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluateHealthy(t *testing.T) {
	v := Evaluate(&cmn.DebugSnapshot{InterfaceTxTimeouts: map[string]uint32{"sta0": 3}}, DefaultThresholds(), testNow)
	assert.False(t, v.Hung)
	assert.Empty(t, v.Reasons)
	assert.Equal(t, Reason(""), v.FirstReason())
	assert.Equal(t, "healthy", v.String())

	assert.False(t, Evaluate(nil, DefaultThresholds(), testNow).Hung)
}

func TestEvaluateConditions(t *testing.T) {
	thr := DefaultThresholds()
	tests := []struct {
		name string
		snap cmn.DebugSnapshot
		want Reason
	}{
		{"pending command too old", cmn.DebugSnapshot{PendingCmdID: 0x00a9,
			PendingCmdSince: testNow.Add(-21 * time.Second)}, ReasonCmdPending},
		{"command timeout", cmn.DebugSnapshot{CmdTimeoutCount: 1}, ReasonCmdTimeout},
		{"host to card failure", cmn.DebugSnapshot{HostToCardFailures: 2}, ReasonHostToCard},
		{"no free command node", cmn.DebugSnapshot{NoFreeCmdNodeCount: 1}, ReasonNoFreeCmdNode},
		{"tx timeouts", cmn.DebugSnapshot{InterfaceTxTimeouts: map[string]uint32{"sta0": 0, "uap1": 4}}, ReasonTxTimeout},
		{"pm wakeup stuck", cmn.DebugSnapshot{PmWakeupPending: true,
			PmWakeupSince: testNow.Add(-4 * time.Second)}, ReasonPmWakeup},
		{"firmware hang report", cmn.DebugSnapshot{FwHangReports: 1}, ReasonFwHang},
		{"driver hung flag", cmn.DebugSnapshot{DriverHung: true}, ReasonDriverHungFlag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(&tt.snap, thr, testNow)
			assert.True(t, v.Hung)
			assert.Equal(t, []Reason{tt.want}, v.Reasons)
			assert.Equal(t, tt.want, v.FirstReason())
		})
	}
}

func TestEvaluateBoundaries(t *testing.T) {
	thr := DefaultThresholds()

	atLimit := cmn.DebugSnapshot{PendingCmdID: 0x0010, PendingCmdSince: testNow.Add(-thr.CmdPendingMax)}
	assert.False(t, Evaluate(&atLimit, thr, testNow).Hung, "pending exactly at the limit is tolerated")

	noCmd := cmn.DebugSnapshot{PendingCmdSince: testNow.Add(-time.Hour)}
	assert.False(t, Evaluate(&noCmd, thr, testNow).Hung, "no command pending")

	pmAtLimit := cmn.DebugSnapshot{PmWakeupPending: true, PmWakeupSince: testNow.Add(-thr.PmWakeupMax)}
	assert.False(t, Evaluate(&pmAtLimit, thr, testNow).Hung)

	pmDone := cmn.DebugSnapshot{PmWakeupSince: testNow.Add(-time.Hour)}
	assert.False(t, Evaluate(&pmDone, thr, testNow).Hung, "wakeup no longer pending")

	below := cmn.DebugSnapshot{InterfaceTxTimeouts: map[string]uint32{"sta0": thr.TxTimeoutMax - 1}}
	assert.False(t, Evaluate(&below, thr, testNow).Hung)

	disabled := Thresholds{CmdPendingMax: thr.CmdPendingMax, PmWakeupMax: thr.PmWakeupMax}
	many := cmn.DebugSnapshot{InterfaceTxTimeouts: map[string]uint32{"sta0": 100}}
	assert.False(t, Evaluate(&many, disabled, testNow).Hung, "tx timeout check disabled")
}

func TestEvaluateReportsAllReasonsInOrder(t *testing.T) {
	snap := cmn.DebugSnapshot{CmdTimeoutCount: 1, FwHangReports: 1, DriverHung: true}
	v := Evaluate(&snap, DefaultThresholds(), testNow)
	assert.Equal(t, []Reason{ReasonCmdTimeout, ReasonFwHang, ReasonDriverHungFlag}, v.Reasons)
	assert.Equal(t, "hung[cmd-timeout fw-hang-reported driver-hung-flag]", v.String())
}

func TestEvaluateClockAnomaly(t *testing.T) {
	snap := cmn.DebugSnapshot{
		PendingCmdID:    0x00a9,
		PendingCmdSince: testNow.Add(time.Minute),
		PmWakeupPending: true,
		PmWakeupSince:   testNow.Add(time.Second),
	}
	v := Evaluate(&snap, DefaultThresholds(), testNow)
	assert.False(t, v.Hung)
	assert.Len(t, v.Anomalies, 2)
}
