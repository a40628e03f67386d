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

//Package hang provides the hang verdict over firmware debug snapshots and its periodic monitor
package hang

import (
	"fmt"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
)

// default thresholds
const (
	CDefaultCmdPendingMax = 20 * time.Second
	CDefaultTxTimeoutMax  = 4
	CDefaultPmWakeupMax   = 3 * time.Second
	CDefaultCheckInterval = 5 * time.Second
)

// Reason names one condition that makes the adapter hung
type Reason string

// hang reasons
const (
	ReasonCmdPending     Reason = "cmd-pending-too-long"
	ReasonCmdTimeout     Reason = "cmd-timeout"
	ReasonHostToCard     Reason = "host-to-card-failure"
	ReasonNoFreeCmdNode  Reason = "no-free-cmd-node"
	ReasonTxTimeout      Reason = "tx-timeout"
	ReasonPmWakeup       Reason = "pm-wakeup-stuck"
	ReasonFwHang         Reason = "fw-hang-reported"
	ReasonDriverHungFlag Reason = "driver-hung-flag"
)

// Thresholds configures the time and count limits of the evaluation
type Thresholds struct {
	CmdPendingMax time.Duration
	TxTimeoutMax  uint32
	PmWakeupMax   time.Duration
}

// DefaultThresholds returns the driver defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		CmdPendingMax: CDefaultCmdPendingMax,
		TxTimeoutMax:  CDefaultTxTimeoutMax,
		PmWakeupMax:   CDefaultPmWakeupMax,
	}
}

// Verdict is the outcome of an evaluation
type Verdict struct {
	Hung    bool
	Reasons []Reason
	// Anomalies lists checks skipped because the snapshot timestamps are inconsistent
	Anomalies []string
}

// FirstReason returns the first matching reason, empty when healthy
func (v Verdict) FirstReason() Reason {
	if len(v.Reasons) == 0 {
		return ""
	}
	return v.Reasons[0]
}

// String - Return the text representation of the verdict
func (v Verdict) String() string {
	if !v.Hung {
		return "healthy"
	}
	return fmt.Sprintf("hung%v", v.Reasons)
}

// Evaluate decides whether the adapter is hung; it has no side effects.
// aNow is the time the snapshot is judged against.
func Evaluate(aSnap *cmn.DebugSnapshot, aThr Thresholds, aNow time.Time) Verdict {
	var v Verdict
	if aSnap == nil {
		return v
	}
	add := func(r Reason) {
		v.Hung = true
		v.Reasons = append(v.Reasons, r)
	}

	if aSnap.PendingCmdID != 0 && !aSnap.PendingCmdSince.IsZero() {
		age := aNow.Sub(aSnap.PendingCmdSince)
		if age < 0 {
			v.Anomalies = append(v.Anomalies, fmt.Sprintf("cmd 0x%04x issued %s in the future", aSnap.PendingCmdID, -age))
		} else if age > aThr.CmdPendingMax {
			add(ReasonCmdPending)
		}
	}
	if aSnap.CmdTimeoutCount > 0 {
		add(ReasonCmdTimeout)
	}
	if aSnap.HostToCardFailures > 0 {
		add(ReasonHostToCard)
	}
	if aSnap.NoFreeCmdNodeCount > 0 {
		add(ReasonNoFreeCmdNode)
	}
	if txTimeoutExceeded(aSnap.InterfaceTxTimeouts, aThr.TxTimeoutMax) {
		add(ReasonTxTimeout)
	}
	if aSnap.PmWakeupPending && !aSnap.PmWakeupSince.IsZero() {
		age := aNow.Sub(aSnap.PmWakeupSince)
		if age < 0 {
			v.Anomalies = append(v.Anomalies, fmt.Sprintf("pm wakeup requested %s in the future", -age))
		} else if age > aThr.PmWakeupMax {
			add(ReasonPmWakeup)
		}
	}
	if aSnap.FwHangReports > 0 {
		add(ReasonFwHang)
	}
	if aSnap.DriverHung {
		add(ReasonDriverHungFlag)
	}
	return v
}

func txTimeoutExceeded(aCounts map[string]uint32, aMax uint32) bool {
	if aMax == 0 {
		return false
	}
	for _, cnt := range aCounts {
		if cnt >= aMax {
			return true
		}
	}
	return false
}
