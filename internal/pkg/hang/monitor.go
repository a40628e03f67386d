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
	"context"
	"strings"
	"sync"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/tevino/abool"
)

const cKickQueueLen = 8

// Monitor periodically (and on explicit kicks) collects a debug snapshot, evaluates it and
// hands a new hang over to recovery
type Monitor struct {
	deviceID     string
	pAdapter     cmn.IadapterHandle
	pMlan        cmn.Mlan
	trigger      cmn.RecoveryTrigger
	notifier     cmn.Notifier
	thresholds   Thresholds
	interval     time.Duration
	autoRecovery bool
	clock        cmn.Clock
	kickChan     chan string
	mutexMonitor sync.Mutex
	stopChan     chan struct{}
	running      *abool.AtomicBool
	reported     *abool.AtomicBool
	wg           sync.WaitGroup
}

// NewMonitor returns a stopped monitor for the given adapter
func NewMonitor(ctx context.Context, aAdapter cmn.IadapterHandle, aMlan cmn.Mlan, aTrigger cmn.RecoveryTrigger,
	aNotifier cmn.Notifier, aThr Thresholds, aInterval time.Duration, aAutoRecovery bool) *Monitor {
	if aInterval <= 0 {
		aInterval = CDefaultCheckInterval
	}
	m := &Monitor{
		deviceID:     aAdapter.GetDeviceID(),
		pAdapter:     aAdapter,
		pMlan:        aMlan,
		trigger:      aTrigger,
		notifier:     aNotifier,
		thresholds:   aThr,
		interval:     aInterval,
		autoRecovery: aAutoRecovery,
		clock:        cmn.SystemClock,
		kickChan:     make(chan string, cKickQueueLen),
		running:      abool.New(),
		reported:     abool.New(),
	}
	logger.Debugw(ctx, "hang monitor created", log.Fields{"device-id": m.deviceID, "interval": aInterval,
		"auto-recovery": aAutoRecovery})
	return m
}

// SetClock replaces the time source used to judge snapshot ages
func (m *Monitor) SetClock(aClock cmn.Clock) {
	m.mutexMonitor.Lock()
	defer m.mutexMonitor.Unlock()
	m.clock = aClock
}

// Start runs the periodic check until Stop is called or ctx ends
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.SetToIf(false, true) {
		return
	}
	m.mutexMonitor.Lock()
	m.stopChan = make(chan struct{})
	stopChan := m.stopChan
	m.mutexMonitor.Unlock()
	m.wg.Add(1)
	go m.run(ctx, stopChan)
}

// Stop ends the periodic check and waits for a running check to finish
func (m *Monitor) Stop() {
	if !m.running.SetToIf(true, false) {
		return
	}
	m.mutexMonitor.Lock()
	close(m.stopChan)
	m.mutexMonitor.Unlock()
	m.wg.Wait()
}

// Kick requests an immediate check, e.g. on a tx or scan timeout; never blocks
func (m *Monitor) Kick(aReason string) bool {
	select {
	case m.kickChan <- aReason:
		return true
	default:
		return false
	}
}

// Rearm forgets a reported hang so that the next one is handed to recovery again
func (m *Monitor) Rearm() {
	m.reported.UnSet()
}

// Check collects a snapshot and evaluates it; a new hang marks the adapter and triggers recovery
func (m *Monitor) Check(ctx context.Context, aCause string) Verdict {
	if status := m.pAdapter.GetHwStatus(); status != cmn.HwReady {
		logger.Debugw(ctx, "hang check skipped - adapter not ready", log.Fields{"device-id": m.deviceID,
			"hw-status": status.String(), "cause": aCause})
		return Verdict{}
	}
	m.mutexMonitor.Lock()
	clock := m.clock
	m.mutexMonitor.Unlock()
	now := clock()
	snap := m.collect(ctx, now)
	v := Evaluate(snap, m.thresholds, now)
	for _, anomaly := range v.Anomalies {
		logger.Warnw(ctx, "hang check skipped on clock anomaly", log.Fields{"device-id": m.deviceID,
			"anomaly": anomaly})
	}
	if !v.Hung {
		m.reported.UnSet()
		return v
	}
	if !m.reported.SetToIf(false, true) {
		logger.Debugw(ctx, "adapter still hung - already reported", log.Fields{"device-id": m.deviceID,
			"verdict": v.String()})
		return v
	}
	logger.Errorw(ctx, "adapter hang detected", log.Fields{"device-id": m.deviceID, "verdict": v.String(),
		"cause": aCause})
	m.pAdapter.SetDriverHung(ctx, true)
	metrics.HangsDetected.WithLabelValues(m.deviceID, string(v.FirstReason())).Inc()
	m.notifier.Notify(ctx, m.deviceID, cmn.EventDriverHang, []byte(reasonList(v.Reasons)))

	if !m.autoRecovery {
		logger.Infow(ctx, "automatic recovery disabled - adapter stays hung", log.Fields{"device-id": m.deviceID})
		return v
	}
	if !m.trigger.Trigger(ctx, string(v.FirstReason())) {
		logger.Infow(ctx, "recovery not started - another one is in progress", log.Fields{"device-id": m.deviceID})
	}
	return v
}

// Monitor private (unexported) methods -- start

func (m *Monitor) run(ctx context.Context, aStopChan <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debugw(ctx, "hang monitor context done", log.Fields{"device-id": m.deviceID})
			return
		case <-aStopChan:
			logger.Debugw(ctx, "hang monitor stopped", log.Fields{"device-id": m.deviceID})
			return
		case <-ticker.C:
			m.Check(ctx, "periodic")
		case reason := <-m.kickChan:
			m.Check(ctx, reason)
		}
	}
}

//collect merges the firmware debug info with the driver side counters
func (m *Monitor) collect(ctx context.Context, aNow time.Time) *cmn.DebugSnapshot {
	snap := &cmn.DebugSnapshot{}
	fwSnap, err := m.pMlan.GetDebugInfo(ctx)
	if err != nil || fwSnap == nil {
		// the firmware cannot even be asked, count it like a failed transfer
		logger.Warnw(ctx, "debug info not available", log.Fields{"device-id": m.deviceID, "error": err})
		snap.HostToCardFailures = 1
	} else {
		*snap = *fwSnap
	}
	snap.InterfaceTxTimeouts = m.pAdapter.GetTxTimeouts()
	snap.DriverHung = m.pAdapter.IsDriverHung()
	snap.TakenAt = aNow
	return snap
}

func reasonList(aReasons []Reason) string {
	parts := make([]string, len(aReasons))
	for i, r := range aReasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
