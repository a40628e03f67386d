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

//Package metrics holds the prometheus collectors of the driver core
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// label values
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "init-timeout"
	OutcomeSetup     = "interface-setup-failed"
)

var (
	// HangsDetected counts hang verdicts, by device and first reason
	HangsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moal_hangs_detected_total",
			Help: "Number of hang verdicts, by device and reason.",
		},
		[]string{"device", "reason"})
	// Recoveries counts finished recovery attempts, by device and outcome
	Recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moal_recoveries_total",
			Help: "Number of finished recovery attempts, by device and outcome.",
		},
		[]string{"device", "outcome"})
	// RecoveryRejected counts recovery triggers dropped because one is in flight
	RecoveryRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moal_recovery_rejected_total",
			Help: "Number of recovery requests ignored while another recovery was running.",
		})
	// Downloads counts firmware bring-up attempts, by device and outcome
	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moal_firmware_downloads_total",
			Help: "Number of firmware download sequences, by device and outcome.",
		},
		[]string{"device", "outcome"})
	// HwStatus is the current hardware status of each adapter
	HwStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moal_hw_status",
			Help: "Hardware status per adapter (0 initializing, 1 fw-ready, 2 ready, 3 not-ready).",
		},
		[]string{"device"})
	// TCPAckSegments counts segments seen by the ack coalescer, by interface and verdict
	TCPAckSegments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moal_tcp_ack_segments_total",
			Help: "Number of transmit segments seen by the TCP ACK coalescer, by interface and verdict.",
		},
		[]string{"interface", "verdict"})
	// TCPAckFlushes counts held acks handed to the transmit path, by interface and cause
	TCPAckFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moal_tcp_ack_flushes_total",
			Help: "Number of held TCP ACKs sent, by interface and cause.",
		},
		[]string{"interface", "cause"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HangsDetected,
		Recoveries,
		RecoveryRejected,
		Downloads,
		HwStatus,
		TCPAckSegments,
		TCPAckFlushes,
	}
}

// Register adds all collectors to aReg, registering twice is not an error
func Register(aReg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := aReg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the collectors of aReg
func Handler(aReg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(aReg, promhttp.HandlerOpts{})
}
