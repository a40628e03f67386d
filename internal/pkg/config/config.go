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

//Package config provides the command line configuration of the moal adapter
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
)

// moal default constants
const (
	etcdStoreName              = "etcd"
	defaultInstanceid          = "moal"
	defaultLoglevel            = "WARN"
	defaultBanner              = false
	defaultDisplayVersionOnly  = false
	defaultFwDir               = "/lib/firmware"
	defaultCardType            = "sd8997"
	defaultBusType             = "sdio"
	defaultFwName              = ""
	defaultSerialBoot          = false
	defaultReqFwNowait         = false
	defaultAntennaMode         = 0
	defaultLowPowerMode        = false
	defaultAutoRecovery        = true
	defaultDrvMode             = 3
	defaultCountryCode         = ""
	defaultTxPowerTemplate     = "nxp/txpower_%s.bin"
	defaultDpdFile             = ""
	defaultCalDataFile         = ""
	defaultHostCmdFile         = ""
	defaultInitTimeout         = 10 * time.Second
	defaultFwRequestTimeout    = 60 * time.Second
	defaultHangCheckInterval   = 5 * time.Second
	defaultCmdPendingMax       = 20 * time.Second
	defaultTxTimeoutMax        = 4
	defaultPmWakeupMax         = 3 * time.Second
	defaultResetPollTries      = 100
	defaultResetPollDelay      = 100 * time.Microsecond
	defaultTCPAckEnable        = true
	defaultTCPAckMaxHold       = 9
	defaultTCPAckFlushDelay    = 1 * time.Millisecond
	defaultTCPAckIdleTimeout   = 300 * time.Millisecond
	defaultTCPAckMaxSessions   = 128
	defaultKvstoretype         = etcdStoreName
	defaultKvstoretimeout      = 5 * time.Second
	defaultKvstoreaddress      = "127.0.0.1:2379"
	defaultKafkaClusterAddress = "127.0.0.1:9092"
	defaultEventTopic          = "voltha.events"
	defaultProbeHost           = ""
	defaultProbePort           = 8080
	defaultMetricsAddress      = ":9100"
	defaultSimulate            = true
	defaultSimInitDelay        = 20 * time.Millisecond
)

// MoalFlags represents the set of configurations of the moal adapter
type MoalFlags struct {
	// Command line parameters
	InstanceID          string
	LogLevel            string
	Banner              bool
	DisplayVersionOnly  bool
	FwDir               string
	CardType            string
	BusType             string
	FwName              string
	SerialBoot          bool
	ReqFwNowait         bool
	AntennaMode         uint
	LowPowerMode        bool
	AutoRecovery        bool
	DrvMode             uint
	CountryCode         string
	TxPowerTemplate     string
	DpdFile             string
	CalDataFile         string
	HostCmdFile         string
	InitTimeout         time.Duration
	FwRequestTimeout    time.Duration
	HangCheckInterval   time.Duration
	CmdPendingMax       time.Duration
	TxTimeoutMax        uint
	PmWakeupMax         time.Duration
	ResetPollTries      int
	ResetPollDelay      time.Duration
	TCPAckEnable        bool
	TCPAckMaxHold       int
	TCPAckFlushDelay    time.Duration
	TCPAckIdleTimeout   time.Duration
	TCPAckMaxSessions   int
	KVStoreType         string
	KVStoreTimeout      time.Duration
	KVStoreAddress      string
	KafkaClusterAddress string
	EventTopic          string
	ProbeHost           string
	ProbePort           int
	MetricsAddress      string
	Simulate            bool
	SimInitDelay        time.Duration
}

// NewMoalFlags returns the default configuration
func NewMoalFlags() *MoalFlags {
	var moalFlags = MoalFlags{ // Default values
		InstanceID:          defaultInstanceid,
		LogLevel:            defaultLoglevel,
		Banner:              defaultBanner,
		DisplayVersionOnly:  defaultDisplayVersionOnly,
		FwDir:               defaultFwDir,
		CardType:            defaultCardType,
		BusType:             defaultBusType,
		FwName:              defaultFwName,
		SerialBoot:          defaultSerialBoot,
		ReqFwNowait:         defaultReqFwNowait,
		AntennaMode:         defaultAntennaMode,
		LowPowerMode:        defaultLowPowerMode,
		AutoRecovery:        defaultAutoRecovery,
		DrvMode:             defaultDrvMode,
		CountryCode:         defaultCountryCode,
		TxPowerTemplate:     defaultTxPowerTemplate,
		DpdFile:             defaultDpdFile,
		CalDataFile:         defaultCalDataFile,
		HostCmdFile:         defaultHostCmdFile,
		InitTimeout:         defaultInitTimeout,
		FwRequestTimeout:    defaultFwRequestTimeout,
		HangCheckInterval:   defaultHangCheckInterval,
		CmdPendingMax:       defaultCmdPendingMax,
		TxTimeoutMax:        defaultTxTimeoutMax,
		PmWakeupMax:         defaultPmWakeupMax,
		ResetPollTries:      defaultResetPollTries,
		ResetPollDelay:      defaultResetPollDelay,
		TCPAckEnable:        defaultTCPAckEnable,
		TCPAckMaxHold:       defaultTCPAckMaxHold,
		TCPAckFlushDelay:    defaultTCPAckFlushDelay,
		TCPAckIdleTimeout:   defaultTCPAckIdleTimeout,
		TCPAckMaxSessions:   defaultTCPAckMaxSessions,
		KVStoreType:         defaultKvstoretype,
		KVStoreTimeout:      defaultKvstoretimeout,
		KVStoreAddress:      defaultKvstoreaddress,
		KafkaClusterAddress: defaultKafkaClusterAddress,
		EventTopic:          defaultEventTopic,
		ProbeHost:           defaultProbeHost,
		ProbePort:           defaultProbePort,
		MetricsAddress:      defaultMetricsAddress,
		Simulate:            defaultSimulate,
		SimInitDelay:        defaultSimInitDelay,
	}
	return &moalFlags
}

// ParseCommandArguments parses aArgs (without the program name) into so
func (so *MoalFlags) ParseCommandArguments(aArgs []string) error {
	fs := flag.NewFlagSet("moal-adapter", flag.ContinueOnError)

	help := fmt.Sprintf("Log level")
	fs.StringVar(&(so.LogLevel), "log_level", defaultLoglevel, help)

	help = fmt.Sprintf("Show startup banner log lines")
	fs.BoolVar(&(so.Banner), "banner", defaultBanner, help)

	help = fmt.Sprintf("Show version information and exit")
	fs.BoolVar(&(so.DisplayVersionOnly), "version", defaultDisplayVersionOnly, help)

	help = fmt.Sprintf("Directory the firmware files are loaded from")
	fs.StringVar(&(so.FwDir), "fw_dir", defaultFwDir, help)

	help = fmt.Sprintf("Chip of the card, e.g. sd8997, sd9177, pcie9098, usb8997")
	fs.StringVar(&(so.CardType), "card_type", defaultCardType, help)

	help = fmt.Sprintf("Bus the card is attached to: sdio, pcie or usb")
	fs.StringVar(&(so.BusType), "bus_type", defaultBusType, help)

	help = fmt.Sprintf("Firmware image name overriding the per card default")
	fs.StringVar(&(so.FwName), "fw_name", defaultFwName, help)

	help = fmt.Sprintf("Download the wlan only image, bluetooth is loaded over the serial interface")
	fs.BoolVar(&(so.SerialBoot), "fw_serial", defaultSerialBoot, help)

	help = fmt.Sprintf("Request the firmware files asynchronously")
	fs.BoolVar(&(so.ReqFwNowait), "req_fw_nowait", defaultReqFwNowait, help)

	help = fmt.Sprintf("Antenna configuration, 0 for the per card default")
	fs.UintVar(&(so.AntennaMode), "antcfg", defaultAntennaMode, help)

	help = fmt.Sprintf("Enable the low power mode at bring-up")
	fs.BoolVar(&(so.LowPowerMode), "low_power_mode_enable", defaultLowPowerMode, help)

	help = fmt.Sprintf("Start recovery automatically when a hang is detected")
	fs.BoolVar(&(so.AutoRecovery), "auto_recovery", defaultAutoRecovery, help)

	help = fmt.Sprintf("Interface roles as bitmask: 1 station, 2 access point, 4 wifi direct")
	fs.UintVar(&(so.DrvMode), "drv_mode", defaultDrvMode, help)

	help = fmt.Sprintf("Country code whose power table is loaded, empty for world-wide")
	fs.StringVar(&(so.CountryCode), "country_code", defaultCountryCode, help)

	help = fmt.Sprintf("Name template of the per country power table, %%s is the country code")
	fs.StringVar(&(so.TxPowerTemplate), "txpwrlimit_cfg", defaultTxPowerTemplate, help)

	help = fmt.Sprintf("Digital pre-distortion data file")
	fs.StringVar(&(so.DpdFile), "dpd_data_cfg", defaultDpdFile, help)

	help = fmt.Sprintf("Calibration data file overriding the per card default")
	fs.StringVar(&(so.CalDataFile), "cal_data_cfg", defaultCalDataFile, help)

	help = fmt.Sprintf("Host command configuration file")
	fs.StringVar(&(so.HostCmdFile), "hostcmd_cfg", defaultHostCmdFile, help)

	help = fmt.Sprintf("Maximum time the firmware gets to report init completion")
	fs.DurationVar(&(so.InitTimeout), "init_timeout", defaultInitTimeout, help)

	help = fmt.Sprintf("Maximum time an asynchronous firmware file request may take")
	fs.DurationVar(&(so.FwRequestTimeout), "fw_request_timeout", defaultFwRequestTimeout, help)

	help = fmt.Sprintf("Interval of the periodic hang check")
	fs.DurationVar(&(so.HangCheckInterval), "hang_check_interval", defaultHangCheckInterval, help)

	help = fmt.Sprintf("Maximum time a firmware command may stay pending")
	fs.DurationVar(&(so.CmdPendingMax), "cmd_pending_max", defaultCmdPendingMax, help)

	help = fmt.Sprintf("Number of tx timeouts on one interface considered a hang")
	fs.UintVar(&(so.TxTimeoutMax), "tx_timeout_max", defaultTxTimeoutMax, help)

	help = fmt.Sprintf("Maximum time a power management wakeup may stay pending")
	fs.DurationVar(&(so.PmWakeupMax), "pm_wakeup_max", defaultPmWakeupMax, help)

	help = fmt.Sprintf("Number of polls of the in-band reset handshake")
	fs.IntVar(&(so.ResetPollTries), "reset_poll_tries", defaultResetPollTries, help)

	help = fmt.Sprintf("Delay between two polls of the in-band reset handshake")
	fs.DurationVar(&(so.ResetPollDelay), "reset_poll_delay", defaultResetPollDelay, help)

	help = fmt.Sprintf("Coalesce pure TCP ACKs on transmit")
	fs.BoolVar(&(so.TCPAckEnable), "tcp_ack_drop", defaultTCPAckEnable, help)

	help = fmt.Sprintf("Number of ACKs replaced in place before the held one is sent")
	fs.IntVar(&(so.TCPAckMaxHold), "tcp_ack_max_hold", defaultTCPAckMaxHold, help)

	help = fmt.Sprintf("Maximum time an ACK is held")
	fs.DurationVar(&(so.TCPAckFlushDelay), "tcp_ack_flush_delay", defaultTCPAckFlushDelay, help)

	help = fmt.Sprintf("Idle time after which a flow is forgotten")
	fs.DurationVar(&(so.TCPAckIdleTimeout), "tcp_ack_idle_timeout", defaultTCPAckIdleTimeout, help)

	help = fmt.Sprintf("Maximum number of tracked flows per interface")
	fs.IntVar(&(so.TCPAckMaxSessions), "tcp_ack_max_sessions", defaultTCPAckMaxSessions, help)

	help = fmt.Sprintf("KV store type, empty to keep diagnostics in memory only")
	fs.StringVar(&(so.KVStoreType), "kv_store_type", defaultKvstoretype, help)

	help = fmt.Sprintf("The default timeout when making a kv store request")
	fs.DurationVar(&(so.KVStoreTimeout), "kv_store_request_timeout", defaultKvstoretimeout, help)

	help = fmt.Sprintf("KV store address")
	fs.StringVar(&(so.KVStoreAddress), "kv_store_address", defaultKvstoreaddress, help)

	help = fmt.Sprintf("Kafka - Cluster messaging address, empty to log events only")
	fs.StringVar(&(so.KafkaClusterAddress), "kafka_cluster_address", defaultKafkaClusterAddress, help)

	help = fmt.Sprintf("Event topic")
	fs.StringVar(&(so.EventTopic), "event_topic", defaultEventTopic, help)

	help = fmt.Sprintf("The address on which to listen to answer liveness and readiness probe queries over HTTP.")
	fs.StringVar(&(so.ProbeHost), "probe_host", defaultProbeHost, help)

	help = fmt.Sprintf("The port on which to listen to answer liveness and readiness probe queries over HTTP.")
	fs.IntVar(&(so.ProbePort), "probe_port", defaultProbePort, help)

	help = fmt.Sprintf("The address on which the prometheus metrics are served, empty to disable")
	fs.StringVar(&(so.MetricsAddress), "metrics_address", defaultMetricsAddress, help)

	help = fmt.Sprintf("Drive a simulated card instead of real hardware")
	fs.BoolVar(&(so.Simulate), "simulate", defaultSimulate, help)

	help = fmt.Sprintf("Time the simulated firmware needs to report init completion")
	fs.DurationVar(&(so.SimInitDelay), "sim_init_delay", defaultSimInitDelay, help)

	if err := fs.Parse(aArgs); err != nil {
		return err
	}
	containerName := getContainerInfo()
	if len(containerName) > 0 {
		so.InstanceID = containerName
	}
	return so.validate()
}

func (so *MoalFlags) validate() error {
	if so.DrvMode == 0 || so.DrvMode > 7 {
		return fmt.Errorf("drv_mode %d selects no valid interface role", so.DrvMode)
	}
	if so.TCPAckMaxHold <= 0 || so.TCPAckMaxSessions <= 0 {
		return fmt.Errorf("tcp ack limits must be positive: max-hold %d, max-sessions %d",
			so.TCPAckMaxHold, so.TCPAckMaxSessions)
	}
	if so.InitTimeout <= 0 {
		return fmt.Errorf("init_timeout must be positive, got %s", so.InitTimeout)
	}
	if _, err := card.ParseBusType(so.BusType); err != nil {
		return err
	}
	return nil
}

func getContainerInfo() string {
	return os.Getenv("HOSTNAME")
}
