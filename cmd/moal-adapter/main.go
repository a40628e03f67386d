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


//Package main -> this is the entry point of the moal adapter
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
	vevents "github.com/opencord/voltha-lib-go/v7/pkg/events"
	"github.com/opencord/voltha-lib-go/v7/pkg/kafka"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/probe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/nxp-imx/mwifiex-moal/config/version"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/card"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/config"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/core"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/events"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/metrics"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/sim"
)

const (
	cLiveProbeInterval    = 60 * time.Second
	cNotLiveProbeInterval = 5 * time.Second
	cShutdownTimeout      = 5 * time.Second
)

// probed services
const (
	srvKvStore    = "kv-store"
	srvMessageBus = "message-bus"
	srvMetrics    = "metrics-endpoint"
	srvRegistry   = "adapter-registry"
)

type adapter struct {
	instanceID    string
	config        *config.MoalFlags
	registry      *core.MoalRegistry
	kafkaClient   kafka.Client
	kvClient      kvstore.Client
	eventProxy    *vevents.EventProxy
	metricsServer *http.Server
}

func newAdapter(cf *config.MoalFlags) *adapter {
	var a adapter
	a.instanceID = cf.InstanceID
	a.config = cf
	return &a
}

func (a *adapter) start(ctx context.Context) error {
	logger.Info(ctx, "starting-moal-adapter-components")
	var err error

	if p := probeFromContext(ctx); p != nil {
		p.RegisterService(ctx, srvKvStore, srvMessageBus, srvMetrics, srvRegistry)
	}

	// Setup KV Client
	if a.config.KVStoreType != "" {
		logger.Debugw(ctx, "create-kv-client", log.Fields{"kvstore": a.config.KVStoreType})
		if err = a.setKVClient(ctx); err != nil {
			return err
		}
		probe.UpdateStatusFromContext(ctx, srvKvStore, probe.ServiceStatusRunning)
	} else {
		logger.Warn(ctx, "no-kv-store-configured-adapter-data-kept-in-memory")
		probe.UpdateStatusFromContext(ctx, srvKvStore, probe.ServiceStatusNotReady)
	}

	notifier := events.FanOut{events.LogNotifier{}}
	if a.config.KafkaClusterAddress != "" {
		if a.kafkaClient, err = newKafkaClient(ctx, "sarama", a.config.KafkaClusterAddress); err != nil {
			logger.Errorw(ctx, "unsupported-kafka-client", log.Fields{"error": err})
			return err
		}
		if err = a.kafkaClient.Start(ctx); err != nil {
			logger.Errorw(ctx, "error-starting-kafka-client", log.Fields{"error": err})
			return err
		}
		probe.UpdateStatusFromContext(ctx, srvMessageBus, probe.ServiceStatusRunning)

		// Create the event proxy to post events to KAFKA
		a.eventProxy = vevents.NewEventProxy(vevents.MsgClient(a.kafkaClient),
			vevents.MsgTopic(kafka.Topic{Name: a.config.EventTopic}))
		if err = a.eventProxy.Start(); err != nil {
			logger.Errorw(ctx, "error-starting-event-proxy", log.Fields{"error": err})
			return err
		}
		notifier = append(notifier, events.NewProxyNotifier(a.eventProxy, a.instanceID))
	}

	if err = a.startMetricsEndpoint(ctx); err != nil {
		return err
	}

	a.registry = core.NewMoalRegistry(ctx, a.config, notifier, a.kvClient)
	if err = a.registry.Start(ctx); err != nil {
		return err
	}
	if !a.config.Simulate {
		return errors.New("no card backend available - run with -simulate")
	}
	if err = a.addSimulatedCard(ctx); err != nil {
		logger.Errorw(ctx, "error-adding-simulated-card", log.Fields{"error": err})
		return err
	}
	probe.UpdateStatusFromContext(ctx, srvRegistry, probe.ServiceStatusRunning)

	// check the readiness and liveliness and update the probe status
	a.checkServicesReadiness(ctx)
	return nil
}

func (a *adapter) stop(ctx context.Context) {
	if a.registry != nil {
		_ = a.registry.Stop(ctx)
	}
	if a.metricsServer != nil {
		sctx, cancel := context.WithTimeout(ctx, cShutdownTimeout)
		if err := a.metricsServer.Shutdown(sctx); err != nil {
			logger.Infow(ctx, "metrics-endpoint-shutdown-failed", log.Fields{"error": err})
		}
		cancel()
	}
	if a.eventProxy != nil {
		a.eventProxy.Stop()
	}
	if a.kafkaClient != nil {
		a.kafkaClient.Stop(ctx)
	}
	// Cleanup - applies only if we had a kvClient
	if a.kvClient != nil {
		// Release all reservations
		if err := a.kvClient.ReleaseAllReservations(ctx); err != nil {
			logger.Infow(ctx, "fail-to-release-all-reservations", log.Fields{"error": err})
		}
		// Close the DB connection
		a.kvClient.Close(ctx)
	}
}

// #############################################
// Adapter Utility methods ##### begin #########

func probeFromContext(ctx context.Context) *probe.Probe {
	if value := ctx.Value(probe.ProbeContextKey); value != nil {
		if p, ok := value.(*probe.Probe); ok {
			return p
		}
	}
	return nil
}

func newKVClient(ctx context.Context, storeType, address string, timeout time.Duration) (kvstore.Client, error) {
	logger.Infow(ctx, "kv-store-type", log.Fields{"store": storeType})
	switch storeType {
	case "etcd":
		return kvstore.NewEtcdClient(ctx, address, timeout, log.FatalLevel)
	case "redis":
		return kvstore.NewRedisClient(address, timeout, false)
	}
	return nil, errors.New("unsupported-kv-store")
}

func newKafkaClient(ctx context.Context, clientType, address string) (kafka.Client, error) {
	logger.Infow(ctx, "common-client-type", log.Fields{"client": clientType})
	switch clientType {
	case "sarama":
		return kafka.NewSaramaClient(
			kafka.Address(address),
			kafka.ProducerReturnOnErrors(true),
			kafka.ProducerReturnOnSuccess(true),
			kafka.ProducerMaxRetries(6),
			kafka.ProducerRetryBackoff(time.Millisecond*30),
			kafka.MetadatMaxRetries(15)), nil
	}
	return nil, errors.New("unsupported-client-type")
}

func (a *adapter) setKVClient(ctx context.Context) error {
	client, err := newKVClient(ctx, a.config.KVStoreType, a.config.KVStoreAddress, a.config.KVStoreTimeout)
	if err != nil {
		a.kvClient = nil
		logger.Errorw(ctx, "error-starting-KVClient", log.Fields{"error": err})
		return err
	}
	a.kvClient = client
	return nil
}

func (a *adapter) startMetricsEndpoint(ctx context.Context) error {
	if a.config.MetricsAddress == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		logger.Errorw(ctx, "error-registering-metrics", log.Fields{"error": err})
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	a.metricsServer = &http.Server{Addr: a.config.MetricsAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw(ctx, "metrics-endpoint-failed", log.Fields{"address": a.config.MetricsAddress, "error": err})
			probe.UpdateStatusFromContext(ctx, srvMetrics, probe.ServiceStatusNotReady)
		}
	}()
	probe.UpdateStatusFromContext(ctx, srvMetrics, probe.ServiceStatusRunning)
	logger.Infow(ctx, "metrics-endpoint-started", log.Fields{"address": a.config.MetricsAddress})
	return nil
}

//addSimulatedCard brings up one simulated card of the configured type, firmware is read from fw_dir
func (a *adapter) addSimulatedCard(ctx context.Context) error {
	busType, err := card.ParseBusType(a.config.BusType)
	if err != nil {
		return err
	}
	info, err := card.Lookup(a.config.CardType, busType)
	if err != nil {
		return err
	}
	mlan := sim.NewMlan(a.config.SimInitDelay)
	deps := core.HandleDeps{
		Bus:       sim.NewBus(info, mlan),
		Mlan:      mlan,
		Registrar: sim.NewNetdev(),
		FwFs:      afero.NewOsFs(),
	}
	deviceID := fmt.Sprintf("%s-%s-%s", a.instanceID, info.Chip, busType)
	_, err = a.registry.AddAdapter(ctx, deviceID, info.Chip, busType, deps)
	return err
}

func (a *adapter) checkServicesReadiness(ctx context.Context) {
	if a.kvClient != nil {
		go a.checkKvStoreReadiness(ctx)
	}
	if a.kafkaClient != nil {
		go a.checkKafkaReadiness(ctx)
	}
}

/**
This function checks the liveliness and readiness of the kv-store service
and update the status in the probe.
*/
func (a *adapter) checkKvStoreReadiness(ctx context.Context) {
	// dividing the live probe interval by 2 to get updated status every 30s
	timeout := cLiveProbeInterval / 2
	for {
		timeoutTimer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timeoutTimer.Stop()
			return
		case <-timeoutTimer.C:
			logger.Debug(ctx, "kv-store-liveliness-recheck")
			if a.kvClient.IsConnectionUp(ctx) {
				probe.UpdateStatusFromContext(ctx, srvKvStore, probe.ServiceStatusRunning)
				timeout = cLiveProbeInterval / 2
			} else {
				// kv-store not reachable or down, updating the status to not ready state
				probe.UpdateStatusFromContext(ctx, srvKvStore, probe.ServiceStatusNotReady)
				timeout = cNotLiveProbeInterval
			}
		}
	}
}

/**
This function checks the liveliness and readiness of the kafka service
and update the status in the probe.
*/
func (a *adapter) checkKafkaReadiness(ctx context.Context) {
	livelinessChannel := a.kafkaClient.EnableLivenessChannel(ctx, true)
	timeout := cLiveProbeInterval
	for {
		timeoutTimer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timeoutTimer.Stop()
			return
		case liveliness := <-livelinessChannel:
			if !liveliness {
				// kafka not reachable or down, updating the status to not ready state
				probe.UpdateStatusFromContext(ctx, srvMessageBus, probe.ServiceStatusNotReady)
				timeout = cNotLiveProbeInterval
			} else {
				probe.UpdateStatusFromContext(ctx, srvMessageBus, probe.ServiceStatusRunning)
				timeout = cLiveProbeInterval
			}
			// Check if the timer has expired or not
			if !timeoutTimer.Stop() {
				<-timeoutTimer.C
			}
		case <-timeoutTimer.C:
			logger.Debug(ctx, "kafka-proxy-liveness-recheck")
			if err := a.kafkaClient.SendLiveness(ctx); err != nil {
				logger.Warnw(ctx, "error-kafka-send-liveness", log.Fields{"error": err})
			}
		}
	}
}

// Adapter Utility methods ##### end   #########
// #############################################

func printVersion(appName string) {
	fmt.Println(appName)
	fmt.Println(version.VersionInfo.String("  "))
}

func printBanner() {
	fmt.Println("  __  __  ___    _    _      ")
	fmt.Println(" |  \\/  |/ _ \\  / \\  | |     ")
	fmt.Println(" | |\\/| | | | |/ _ \\ | |     ")
	fmt.Println(" | |  | | |_| / ___ \\| |___  ")
	fmt.Println(" |_|  |_|\\___/_/   \\_\\_____| ")
	fmt.Println("                             ")
}

func waitForExit(ctx context.Context) int {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	select {
	case <-ctx.Done():
		logger.Infow(ctx, "adapter run aborted due to internal errors", log.Fields{"context": "done"})
		return 2
	case s := <-signalChannel:
		switch s {
		case syscall.SIGHUP,
			syscall.SIGINT,
			syscall.SIGTERM,
			syscall.SIGQUIT:
			logger.Infow(ctx, "closing-signal-received", log.Fields{"signal": s})
			return 0
		default:
			logger.Infow(ctx, "unexpected-signal-received", log.Fields{"signal": s})
			return 1
		}
	}
}

func main() {
	ctx := context.Background()
	start := time.Now()

	cf := config.NewMoalFlags()
	defaultAppName := cf.InstanceID + "_" + version.GetCodeVersion("VERSION")
	if err := cf.ParseCommandArguments(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Setup logging
	logLevel, err := log.StringToLogLevel(cf.LogLevel)
	if err != nil {
		logger.Fatalf(ctx, "Cannot setup logging, %s", err)
	}

	// Setup default logger - applies for packages that do not have specific logger set
	if _, err := log.SetDefaultLogger(log.JSON, logLevel, log.Fields{"instanceId": cf.InstanceID}); err != nil {
		logger.With(log.Fields{"error": err}).Fatal(ctx, "Cannot setup logging")
	}

	// Update all loggers (provisioned via init) with a common field
	if err := log.UpdateAllLoggers(log.Fields{"instanceId": cf.InstanceID}); err != nil {
		logger.With(log.Fields{"error": err}).Fatal(ctx, "Cannot setup logging")
	}

	log.SetAllLogLevel(logLevel)

	defer func() {
		_ = log.CleanUp()
	}()
	// Print version / build information and exit
	if cf.DisplayVersionOnly {
		printVersion(defaultAppName)
		return
	}
	logger.Infow(ctx, "config", log.Fields{"StartName": defaultAppName})
	logger.Infow(ctx, "config", log.Fields{"BuildVersion": version.VersionInfo.String("  ")})
	logger.Infow(ctx, "config", log.Fields{"Arguments": os.Args[1:]})

	// Print banner if specified
	if cf.Banner {
		printBanner()
	}

	logger.Infow(ctx, "config", log.Fields{"config": *cf})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ad := newAdapter(cf)

	p := &probe.Probe{}
	go p.ListenAndServe(ctx, fmt.Sprintf("%s:%d", ad.config.ProbeHost, ad.config.ProbePort))

	probeCtx := context.WithValue(ctx, probe.ProbeContextKey, p)

	go func() {
		// If this operation returns an error
		// cancel all operations using this context
		if err := ad.start(probeCtx); err != nil {
			logger.Errorw(ctx, "adapter-start-failed", log.Fields{"error": err})
			cancel()
		}
	}()

	code := waitForExit(ctx)
	logger.Infow(ctx, "received-a-closing-signal", log.Fields{"code": code})

	// Cleanup before leaving
	ad.stop(context.Background())

	elapsed := time.Since(start)
	logger.Infow(ctx, "run-time", log.Fields{"instanceId": ad.config.InstanceID, "time": elapsed / time.Microsecond})
	if code != 0 {
		_ = log.CleanUp()
		os.Exit(code)
	}
}
