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
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSrcMac = net.HardwareAddr{0x00, 0x50, 0x43, 0x00, 0x00, 0x01}
	testDstMac = net.HardwareAddr{0x00, 0x50, 0x43, 0x00, 0x00, 0x02}
)

func ipv4Layer(aProto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: aProto,
		SrcIP:    net.IP{192, 168, 1, 10},
		DstIP:    net.IP{192, 168, 1, 20},
	}
}

func serialize(t *testing.T, aLayers ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, aLayers...))
	return append([]byte(nil), buf.Bytes()...)
}

func ackFrame(t *testing.T, aAck uint32) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testSrcMac, DstMAC: testDstMac, EthernetType: layers.EthernetTypeIPv4}
	ip := ipv4Layer(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 5001, Seq: 4242, Ack: aAck, ACK: true, Window: 512}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp)
}

func udpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: testSrcMac, DstMAC: testDstMac, EthernetType: layers.EthernetTypeIPv4}
	ip := ipv4Layer(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, udp, gopacket.Payload([]byte("query")))
}

func TestTransmitCoalescesPureAcks(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "if-coalesce")
	ifc, err := ah.GetInterface("mlan0")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ifc.Transmit(ctx, ackFrame(t, 1000)))
	require.NoError(t, ifc.Transmit(ctx, ackFrame(t, 2000)))
	latest := ackFrame(t, 3000)
	require.NoError(t, ifc.Transmit(ctx, latest))

	require.Eventually(t, func() bool { return len(tc.mlan.Sent()) == 1 }, testWait, testTick)
	sent := tc.mlan.Sent()[0]
	assert.Equal(t, ifc.GetIndex(), sent.IfIndex)
	assert.Equal(t, latest, sent.Frame)
	assert.Equal(t, uint64(1), ifc.GetTxFrames())
}

func TestTransmitPassesOtherTraffic(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "if-passthrough")
	ifc, err := ah.GetInterface("uap0")
	require.NoError(t, err)

	frame := udpFrame(t)
	require.NoError(t, ifc.Transmit(context.Background(), frame))
	sent := tc.mlan.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].IfIndex)
	assert.Equal(t, frame, sent[0].Frame)
}

func TestTransmitWithoutCoalescing(t *testing.T) {
	cfg := testFlags()
	cfg.TCPAckEnable = false
	tb := newTestBed(t, cfg)
	ah, tc := tb.addAdapter(t, "if-nocoalesce")
	ifc, err := ah.GetInterface("mlan0")
	require.NoError(t, err)

	require.NoError(t, ifc.Transmit(context.Background(), ackFrame(t, 1000)))
	require.NoError(t, ifc.Transmit(context.Background(), ackFrame(t, 2000)))
	assert.Len(t, tc.mlan.Sent(), 2)
	assert.Equal(t, uint64(2), ifc.GetTxFrames())
}

func TestTransmitStoppedQueues(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "if-stopped")
	ifc, err := ah.GetInterface("mlan0")
	require.NoError(t, err)
	ctx := context.Background()

	ifc.StopTxQueues(ctx)
	assert.True(t, ifc.TxQueuesStopped())
	assert.ErrorIs(t, ifc.Transmit(ctx, udpFrame(t)), ErrTxStopped)
	assert.ErrorIs(t, ifc.StartScan(ctx), ErrTxStopped)
	assert.Empty(t, tc.mlan.Sent())

	ifc.WakeTxQueues(ctx)
	assert.NoError(t, ifc.Transmit(ctx, udpFrame(t)))
	assert.Len(t, tc.mlan.Sent(), 1)
}

func TestSendRechecksStoppedQueues(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, tc := tb.addAdapter(t, "if-send-stopped")
	ifc, err := ah.GetInterface("mlan0")
	require.NoError(t, err)
	ctx := context.Background()

	// queues stopped between the caller's check and the hand-over to the firmware
	ifc.StopTxQueues(ctx)
	assert.ErrorIs(t, ifc.send(ctx, udpFrame(t)), ErrTxStopped)
	assert.Empty(t, tc.mlan.Sent())
	assert.Equal(t, uint64(0), ifc.GetTxFrames())
}

func TestRecoveryReportsLostLinkAndScans(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, _ := tb.addAdapter(t, "if-quiesce")
	sta, err := ah.GetInterface("mlan0")
	require.NoError(t, err)
	ap, err := ah.GetInterface("uap0")
	require.NoError(t, err)
	ctx := context.Background()

	sta.SetConnected(ctx, true)
	require.NoError(t, sta.StartScan(ctx))
	require.NoError(t, sta.StartSchedScan(ctx))
	assert.True(t, sta.IsSchedScanActive())

	require.NoError(t, ah.Recover(ctx))

	events := tb.notifier.Events()
	indexOf := func(aEvent string, aFrom int) int {
		for i := aFrom; i < len(events); i++ {
			if events[i] == aEvent {
				return i
			}
		}
		return -1
	}
	started := indexOf(cmn.EventRecoveryStarted, 0)
	require.GreaterOrEqual(t, started, 0)
	ready := indexOf(cmn.EventFwReady, started)
	require.Greater(t, ready, started)
	for _, ev := range []string{cmn.EventScanAborted, cmn.EventSchedScanStopped, cmn.EventDisconnected} {
		idx := indexOf(ev, started)
		assert.True(t, idx > started && idx < ready, "%s sent while quiescing", ev)
		assert.Equal(t, 1, tb.notifier.Count(ev), "only the station had state to abort")
	}

	assert.False(t, sta.IsConnected())
	assert.False(t, sta.IsScanPending())
	assert.False(t, sta.IsSchedScanActive())
	assert.False(t, ap.IsConnected())
	assert.NoError(t, sta.StartScan(ctx), "scans are accepted again after the recovery")
}

func TestDetachDropsHeldAcks(t *testing.T) {
	cfg := testFlags()
	cfg.TCPAckFlushDelay = 50 * time.Millisecond
	tb := newTestBed(t, cfg)
	ah, tc := tb.addAdapter(t, "if-detach")
	ifc, err := ah.GetInterface("mlan0")
	require.NoError(t, err)
	ctx := context.Background()

	ifc.SetConnected(ctx, true)
	require.NoError(t, ifc.StartScan(ctx))
	require.NoError(t, ifc.Transmit(ctx, ackFrame(t, 1000)))

	ifc.Detach(ctx)
	assert.False(t, ifc.IsConnected())
	assert.False(t, ifc.IsScanPending())
	time.Sleep(2 * cfg.TCPAckFlushDelay)
	assert.Empty(t, tc.mlan.Sent(), "held ack released unsent")

	// detached interfaces do not hold back acks
	require.NoError(t, ifc.Transmit(ctx, ackFrame(t, 2000)))
	assert.Len(t, tc.mlan.Sent(), 1)

	ifc.Attach(ctx)
	require.NoError(t, ifc.Transmit(ctx, ackFrame(t, 3000)))
	assert.Len(t, tc.mlan.Sent(), 1)
	assert.Eventually(t, func() bool { return len(tc.mlan.Sent()) == 2 }, testWait, testTick)
}

func TestScanState(t *testing.T) {
	tb := newTestBed(t, testFlags())
	ah, _ := tb.addAdapter(t, "if-scan")
	ifc, err := ah.GetInterface("mlan0")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ifc.StartScan(ctx))
	assert.True(t, ifc.IsScanPending())
	assert.Error(t, ifc.StartScan(ctx))
	ifc.ScanDone(ctx)
	assert.False(t, ifc.IsScanPending())
	require.NoError(t, ifc.StartScan(ctx))

	ifc.ScanTimeout(ctx)
	assert.False(t, ifc.IsScanPending())
	assert.Equal(t, cmn.HwReady, ah.GetHwStatus(), "healthy firmware is not recovered")
}
