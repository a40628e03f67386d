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

package tcpack

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/tevino/abool"
)

// Buffer is an outbound frame with a single owner; whoever holds it last calls Release
type Buffer struct {
	data     []byte
	released *abool.AtomicBool
}

// NewBuffer wraps aData, the buffer takes ownership of the slice
func NewBuffer(aData []byte) *Buffer {
	return &Buffer{data: aData, released: abool.New()}
}

// Bytes returns the frame
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the frame length
func (b *Buffer) Len() int {
	return len(b.data)
}

// Release gives the frame up; releasing twice is a no-op
func (b *Buffer) Release() {
	if b.released.SetToIf(false, true) {
		b.data = nil
	}
}

// IsReleased returns true after Release
func (b *Buffer) IsReleased() bool {
	return b.released.IsSet()
}

// FlowKey identifies one direction of a TCP connection
type FlowKey struct {
	SrcIP   [4]byte
	SrcPort uint16
	DstIP   [4]byte
	DstPort uint16
}

// String - Return the text representation of the flow
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", net.IP(k.SrcIP[:]), k.SrcPort, net.IP(k.DstIP[:]), k.DstPort)
}

// segmentInfo is the parsed view of a frame relevant for coalescing
type segmentInfo struct {
	key     FlowKey
	ack     uint32
	pureAck bool
}

// segmentParser decodes Ethernet/IPv4/TCP headers without allocating per frame; not safe for concurrent use
type segmentParser struct {
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newSegmentParser() *segmentParser {
	sp := &segmentParser{decoded: make([]gopacket.LayerType, 0, 4)}
	sp.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &sp.eth, &sp.ip4, &sp.tcp)
	return sp
}

//parse returns false if the frame is no IPv4/TCP segment
func (sp *segmentParser) parse(aData []byte) (segmentInfo, bool) {
	var info segmentInfo
	if err := sp.parser.DecodeLayers(aData, &sp.decoded); err != nil {
		// the TCP payload has no decoder registered
		if _, unsupported := err.(gopacket.UnsupportedLayerType); !unsupported {
			return info, false
		}
	}
	if len(sp.decoded) != 3 || sp.decoded[2] != layers.LayerTypeTCP {
		return info, false
	}
	if sp.ip4.Flags&layers.IPv4MoreFragments != 0 || sp.ip4.FragOffset != 0 {
		return info, false
	}
	copy(info.key.SrcIP[:], sp.ip4.SrcIP.To4())
	copy(info.key.DstIP[:], sp.ip4.DstIP.To4())
	info.key.SrcPort = uint16(sp.tcp.SrcPort)
	info.key.DstPort = uint16(sp.tcp.DstPort)
	info.ack = sp.tcp.Ack
	info.pureAck = sp.tcp.ACK && !sp.tcp.SYN && !sp.tcp.FIN && !sp.tcp.RST && !sp.tcp.PSH &&
		len(sp.tcp.Payload) == 0
	return info, true
}

// seqAfter compares 32-bit TCP sequence numbers modulo 2^32
func seqAfter(a uint32, b uint32) bool {
	return int32(a-b) > 0
}
