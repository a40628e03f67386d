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

//Package events delivers the driver notifications to user space
package events

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/opencord/voltha-lib-go/v7/pkg/events/eventif"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-protos/v5/go/voltha"
)

const (
	cEventObjectType = "WLAN"
	cMaxPayloadText  = 256
)

const (
	equipment = voltha.EventCategory_EQUIPMENT
	none      = voltha.EventSubCategory_NONE
)

// DeviceEventSender is the part of eventif.EventProxy the notifier needs
type DeviceEventSender interface {
	SendDeviceEvent(ctx context.Context, deviceEvent *voltha.DeviceEvent, category eventif.EventCategory,
		subCategory eventif.EventSubCategory, raisedTs int64) error
}

//ProxyNotifier sends every notification as voltha device event through the event proxy (kafka)
type ProxyNotifier struct {
	sender    DeviceEventSender
	adapterID string
	clock     cmn.Clock
}

//NewProxyNotifier returns a notifier sending through aSender, events carry aAdapterID as origin
func NewProxyNotifier(aSender DeviceEventSender, aAdapterID string) *ProxyNotifier {
	return &ProxyNotifier{sender: aSender, adapterID: aAdapterID, clock: cmn.SystemClock}
}

//SetClock replaces the source of the raised time stamp
func (pn *ProxyNotifier) SetClock(aClock cmn.Clock) {
	pn.clock = aClock
}

// Notify sends aEvent; delivery failures are only logged
func (pn *ProxyNotifier) Notify(ctx context.Context, aDeviceID string, aEvent string, aPayload []byte) {
	raisedTs := pn.clock().Unix()
	de := buildDeviceEvent(aDeviceID, pn.adapterID, aEvent, aPayload)
	if err := pn.sender.SendDeviceEvent(ctx, de, equipment, none, raisedTs); err != nil {
		logger.Warnw(ctx, "could not send device event", log.Fields{"device-id": aDeviceID, "event": aEvent,
			"error": err})
		return
	}
	logger.Debugw(ctx, "device event sent", log.Fields{"device-id": aDeviceID, "with-EventName": de.DeviceEventName})
}

//LogNotifier only logs the notifications, it is used when no event bus is configured
type LogNotifier struct{}

// Notify logs aEvent
func (LogNotifier) Notify(ctx context.Context, aDeviceID string, aEvent string, aPayload []byte) {
	logger.Infow(ctx, "driver notification", log.Fields{"device-id": aDeviceID, "event": aEvent,
		"payload": payloadText(aPayload)})
}

//FanOut passes every notification to all of its notifiers in order
type FanOut []cmn.Notifier

// Notify passes aEvent on
func (f FanOut) Notify(ctx context.Context, aDeviceID string, aEvent string, aPayload []byte) {
	for _, n := range f {
		n.Notify(ctx, aDeviceID, aEvent, aPayload)
	}
}

func buildDeviceEvent(aDeviceID string, aAdapterID string, aEvent string, aPayload []byte) *voltha.DeviceEvent {
	eventContext := make(map[string]string)
	eventContext["device-id"] = aDeviceID
	eventContext["adapter-id"] = aAdapterID
	eventContext["event"] = aEvent
	if len(aPayload) > 0 {
		eventContext["payload"] = payloadText(aPayload)
		eventContext["payload-length"] = strconv.Itoa(len(aPayload))
	}
	state, suffix := "Raised", "RAISE_EVENT"
	if isClearing(aEvent) {
		state, suffix = "Cleared", "CLEAR_EVENT"
	}
	return &voltha.DeviceEvent{
		ResourceId:      aDeviceID,
		DeviceEventName: fmt.Sprintf("%s_%s", aEvent, suffix),
		Description:     fmt.Sprintf("%s Event - %s - %s", cEventObjectType, aEvent, state),
		Context:         eventContext,
	}
}

//isClearing returns true for events reporting that a problem went away
func isClearing(aEvent string) bool {
	return aEvent == cmn.EventRecoverySucceeded || aEvent == cmn.EventFwReady
}

//payloadText returns printable payloads as text and binary ones in hex, both truncated
func payloadText(aPayload []byte) string {
	if len(aPayload) > cMaxPayloadText {
		aPayload = aPayload[:cMaxPayloadText]
	}
	if utf8.Valid(aPayload) {
		return string(aPayload)
	}
	return fmt.Sprintf("%x", aPayload)
}

