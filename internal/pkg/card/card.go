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

//Package card holds the per chip and bus capability table of the supported cards
package card

import (
	"fmt"
	"sort"
	"strings"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
)

// ResetRegs describes the SDIO in-band firmware reset handshake of a chip
type ResetRegs struct {
	WakeReg   uint32
	WakeValue uint32
	AckReg    uint32
	AckMask   uint32
	ResetReg  uint32
	ResetVal  uint32
}

// Info - capabilities of one chip on one bus
type Info struct {
	Chip         string
	Bus          cmn.BusType
	FwCombo      string
	FwWlanOnly   string
	FwReload     string
	SupportsVdll bool
	NeedsCalData bool
	CalData      string
	Reset        ResetRegs
	// SlewRateReg and PmicReg are optional, 0 means not present
	SlewRateReg   uint32
	SlewRateValue uint32
	PmicReg       uint32
	PmicValue     uint32
	AntennaMode   uint32
}

// key of the table: <chip>/<bus>
var capabilityTable = map[string]Info{
	"sd8987/sdio": {
		Chip:        "sd8987", Bus: cmn.BusSDIO,
		FwCombo:     "nxp/sdsd8987_combo.bin", FwWlanOnly: "nxp/sd8987_wlan.bin",
		Reset:       ResetRegs{WakeReg: 0x00, WakeValue: 0x02, AckReg: 0x5c, AckMask: 0x01, ResetReg: 0xee, ResetVal: 0x99},
		AntennaMode: 0x0303,
	},
	"sd8997/sdio": {
		Chip:         "sd8997", Bus: cmn.BusSDIO,
		FwCombo:      "nxp/sdsd8997_combo_v4.bin", FwWlanOnly: "nxp/sd8997_wlan_v4.bin",
		NeedsCalData: true, CalData: "nxp/WlanCalData_ext.conf",
		Reset:        ResetRegs{WakeReg: 0x00, WakeValue: 0x02, AckReg: 0x5c, AckMask: 0x01, ResetReg: 0xee, ResetVal: 0x99},
		SlewRateReg:  0x8000231c, SlewRateValue: 0x3,
		AntennaMode:  0x0303,
	},
	"sdiw416/sdio": {
		Chip:    "sdiw416", Bus: cmn.BusSDIO,
		FwCombo: "nxp/sdiw416_combo.bin", FwWlanOnly: "nxp/sdiw416_wlan.bin",
		Reset:   ResetRegs{WakeReg: 0x00, WakeValue: 0x02, AckReg: 0x5c, AckMask: 0x01, ResetReg: 0xee, ResetVal: 0x99},
		PmicReg: 0x80002f48, PmicValue: 0x1,
	},
	"sd9177/sdio": {
		Chip:         "sd9177", Bus: cmn.BusSDIO,
		FwCombo:      "nxp/sdsd9177_combo.bin", FwWlanOnly: "nxp/sd9177_wlan.bin", FwReload: "nxp/sd9177_wlan.bin",
		SupportsVdll: true,
		Reset:        ResetRegs{WakeReg: 0x00, WakeValue: 0x02, AckReg: 0x5c, AckMask: 0x01, ResetReg: 0x68, ResetVal: 0x99},
		AntennaMode:  0x0101,
	},
	"pcie8997/pcie": {
		Chip:        "pcie8997", Bus: cmn.BusPCIe,
		FwCombo:     "nxp/pcieuart8997_combo_v4.bin", FwWlanOnly: "nxp/pcie8997_wlan_v4.bin",
		AntennaMode: 0x0303,
	},
	"pcie9098/pcie": {
		Chip:         "pcie9098", Bus: cmn.BusPCIe,
		FwCombo:      "nxp/pcieuart9098_combo_v1.bin", FwWlanOnly: "nxp/pcie9098_wlan_v1.bin",
		SupportsVdll: true, NeedsCalData: true, CalData: "nxp/WlanCalData_9098.conf",
		AntennaMode:  0x0303,
	},
	"usb8997/usb": {
		Chip:    "usb8997", Bus: cmn.BusUSB,
		FwCombo: "nxp/usbusb8997_combo_v4.bin", FwWlanOnly: "nxp/usb8997_wlan_v4.bin",
	},
}

// Lookup returns the capabilities of the given chip on the given bus
func Lookup(aChip string, aBus cmn.BusType) (*Info, error) {
	info, ok := capabilityTable[aChip+"/"+aBus.String()]
	if !ok {
		return nil, fmt.Errorf("unsupported card %s on bus %s", aChip, aBus)
	}
	return &info, nil
}

// Supported lists all <chip>/<bus> combinations known to the driver
func Supported() []string {
	keys := make([]string, 0, len(capabilityTable))
	for k := range capabilityTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseBusType converts a bus name as given on the command line
func ParseBusType(aName string) (cmn.BusType, error) {
	switch strings.ToLower(aName) {
	case "sdio", "sd":
		return cmn.BusSDIO, nil
	case "pcie":
		return cmn.BusPCIe, nil
	case "usb":
		return cmn.BusUSB, nil
	}
	return cmn.BusSDIO, fmt.Errorf("unknown bus type %q", aName)
}

// FirmwareName picks the image for the given load configuration
func (i *Info) FirmwareName(aCfg cmn.CardConfig) string {
	if aCfg.Reload && i.FwReload != "" {
		return i.FwReload
	}
	if aCfg.SerialBoot {
		return i.FwWlanOnly
	}
	return i.FwCombo
}
