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

package recovery

import (
	"context"
	"fmt"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

//reset applies the reset primitive of the adapter's bus
func (rc *Coordinator) reset(ctx context.Context) error {
	switch rc.pBus.BusType() {
	case cmn.BusSDIO:
		return rc.resetInBand(ctx)
	case cmn.BusPCIe:
		if err := rc.pBus.ResetDevice(ctx); err != nil {
			return fmt.Errorf("%w: function level reset: %w", cmn.ErrResetFailed, busError(err))
		}
		return nil
	}
	logger.Debugw(ctx, "bus has no reset step - firmware is re-requested", log.Fields{"device-id": rc.deviceID,
		"bus": rc.pBus.BusType().String()})
	return nil
}

//resetInBand runs the SDIO firmware reset handshake
func (rc *Coordinator) resetInBand(ctx context.Context) error {
	regs := rc.pCard.Reset
	if err := rc.pBus.WriteRegister(ctx, regs.WakeReg, regs.WakeValue); err != nil {
		return fmt.Errorf("%w: wake: %w", cmn.ErrResetFailed, busError(err))
	}
	if err := rc.poll(ctx, regs.AckReg, func(v uint32) bool { return v&regs.AckMask != 0 }); err != nil {
		return fmt.Errorf("%w: no wake acknowledge: %w", cmn.ErrResetFailed, err)
	}
	if err := rc.pBus.WriteRegister(ctx, regs.ResetReg, regs.ResetVal); err != nil {
		return fmt.Errorf("%w: reset write: %w", cmn.ErrResetFailed, busError(err))
	}
	if err := rc.poll(ctx, regs.ResetReg, func(v uint32) bool { return v == 0 }); err != nil {
		return fmt.Errorf("%w: reset register not cleared: %w", cmn.ErrResetFailed, err)
	}
	logger.Infow(ctx, "in-band firmware reset done", log.Fields{"device-id": rc.deviceID})
	return nil
}

//poll reads aReg until aDone accepts its value or the poll budget is used up
func (rc *Coordinator) poll(ctx context.Context, aReg uint32, aDone func(uint32) bool) error {
	for try := 0; try < rc.cfg.ResetPollTries; try++ {
		val, err := rc.pBus.ReadRegister(ctx, aReg)
		if err != nil {
			return busError(err)
		}
		if aDone(val) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rc.cfg.ResetPollDelay):
		}
	}
	return fmt.Errorf("register 0x%x: %d polls", aReg, rc.cfg.ResetPollTries)
}

func busError(aErr error) error {
	return fmt.Errorf("%w: %v", cmn.ErrBus, aErr)
}
