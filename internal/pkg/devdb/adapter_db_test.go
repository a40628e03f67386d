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

package devdb

import (
	"context"
	"errors"
	"testing"
	"time"

	cmn "github.com/nxp-imx/mwifiex-moal/internal/pkg/common"
	"github.com/nxp-imx/mwifiex-moal/internal/pkg/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsSurviveRestore(t *testing.T) {
	ctx := context.Background()
	kv := mocks.NewKVStore()
	db := NewAdapterDB(ctx, kv, "mlan0")

	require.NoError(t, db.UpdateSettings(ctx, func(s *Settings) { s.Country = "DE" }))
	require.NoError(t, db.UpdateSettings(ctx, func(s *Settings) { s.Recoveries++ }))

	restored := NewAdapterDB(ctx, kv, "mlan0")
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, Settings{Country: "DE", Recoveries: 1}, restored.GetSettings())

	other := NewAdapterDB(ctx, kv, "mlan1")
	require.NoError(t, other.Restore(ctx))
	assert.Equal(t, Settings{}, other.GetSettings())
}

func TestFwDumpSequence(t *testing.T) {
	ctx := context.Background()
	kv := mocks.NewKVStore()
	db := NewAdapterDB(ctx, kv, "mlan0")

	_, err := db.GetLastFwDump()
	assert.ErrorIs(t, err, ErrNoDump)

	taken := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := &cmn.DebugSnapshot{PendingCmdID: 0x00a9, CmdTimeoutCount: 2, FwHangReports: 1}
	seq, err := db.StoreFwDump(ctx, "fw-hang", []byte{0xde, 0xad}, snap, taken)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)
	seq, err = db.StoreFwDump(ctx, "cmd-timeout", []byte{0xbe, 0xef}, nil, taken.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), seq)
	assert.Equal(t, 2, kv.Keys())

	restored := NewAdapterDB(ctx, kv, "mlan0")
	require.NoError(t, restored.Restore(ctx))
	rec, err := restored.GetLastFwDump()
	require.NoError(t, err)
	assert.Equal(t, "cmd-timeout", rec.Reason)
	assert.Equal(t, []byte{0xbe, 0xef}, rec.Registers)
	assert.True(t, rec.TakenAt.Equal(taken.Add(time.Minute)))

	seq, err = restored.StoreFwDump(ctx, "fw-hang", nil, nil, taken)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), seq)
}

func TestWithoutBackend(t *testing.T) {
	ctx := context.Background()
	db := NewAdapterDB(ctx, nil, "mlan0")
	require.NoError(t, db.Restore(ctx))

	_, err := db.StoreFwDump(ctx, "fw-hang", []byte{0x01}, nil, time.Now())
	require.NoError(t, err)
	rec, err := db.GetLastFwDump()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, rec.Registers)

	require.NoError(t, db.DeleteAll(ctx))
	_, err = db.GetLastFwDump()
	assert.ErrorIs(t, err, ErrNoDump)
}

func TestBackendFailures(t *testing.T) {
	ctx := context.Background()
	kv := mocks.NewKVStore()
	db := NewAdapterDB(ctx, kv, "mlan0")

	kv.FailPut = errors.New("etcd unavailable")
	err := db.UpdateSettings(ctx, func(s *Settings) { s.Country = "US" })
	assert.ErrorIs(t, err, cmn.ErrIo)
	// the in-memory view is kept
	assert.Equal(t, "US", db.GetSettings().Country)

	kv.FailPut = nil
	kv.FailGet = errors.New("etcd unavailable")
	assert.ErrorIs(t, NewAdapterDB(ctx, kv, "mlan0").Restore(ctx), cmn.ErrIo)

	kv.FailGet = nil
	require.NoError(t, kv.Put(ctx, "mlan0/"+cKeySettings, []byte("{not json")))
	assert.ErrorIs(t, NewAdapterDB(ctx, kv, "mlan0").Restore(ctx), cmn.ErrIo)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	kv := mocks.NewKVStore()
	db := NewAdapterDB(ctx, kv, "mlan0")
	require.NoError(t, db.UpdateSettings(ctx, func(s *Settings) { s.Country = "JP" }))
	_, err := db.StoreFwDump(ctx, "fw-hang", []byte{0x01}, &cmn.DebugSnapshot{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, kv.Keys())

	require.NoError(t, db.DeleteAll(ctx))
	assert.Equal(t, 0, kv.Keys())
	assert.Equal(t, Settings{}, db.GetSettings())

	kv.FailDel = errors.New("etcd unavailable")
	assert.ErrorIs(t, db.DeleteAll(ctx), cmn.ErrIo)
}
