package ipc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoarinFerret/FocusWarden/internal/block"
	"github.com/SoarinFerret/FocusWarden/internal/emitter"
	"github.com/SoarinFerret/FocusWarden/internal/engine"
	"github.com/SoarinFerret/FocusWarden/internal/metrics"
	"github.com/SoarinFerret/FocusWarden/internal/state"
)

var now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *block.Registry) {
	t.Helper()
	blocks := block.NewRegistry(state.NewMemoryStore())
	eng, err := engine.NewEngine(engine.Options{Blocks: blocks})
	require.NoError(t, err)
	m := metrics.New()
	m.Warning()
	return &Manager{
		Engine:        eng,
		Metrics:       m,
		DetectorReady: func() bool { return true },
		EventStats:    func() emitter.Stats { return emitter.Stats{Connected: true} },
		Now:           func() time.Time { return now },
	}, blocks
}

func TestGetStatus(t *testing.T) {
	m, blocks := newTestManager(t)
	require.NoError(t, blocks.Save(context.Background(), block.NewRecord("intro-101", "eyes closed", time.Now(), 5*time.Minute)))

	reply, dberr := m.GetStatus()
	require.Nil(t, dberr)

	var status Status
	require.NoError(t, json.Unmarshal([]byte(reply), &status))
	assert.True(t, status.DetectorReady)
	assert.Equal(t, 1, status.BlockedVideos)
	assert.Zero(t, status.ActiveSessions)
	assert.Equal(t, int64(1), status.Metrics.Warnings)
	require.NotNil(t, status.Events)
	assert.True(t, status.Events.Connected)
}

func TestListSessionsEmpty(t *testing.T) {
	m, _ := newTestManager(t)
	reply, dberr := m.ListSessions()
	require.Nil(t, dberr)
	assert.Equal(t, "[]", reply)
}

func TestBlocks(t *testing.T) {
	m, blocks := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, blocks.Save(ctx, block.NewRecord("live", "mouth open", now, 5*time.Minute)))
	require.NoError(t, blocks.Save(ctx, block.NewRecord("old", "eyes closed", now.Add(-time.Hour), 5*time.Minute)))

	reply, dberr := m.ListBlocks()
	require.Nil(t, dberr)
	var infos []BlockInfo
	require.NoError(t, json.Unmarshal([]byte(reply), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "live", infos[0].VideoID)
	assert.Equal(t, (5 * time.Minute).Milliseconds(), infos[0].RemainingMS)
	assert.False(t, infos[0].Expired)
	assert.True(t, infos[1].Expired)

	reply, dberr = m.GetBlock("live")
	require.Nil(t, dberr)
	var info BlockInfo
	require.NoError(t, json.Unmarshal([]byte(reply), &info))
	assert.Equal(t, "mouth open", info.Reason)

	_, dberr = m.GetBlock("missing")
	require.NotNil(t, dberr)
	assert.Equal(t, ErrorNotFound, dberr.Name)
}
