package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
)

func TestIntegrityScheduler_RunOnceReportsNegatives(t *testing.T) {
	// GIVEN: one healthy item and one with usage but no count
	s := newTestServer(t)
	s.postTx(t, "ok", "delivery", "3", "2024-01-01")
	s.postTx(t, "short", "usage", "2", "2024-01-02")

	sched := NewIntegrityScheduler(s.handler.Engine, zerolog.Nop())

	// WHEN: a sweep runs
	report := sched.RunOnce(context.Background())

	// THEN: only the negative item is reported, and the report is retained
	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Items)
	require.Len(t, report.Negative, 1)
	assert.Equal(t, inventory.ItemID("short"), report.Negative[0].ItemID)
	require.NotNil(t, sched.LastReport())
	assert.Len(t, sched.LastReport().Negative, 1)
}

func TestIntegrityScheduler_StartStop(t *testing.T) {
	mem := store.NewMemory()
	sched := NewIntegrityScheduler(inventory.NewEngine(mem, mem, zerolog.Nop()), zerolog.Nop())
	sched.CheckInterval = time.Hour

	sched.Start()
	assert.Eventually(t, func() bool { return sched.LastReport() != nil }, time.Second, 5*time.Millisecond)
	sched.Stop()
	sched.Stop() // idempotent

	sched.Start()
	sched.Stop()
}

func TestIntegrityScheduler_Disabled(t *testing.T) {
	mem := store.NewMemory()
	sched := NewIntegrityScheduler(inventory.NewEngine(mem, mem, zerolog.Nop()), zerolog.Nop())
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	assert.Nil(t, sched.LastReport())
}
