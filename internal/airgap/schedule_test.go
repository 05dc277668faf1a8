package airgap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/portable/internal/store"
)

func TestParseFrequency(t *testing.T) {
	from := time.Date(2026, 5, 6, 10, 30, 0, 0, time.UTC) // a Wednesday

	tests := []struct {
		freq    string
		want    time.Time
		wantErr bool
	}{
		{freq: "hourly", want: time.Date(2026, 5, 6, 11, 0, 0, 0, time.UTC)},
		{freq: "daily", want: time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC)},
		{freq: "weekly", want: time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)},
		{freq: "monthly", want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{freq: "*/15 * * * *", want: time.Date(2026, 5, 6, 10, 45, 0, 0, time.UTC)},
		{freq: "@every 2h", want: from.Add(2 * time.Hour)},
		{freq: "fortnightly", wantErr: true},
		{freq: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.freq, func(t *testing.T) {
			sched, err := ParseFrequency(tt.freq)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sched.Next(from))
		})
	}
}

func TestDefaultServices(t *testing.T) {
	c := DefaultServices()
	names := make([]string, len(c.Services))
	for i, s := range c.Services {
		names[i] = s.Name
	}
	assert.Equal(t, "ai-inference,auth,object-storage,dns,time-sync,content-cache", strings.Join(names, ","))

	fp := c.Footprint()
	assert.InDelta(t, 9.75, fp.CPU, 0.001)
	assert.Equal(t, 27008, fp.MemoryMB)
	assert.Equal(t, 812, fp.StorageGB)

	first := c.Instantiate()
	first[0].Status = store.ServiceRunning
	second := c.Instantiate()
	assert.Equal(t, store.ServiceStopped, second[0].Status, "instances must not share state")
}

func TestParseServicesRejects(t *testing.T) {
	tests := map[string]string{
		"bad version": "version: 2\nservices: [{name: a, replaces: b, data_type: c, port: 1, resources: {cpu: 1, memory_mb: 1}}]",
		"empty":       "version: 1\nservices: []",
		"duplicate":   "version: 1\nservices: [{name: a, replaces: b, data_type: c, port: 1, resources: {cpu: 1, memory_mb: 1}}, {name: a, replaces: b, data_type: c, port: 1, resources: {cpu: 1, memory_mb: 1}}]",
		"no replaces": "version: 1\nservices: [{name: a, data_type: c, port: 1, resources: {cpu: 1, memory_mb: 1}}]",
		"bad port":    "version: 1\nservices: [{name: a, replaces: b, data_type: c, port: 70000, resources: {cpu: 1, memory_mb: 1}}]",
		"no cpu":      "version: 1\nservices: [{name: a, replaces: b, data_type: c, port: 1, resources: {memory_mb: 1}}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseServices([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSchedulerSweep(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	due, err := mgr.Create(ctx, "tenant-a", dailyInput("due"))
	require.NoError(t, err)
	_, err = mgr.Enable(ctx, due.ID)
	require.NoError(t, err)

	disabled, err := mgr.Create(ctx, "tenant-a", dailyInput("disabled"))
	require.NoError(t, err)

	unscheduled, err := mgr.Create(ctx, "tenant-b", CreateInput{PlatformID: "manual", Mode: store.AirGapPartial})
	require.NoError(t, err)
	_, err = mgr.Enable(ctx, unscheduled.ID)
	require.NoError(t, err)

	sched, err := NewScheduler(mgr, "@every 1h", nil)
	require.NoError(t, err)

	// nothing is due yet
	n, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// jump past every daily schedule
	mgr.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	n, err = sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mgr.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.SyncCount)
	assert.True(t, got.SyncSchedule.NextSync.After(*got.LastSyncAt))

	for _, id := range []string{disabled.ID, unscheduled.ID} {
		got, err := mgr.Get(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, got.SyncCount, id)
	}

	// synced config is not due again right away
	n, err = sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSchedulerStartStop(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := NewScheduler(mgr, "not a spec", nil)
	assert.Error(t, err)

	sched, err := NewScheduler(mgr, "@every 1h", nil)
	require.NoError(t, err)
	sched.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sched.Stop(ctx))
}
