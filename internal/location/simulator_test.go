package location

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GeoPulse/geopulse-backend/internal/events"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDelegate captures delegate callbacks for assertions.
type recordingDelegate struct {
	mu      sync.Mutex
	states  []types.PermissionState
	batches [][]types.PositionSample
	faults  []error
}

func (d *recordingDelegate) AuthorizationDidChange(state types.PermissionState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, state)
}

func (d *recordingDelegate) LocationsDidUpdate(samples []types.PositionSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, samples)
}

func (d *recordingDelegate) UpdatesDidFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, err)
}

func (d *recordingDelegate) stateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.states)
}

func (d *recordingDelegate) batchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func (d *recordingDelegate) faultCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.faults)
}

func testSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		OriginLat:  52.3676,
		OriginLon:  4.9041,
		Interval:   10 * time.Millisecond,
		BatchSize:  3,
		GrantDelay: 5 * time.Millisecond,
		Grant:      types.PermissionAuthorizedWhenInUse,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSimulatedProvider_PermissionHandshake(t *testing.T) {
	sim := NewSimulatedProvider("device-1", testSimulatorConfig())
	delegate := &recordingDelegate{}
	sim.SetDelegate(delegate)

	assert.Equal(t, types.PermissionNotDetermined, sim.AuthorizationStatus())

	sim.RequestAuthorization()
	waitFor(t, time.Second, func() bool { return delegate.stateCount() == 1 })

	assert.Equal(t, types.PermissionAuthorizedWhenInUse, sim.AuthorizationStatus())
	assert.Equal(t, types.PermissionAuthorizedWhenInUse, delegate.states[0])

	// A second prompt in a determined state does nothing
	sim.RequestAuthorization()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, delegate.stateCount())
}

func TestSimulatedProvider_DeniedGrant(t *testing.T) {
	cfg := testSimulatorConfig()
	cfg.Grant = types.PermissionDenied
	sim := NewSimulatedProvider("device-1", cfg)
	delegate := &recordingDelegate{}
	sim.SetDelegate(delegate)

	sim.RequestAuthorization()
	waitFor(t, time.Second, func() bool { return delegate.stateCount() == 1 })

	assert.Equal(t, types.PermissionDenied, sim.AuthorizationStatus())
}

func TestSimulatedProvider_EmitsBatches(t *testing.T) {
	sim := NewSimulatedProvider("device-1", testSimulatorConfig())
	delegate := &recordingDelegate{}
	sim.SetDelegate(delegate)

	sim.RequestAuthorization()
	waitFor(t, time.Second, func() bool { return sim.AuthorizationStatus().IsAuthorized() })

	sim.StartUpdates()
	defer sim.StopUpdates()

	waitFor(t, time.Second, func() bool { return delegate.batchCount() >= 2 })

	delegate.mu.Lock()
	batch := delegate.batches[0]
	delegate.mu.Unlock()

	require.Len(t, batch, 3)
	for _, sample := range batch {
		assert.Equal(t, "device-1", sample.DeviceID)
		assert.InDelta(t, 52.3676, sample.Latitude, 0.01)
		assert.InDelta(t, 4.9041, sample.Longitude, 0.01)
	}

	// Batches lead with the newest fix
	assert.False(t, batch[0].Timestamp.Before(batch[1].Timestamp))
	assert.False(t, batch[1].Timestamp.Before(batch[2].Timestamp))
}

func TestSimulatedProvider_StartWithoutAuthorization(t *testing.T) {
	sim := NewSimulatedProvider("device-1", testSimulatorConfig())
	delegate := &recordingDelegate{}
	sim.SetDelegate(delegate)

	sim.StartUpdates()

	assert.Equal(t, 1, delegate.faultCount())
	assert.Equal(t, 0, delegate.batchCount())
}

func TestSimulatedProvider_StopHaltsDelivery(t *testing.T) {
	sim := NewSimulatedProvider("device-1", testSimulatorConfig())
	delegate := &recordingDelegate{}
	sim.SetDelegate(delegate)

	sim.RequestAuthorization()
	waitFor(t, time.Second, func() bool { return sim.AuthorizationStatus().IsAuthorized() })

	sim.StartUpdates()
	waitFor(t, time.Second, func() bool { return delegate.batchCount() >= 1 })
	sim.StopUpdates()

	settled := delegate.batchCount()
	time.Sleep(50 * time.Millisecond)
	// Allow for one in-flight tick at stop time
	assert.LessOrEqual(t, delegate.batchCount(), settled+1)
}

func TestSimulatedProvider_AdapterEndToEnd(t *testing.T) {
	// Full handshake through the adapter: request, grant, samples flowing.
	sim := NewSimulatedProvider("device-1", testSimulatorConfig())
	publisher := events.NewMockPublisher()
	adapter := NewAdapter("device-1", sim, publisher)

	require.NoError(t, adapter.Start(context.Background()))
	waitFor(t, time.Second, func() bool { return adapter.Updating() })
	waitFor(t, time.Second, func() bool {
		return len(publisher.EventsOfType("device-1", types.EventTypeLocationUpdated)) >= 2
	})

	require.NoError(t, adapter.Stop(context.Background()))
}
