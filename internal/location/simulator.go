package location

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/GeoPulse/geopulse-backend/config"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"go.uber.org/zap"
)

// SimulatorConfig holds the parameters of a simulated provider.
type SimulatorConfig struct {
	OriginLat  float64
	OriginLon  float64
	Interval   time.Duration
	BatchSize  int
	GrantDelay time.Duration
	// Grant is the state the permission prompt resolves to.
	Grant types.PermissionState
}

// SimulatorConfigFromApp derives simulator parameters from the application
// location configuration.
func SimulatorConfigFromApp(cfg config.LocationConfig) SimulatorConfig {
	return SimulatorConfig{
		OriginLat:  cfg.SimOriginLat,
		OriginLon:  cfg.SimOriginLon,
		Interval:   time.Duration(cfg.SimIntervalMillis) * time.Millisecond,
		BatchSize:  cfg.SimBatchSize,
		GrantDelay: time.Duration(cfg.SimGrantDelayMillis) * time.Millisecond,
		Grant:      types.PermissionState(cfg.SimAuthorizationGrant),
	}
}

// SimulatedProvider is a Provider that emits synthetic position batches on a
// ticker, random-walking from a configured origin, and models the permission
// handshake: a not-determined state resolves to the configured grant state
// after a delay. Delegate callbacks are serialized by an internal mutex.
type SimulatedProvider struct {
	log      *zap.SugaredLogger
	deviceID string
	cfg      SimulatorConfig
	rng      *rand.Rand

	mu       sync.Mutex
	delegate Delegate
	state    types.PermissionState
	lat      float64
	lon      float64
	stopCh   chan struct{}

	// cbMu serializes delegate callbacks so the adapter never sees two
	// callbacks concurrently.
	cbMu sync.Mutex
}

// NewSimulatedProvider creates a simulated provider for one device feed in
// the not-determined permission state.
func NewSimulatedProvider(deviceID string, cfg SimulatorConfig) *SimulatedProvider {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Grant == "" {
		cfg.Grant = types.PermissionAuthorizedWhenInUse
	}

	return &SimulatedProvider{
		log:      logger.GetLogger().Named("sim_provider").With("deviceID", deviceID),
		deviceID: deviceID,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		state:    types.PermissionNotDetermined,
		lat:      cfg.OriginLat,
		lon:      cfg.OriginLon,
	}
}

// SimulatedProviderFactory builds simulated providers from the application
// configuration, for injection into the feed manager.
func SimulatedProviderFactory(cfg config.LocationConfig) ProviderFactory {
	simCfg := SimulatorConfigFromApp(cfg)
	return func(deviceID string) Provider {
		return NewSimulatedProvider(deviceID, simCfg)
	}
}

// SetDelegate implements Provider.
func (s *SimulatedProvider) SetDelegate(d Delegate) {
	s.mu.Lock()
	s.delegate = d
	s.mu.Unlock()
}

// AuthorizationStatus implements Provider.
func (s *SimulatedProvider) AuthorizationStatus() types.PermissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestAuthorization implements Provider. A prompt in the not-determined
// state resolves to the configured grant state after the grant delay; once
// the state is determined further prompts are ignored, matching OS behavior.
func (s *SimulatedProvider) RequestAuthorization() {
	s.mu.Lock()
	if s.state != types.PermissionNotDetermined {
		s.mu.Unlock()
		s.log.Debugw("Ignoring authorization request in determined state", "state", s.state)
		return
	}
	grant := s.cfg.Grant
	s.mu.Unlock()

	time.AfterFunc(s.cfg.GrantDelay, func() {
		s.mu.Lock()
		s.state = grant
		d := s.delegate
		s.mu.Unlock()

		s.log.Infow("Authorization prompt resolved", "state", grant)
		if d != nil {
			s.cbMu.Lock()
			d.AuthorizationDidChange(grant)
			s.cbMu.Unlock()
		}
	})
}

// StartUpdates implements Provider. Starting without authorization surfaces
// a provider fault through the delegate.
func (s *SimulatedProvider) StartUpdates() {
	s.mu.Lock()
	if !s.state.IsAuthorized() {
		d := s.delegate
		state := s.state
		s.mu.Unlock()

		if d != nil {
			s.cbMu.Lock()
			d.UpdatesDidFail(fmt.Errorf("location updates requested in state %s", state))
			s.cbMu.Unlock()
		}
		return
	}

	if s.stopCh != nil {
		// Already running
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	go s.run(stopCh)
}

// StopUpdates implements Provider.
func (s *SimulatedProvider) StopUpdates() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()
}

func (s *SimulatedProvider) run(stopCh chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			batch := s.nextBatch()

			s.mu.Lock()
			d := s.delegate
			s.mu.Unlock()

			if d != nil {
				s.cbMu.Lock()
				d.LocationsDidUpdate(batch)
				s.cbMu.Unlock()
			}
		}
	}
}

// nextBatch advances the random walk and returns a batch ordered most recent
// first, matching the platform convention the first-sample policy assumes.
func (s *SimulatedProvider) nextBatch() []types.PositionSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	batch := make([]types.PositionSample, 0, s.cfg.BatchSize)

	for i := 0; i < s.cfg.BatchSize; i++ {
		// Roughly a few meters of jitter per step
		s.lat += (s.rng.Float64() - 0.5) * 0.0001
		s.lon += (s.rng.Float64() - 0.5) * 0.0001

		age := time.Duration(s.cfg.BatchSize-1-i) * 100 * time.Millisecond
		sample := types.PositionSample{
			DeviceID:  s.deviceID,
			Latitude:  s.lat,
			Longitude: s.lon,
			Accuracy:  5 + s.rng.Float64()*10,
			Timestamp: now.Add(-age),
		}
		// Prepend so the newest fix leads the batch
		batch = append([]types.PositionSample{sample}, batch...)
	}

	return batch
}
