package metrics

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// CounterSample is one persisted counter value
type CounterSample struct {
	Family string            `json:"family"`
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and updates system gauges.
// Persistence is skipped when db is nil.
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	flushInterval time.Duration
	startTime     time.Time
	persisted     map[string]*prometheus.CounterVec

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		persisted: map[string]*prometheus.CounterVec{
			"serverbot_cycles_total":            m.CyclesTotal,
			"serverbot_notifications_total":     m.NotificationsTotal,
			"serverbot_profile_updates_total":   m.ProfileUpdatesTotal,
			"serverbot_upstream_requests_total": m.UpstreamRequestsTotal,
		},
		stopCh: make(chan struct{}),
	}

	if db == nil {
		return c, nil
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted values back onto the fresh counters
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var samples []CounterSample
		if err := json.Unmarshal(data, &samples); err != nil {
			return nil // Skip invalid data
		}

		for _, s := range samples {
			vec, ok := c.persisted[s.Family]
			if !ok || s.Value <= 0 {
				continue
			}
			counter, err := vec.GetMetricWith(s.Labels)
			if err != nil {
				continue // label set changed between versions
			}
			counter.Add(s.Value)
		}
		return nil
	})
}

// Snapshot returns the current values of all persisted counters
func (c *Collector) Snapshot() ([]CounterSample, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	var samples []CounterSample
	for _, mf := range families {
		if _, ok := c.persisted[mf.GetName()]; !ok || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, CounterSample{
				Family: mf.GetName(),
				Labels: labels,
				Value:  metric.GetCounter().GetValue(),
			})
		}
	}
	return samples, nil
}

// persistCounters saves current counter values to BoltDB
func (c *Collector) persistCounters() error {
	if c.db == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	samples, err := c.Snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(samples)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counters
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	c.collectSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics()
		}
	}
}

func (c *Collector) collectSystemMetrics() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
}
