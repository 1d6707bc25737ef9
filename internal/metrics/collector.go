package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// LogSizer reports the size of the tracking log files
type LogSizer interface {
	Sizes() map[string]int64
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// ShadowCounters mirrors counter values so they survive restarts
type ShadowCounters struct {
	Events           map[string]float64 `json:"events"`
	LogWriteFailures map[string]float64 `json:"log_write_failures"`
	Dispatch         map[string]float64 `json:"dispatch"`
	HTTPRequests     map[string]float64 `json:"http_requests"`
	HTTPErrors       map[string]float64 `json:"http_errors"`
}

func newShadowCounters() ShadowCounters {
	return ShadowCounters{
		Events:           make(map[string]float64),
		LogWriteFailures: make(map[string]float64),
		Dispatch:         make(map[string]float64),
		HTTPRequests:     make(map[string]float64),
		HTTPErrors:       make(map[string]float64),
	}
}

// Collector records counters, persists them in BoltDB and refreshes system
// gauges. A nil *Collector is valid and records nothing.
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	logs          LogSizer
	flushInterval time.Duration
	startTime     time.Time

	shadow   ShadowCounters
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// OpenState opens the BoltDB file holding persisted counters
func OpenState(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics state %s: %w", path, err)
	}
	return db, nil
}

// NewCollector creates a collector. db may be nil to keep counters in memory only.
func NewCollector(db *bolt.DB, m *Metrics, logs LogSizer, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		logs:          logs,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow:        newShadowCounters(),
		stopCh:        make(chan struct{}),
	}

	if db != nil {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketMetrics)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics bucket: %w", err)
		}
		if err := c.loadCounters(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Metrics returns the underlying Prometheus metrics
func (c *Collector) Metrics() *Metrics {
	if c == nil {
		return nil
	}
	return c.metrics
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	if c == nil {
		return
	}
	c.collectSystemMetrics()
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the background tasks and persists final values
func (c *Collector) Stop() error {
	if c == nil {
		return nil
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()
	system := time.NewTicker(5 * time.Second)
	defer system.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-flush.C:
			c.persistCounters()
		case <-system.C:
			c.collectSystemMetrics()
		}
	}
}

// loadCounters restores persisted values into the Prometheus counters
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

		shadow := newShadowCounters()
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		for k, v := range shadow.Events {
			c.shadow.Events[k] = v
			c.metrics.EventsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.LogWriteFailures {
			c.shadow.LogWriteFailures[k] = v
			c.metrics.LogWriteFailuresTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.Dispatch {
			labels := splitLabelKey(k, 2)
			c.shadow.Dispatch[k] = v
			c.metrics.DispatchTotal.WithLabelValues(labels...).Add(v)
		}
		for k, v := range shadow.HTTPRequests {
			labels := splitLabelKey(k, 3)
			c.shadow.HTTPRequests[k] = v
			c.metrics.HTTPRequestsTotal.WithLabelValues(labels...).Add(v)
		}
		for k, v := range shadow.HTTPErrors {
			c.shadow.HTTPErrors[k] = v
			c.metrics.HTTPErrorsTotal.WithLabelValues(k).Add(v)
		}
		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	if c.db == nil {
		return nil
	}

	c.mu.Lock()
	data, err := json.Marshal(c.shadow)
	c.mu.Unlock()
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

// collectSystemMetrics refreshes gauges
func (c *Collector) collectSystemMetrics() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.db != nil {
		if info, err := os.Stat(c.db.Path()); err == nil {
			c.metrics.StateFileBytes.Set(float64(info.Size()))
		}
	}

	if c.logs != nil {
		for name, size := range c.logs.Sizes() {
			c.metrics.LogFileBytes.WithLabelValues(name).Set(float64(size))
		}
	}
}

// TrackEvent counts a tracking event written to its log
func (c *Collector) TrackEvent(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.shadow.Events[kind]++
	c.mu.Unlock()
	c.metrics.EventsTotal.WithLabelValues(kind).Inc()
}

// TrackLogWriteFailure counts an event that could not be written to log
func (c *Collector) TrackLogWriteFailure(log string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.shadow.LogWriteFailures[log]++
	c.mu.Unlock()
	c.metrics.LogWriteFailuresTotal.WithLabelValues(log).Inc()
}

// TrackDispatch counts one send attempt
func (c *Collector) TrackDispatch(driver, result string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.shadow.Dispatch[makeLabelKey(driver, result)]++
	c.mu.Unlock()
	c.metrics.DispatchTotal.WithLabelValues(driver, result).Inc()
}

// TrackHTTPRequest counts a served request
func (c *Collector) TrackHTTPRequest(method, path, status string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.shadow.HTTPRequests[makeLabelKey(method, path, status)]++
	c.mu.Unlock()
	c.metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackHTTPError counts an error response
func (c *Collector) TrackHTTPError(errorType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.shadow.HTTPErrors[errorType]++
	c.mu.Unlock()
	c.metrics.HTTPErrorsTotal.WithLabelValues(errorType).Inc()
}

// Label values are joined with a separator that cannot appear in a route pattern or status
func makeLabelKey(values ...string) string {
	return strings.Join(values, "|")
}

// splitLabelKey always returns n values so restored keys fit their CounterVec
func splitLabelKey(key string, n int) []string {
	parts := strings.SplitN(key, "|", n)
	for len(parts) < n {
		parts = append(parts, "")
	}
	return parts
}
