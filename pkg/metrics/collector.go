package metrics

import (
	"time"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/types"
)

// Collector polls the catalog on an interval and republishes its state as
// gauges. It exists because queue depth and location counts are properties
// of the catalog's current contents, not events anything emits as it
// happens — Sentinel and Scout report the counters and histograms directly.
type Collector struct {
	store  catalog.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over the given catalog.
func NewCollector(store catalog.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectQueueDepth()
	c.collectLocationCounts()
}

func (c *Collector) collectQueueDepth() {
	queued, err := c.store.ListJobsByStatus(types.JobQueued)
	if err != nil {
		return
	}
	QueueDepth.Set(float64(len(queued)))
}

func (c *Collector) collectLocationCounts() {
	roots, err := c.store.ListSourceRoots()
	if err != nil {
		return
	}

	counts := make(map[types.LocationStatus]int)
	for _, root := range roots {
		locs, err := c.store.ListLocations(root.ID)
		if err != nil {
			continue
		}
		for _, loc := range locs {
			counts[loc.Status]++
		}
	}

	for status, count := range counts {
		LocationsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
