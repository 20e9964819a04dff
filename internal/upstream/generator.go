package upstream

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/livinlefevreloca/collector/internal/record"
	"github.com/livinlefevreloca/collector/internal/timefmt"
)

// Generator produces mock sample records for the data API
type Generator struct {
	step time.Duration
	now  func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator emitting one record per step. A nil clock
// uses time.Now; seed makes the values reproducible.
func NewGenerator(step time.Duration, now func() time.Time, seed uint64) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		step: step,
		now:  now,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Generate returns up to count records spaced by step starting at start.
// Generation stops at the first sample that would lie after the current time.
func (g *Generator) Generate(start time.Time, count int) []record.Record {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	records := make([]record.Record, 0, min(count, 1024))
	for i := 0; i < count; i++ {
		at := start.Add(time.Duration(i) * g.step)
		if at.After(now) {
			break
		}

		records = append(records, record.Record{
			ServiceDate: at.Format(timefmt.DateOnly),
			Timestamp:   timefmt.Format(at),
			Value:       1000 + g.rng.IntN(9000),
			Status:      record.Statuses[g.rng.IntN(len(record.Statuses))],
			ID:          fmt.Sprintf("DATA_%d_%s", i, at.Format(timefmt.IDStamp)),
		})
	}

	return records
}
