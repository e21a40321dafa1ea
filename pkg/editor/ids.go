package editor

import (
	"strconv"
	"sync"
	"time"

	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

// IDGenerator hands out millisecond-timestamp ids that are strictly increasing
// even when several are requested within the same millisecond.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator creates a generator backed by the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh id.
func (g *IDGenerator) Next() models.EntityID {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return models.EntityID(strconv.FormatInt(id, 10))
}
