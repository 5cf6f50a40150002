package gateway

import (
	"context"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/nightowlhq/aigate/internal/config"
	"github.com/nightowlhq/aigate/internal/memory"
	"github.com/nightowlhq/aigate/internal/store"
)

// Janitor runs the scheduled memory maintenance: every tenant is pruned to
// the configured retention window and entry cap once a day.
type Janitor struct {
	cfg      *config.Manager
	db       *store.DB
	memories *memory.Store
	schedule string
	cron     *rcron.Cron
}

const defaultJanitorSchedule = "0 30 4 * * *"

func NewJanitor(cfg *config.Manager, db *store.DB, memories *memory.Store) *Janitor {
	return &Janitor{
		cfg:      cfg,
		db:       db,
		memories: memories,
		schedule: defaultJanitorSchedule,
	}
}

func (j *Janitor) Start(ctx context.Context) error {
	j.cron = rcron.New(rcron.WithSeconds())
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce(ctx) }); err != nil {
		return err
	}
	j.cron.Start()
	log.Printf("[janitor] started, schedule %q", j.schedule)

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

func (j *Janitor) Stop() {
	if j.cron != nil {
		j.cron.Stop()
	}
}

// RunOnce prunes every known tenant. Per-tenant failures are logged and do
// not stop the sweep.
func (j *Janitor) RunOnce(ctx context.Context) {
	tenants, err := j.db.Tenants()
	if err != nil {
		log.Printf("[janitor] listing tenants: %v", err)
		return
	}

	c := j.cfg.Current()
	start := time.Now()
	var deleted int64
	for _, tenant := range tenants {
		n, err := j.memories.Prune(ctx, tenant, c.Memory.RetentionDays, c.Memory.MaxEntries)
		if err != nil {
			log.Printf("[janitor] pruning tenant %s: %v", tenant, err)
			continue
		}
		deleted += n
	}
	log.Printf("[janitor] pruned %d entries across %d tenants in %s", deleted, len(tenants), time.Since(start).Round(time.Millisecond))
}
