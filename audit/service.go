// Package audit records region firings. Each firing is written to the
// region_firings table in batches, kept in a capped per-map list in the
// cache, counted, and published on the firing channel for live feeds.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/rmmvregion/cache"
	"github.com/kasuganosora/rmmvregion/game/world"
	"github.com/kasuganosora/rmmvregion/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// ChannelFirings carries one JSON Record per firing.
	ChannelFirings = "region:firings"
	// KeyTotal counts every firing recorded since the cache was created.
	KeyTotal = "region:firings:total"

	defaultLogSize   = 100
	defaultFlush     = 2 * time.Second
	defaultBatchSize = 100
	queueSize        = 1024
)

// LogKey is the cache list holding the newest firings of one map.
func LogKey(mapID int) string { return fmt.Sprintf("region:log:%d", mapID) }

// Record is the cached and published form of a firing.
type Record struct {
	TraceID   string    `json:"trace_id"`
	MapID     int       `json:"map_id"`
	EventID   int       `json:"event_id"`
	EventName string    `json:"event_name"`
	Kind      string    `json:"kind"`
	Region    int       `json:"region"`
	Target    int       `json:"target"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Tick      uint64    `json:"tick"`
	At        time.Time `json:"at"`
}

// Options tunes the background writer. Zero values use the defaults.
type Options struct {
	FlushInterval time.Duration
	BatchSize     int
	// LogSize caps each per-map list.
	LogSize int
}

// Service logs firings asynchronously in batches. db, c and ps may each be
// nil, which disables that sink.
type Service struct {
	db      *gorm.DB
	c       cache.Cache
	ps      cache.PubSub
	opts    Options
	ch      chan Record
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64
	logger  *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, c cache.Cache, ps cache.PubSub, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlush
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.LogSize <= 0 {
		opts.LogSize = defaultLogSize
	}
	svc := &Service{
		db:     db,
		c:      c,
		ps:     ps,
		opts:   opts,
		ch:     make(chan Record, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Observe enqueues a firing. It never blocks the room tick: when the queue
// is full the firing is dropped and counted. It satisfies world.Observer.
func (svc *Service) Observe(f world.RegionFiring) {
	rec := Record{
		TraceID:   uuid.NewString(),
		MapID:     f.MapID,
		EventID:   f.EventID,
		EventName: f.EventName,
		Kind:      f.Kind.String(),
		Region:    f.Region,
		Target:    f.Target,
		X:         f.X,
		Y:         f.Y,
		Tick:      f.Tick,
		At:        f.At,
	}
	select {
	case svc.ch <- rec:
	default:
		svc.dropped.Add(1)
		svc.logger.Warn("audit channel full, dropping firing",
			zap.Int("map_id", f.MapID), zap.Int("event_id", f.EventID))
	}
}

// Dropped returns the number of firings lost to a full queue.
func (svc *Service) Dropped() uint64 { return svc.dropped.Load() }

// Recent returns up to n of the newest cached firings of mapID, newest first.
func (svc *Service) Recent(ctx context.Context, mapID, n int) ([]Record, error) {
	if svc.c == nil || n <= 0 {
		return []Record{}, nil
	}
	raw, err := svc.c.LRange(ctx, LogKey(mapID), 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, s := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			svc.logger.Warn("skipping corrupt log entry", zap.Int("map_id", mapID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Total returns the firing counter, 0 when nothing has been counted.
func (svc *Service) Total(ctx context.Context) (int64, error) {
	if svc.c == nil {
		return 0, nil
	}
	s, err := svc.c.Get(ctx, KeyTotal)
	if cache.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("audit: read total: %w", err)
	}
	var n int64
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0, fmt.Errorf("audit: parse total %q: %w", s, err)
	}
	return n, nil
}

// Query returns stored firings of mapID, newest first. mapID 0 matches all
// maps.
func (svc *Service) Query(ctx context.Context, mapID, limit int) ([]model.RegionFiring, error) {
	if svc.db == nil {
		return []model.RegionFiring{}, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if mapID > 0 {
		q = q.Where("map_id = ?", mapID)
	}
	var rows []model.RegionFiring
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return rows, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopped.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, svc.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		svc.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			svc.mirror(rec)
			batch = append(batch, rec)
			if len(batch) >= svc.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case rec := <-svc.ch:
					svc.mirror(rec)
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

// mirror pushes rec into the cache log and the live channel right away, so
// feeds do not wait for the database batch.
func (svc *Service) mirror(rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		svc.logger.Error("encode firing", zap.Error(err))
		return
	}
	ctx := context.Background()
	if svc.c != nil {
		key := LogKey(rec.MapID)
		if err := svc.c.LPush(ctx, key, string(payload)); err != nil {
			svc.logger.Warn("firing log push failed", zap.String("key", key), zap.Error(err))
		} else if err := svc.c.LTrim(ctx, key, 0, int64(svc.opts.LogSize-1)); err != nil {
			svc.logger.Warn("firing log trim failed", zap.String("key", key), zap.Error(err))
		}
		if _, err := svc.c.Incr(ctx, KeyTotal); err != nil {
			svc.logger.Warn("firing counter failed", zap.Error(err))
		}
	}
	if svc.ps != nil {
		if err := svc.ps.Publish(ctx, ChannelFirings, string(payload)); err != nil {
			svc.logger.Warn("firing publish failed", zap.Error(err))
		}
	}
}

func (svc *Service) write(batch []Record) {
	if svc.db == nil {
		return
	}
	rows := make([]*model.RegionFiring, 0, len(batch))
	for _, rec := range batch {
		detail, _ := json.Marshal(map[string]interface{}{"event_name": rec.EventName, "tick": rec.Tick})
		rows = append(rows, &model.RegionFiring{
			TraceID:   rec.TraceID,
			MapID:     rec.MapID,
			EventID:   rec.EventID,
			Kind:      rec.Kind,
			RegionID:  rec.Region,
			Target:    rec.Target,
			X:         rec.X,
			Y:         rec.Y,
			Detail:    datatypes.JSON(detail),
			CreatedAt: rec.At,
		})
	}
	if err := svc.db.Create(&rows).Error; err != nil {
		svc.logger.Error("audit batch write failed", zap.Int("rows", len(rows)), zap.Error(err))
	}
}
