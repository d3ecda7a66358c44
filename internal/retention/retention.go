package retention

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Store 为清理所需的存储操作，*storage.Storage 实现了它
type Store interface {
	DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteTurnRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Result 为一次清理删除的行数
type Result struct {
	AuditRecords int64
	TurnRecords  int64
}

type Collector struct {
	cfg   Config
	store Store
}

func NewCollector(store Store, cfg Config) (*Collector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Collector{store: store, cfg: cfg.withDefaults()}, nil
}

// Run 立即清理一次，然后按 Interval 周期清理，直到 ctx 结束
func (c *Collector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}

	if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 以 now 为基准删除超出保留期的记录
func (c *Collector) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	if c == nil || c.store == nil {
		return Result{}, errors.New("retention collector not initialized")
	}

	var (
		res   Result
		resMu sync.Mutex
	)
	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			n, err := c.drain(ctx, now.Add(-c.cfg.AuditKeep), c.store.DeleteAuditRecordsBeforeLimited)
			resMu.Lock()
			res.AuditRecords = n
			resMu.Unlock()
			return err
		},
		func(ctx context.Context) error {
			n, err := c.drain(ctx, now.Add(-c.cfg.TurnsKeep), c.store.DeleteTurnRecordsBeforeLimited)
			resMu.Lock()
			res.TurnRecords = n
			resMu.Unlock()
			return err
		},
	}

	workers := min(c.cfg.Workers, len(tasks))
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return res, ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			return res, err
		}
	}
	return res, nil
}

type deleteFunc func(ctx context.Context, before time.Time, limit int) (int64, error)

// drain 分批删除直到没有可删的行
func (c *Collector) drain(ctx context.Context, before time.Time, del deleteFunc) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		affected, err := del(ctx, before, c.cfg.BatchRows)
		if err != nil {
			return total, err
		}
		total += affected
		if affected == 0 {
			return total, nil
		}
		if err := c.sleepIdle(ctx); err != nil {
			return total, err
		}
	}
}

func (c *Collector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
