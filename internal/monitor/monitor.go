// Package monitor watches catalog stock levels and mails the administrator
// when ingredients run low.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cron schedules, minute resolution.
const (
	CheckSchedule    = "0 * * * *"
	ReportSchedule   = "0 9 * * *"
	CriticalSchedule = "*/15 11-23 * * *"
)

// Store is the read side of the catalog the monitor needs.
// Satisfied by *database.Queries.
type Store interface {
	ListLowStockItems(ctx context.Context) ([]database.CatalogItem, error)
	ListItemsAtOrBelow(ctx context.Context, level int32) ([]database.CatalogItem, error)
	ListActiveCatalogItems(ctx context.Context) ([]database.CatalogItem, error)
}

// AlertSender delivers a low-stock alert. Satisfied by *notify.Notifier.
type AlertSender interface {
	LowStockAlert(ctx context.Context, items []database.CatalogItem) error
}

type Config struct {
	Cooldown      time.Duration
	CriticalLevel int32
	// Business hours are inclusive, in Location.
	OpenHour     int
	CloseHour    int
	Location     *time.Location
	InitialDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown:      6 * time.Hour,
		CriticalLevel: 5,
		OpenHour:      11,
		CloseHour:     23,
		Location:      time.UTC,
		InitialDelay:  5 * time.Second,
	}
}

// Summary is the stock overview shown on the admin dashboard.
type Summary struct {
	TotalItems      int            `json:"totalItems"`
	LowStockItems   int            `json:"lowStockItems"`
	CriticalItems   int            `json:"criticalItems"`
	OutOfStockItems int            `json:"outOfStockItems"`
	Categories      map[string]int `json:"categories"`
}

type StockMonitor struct {
	store  Store
	alerts AlertSender
	log    logrus.FieldLogger
	cfg    Config
	now    func() time.Time

	mu        sync.Mutex
	lastAlert time.Time

	trigger chan struct{}
	done    chan struct{}
}

func New(store Store, alerts AlertSender, log logrus.FieldLogger, cfg Config) *StockMonitor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &StockMonitor{
		store:   store,
		alerts:  alerts,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetClock replaces the monitor's time source.
func (m *StockMonitor) SetClock(now func() time.Time) {
	m.now = now
}

func (m *StockMonitor) LastAlert() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAlert
}

func (m *StockMonitor) SetLastAlert(t time.Time) {
	m.mu.Lock()
	m.lastAlert = t
	m.mu.Unlock()
}

// Check alerts on items at or below their threshold, at most once per cooldown.
// A failed send is logged and leaves the cooldown untouched, so the next
// sweep tries again. The AlertSender must report delivery, not queueing.
func (m *StockMonitor) Check(ctx context.Context) error {
	items, err := m.store.ListLowStockItems(ctx)
	if err != nil {
		return fmt.Errorf("list low stock items: %w", err)
	}
	if len(items) == 0 {
		m.log.Debug("all inventory items are above threshold")
		return nil
	}

	for _, it := range items {
		m.log.WithFields(logrus.Fields{
			"item":      it.Name,
			"stock":     it.Stock,
			"threshold": it.Threshold,
		}).Info("item below threshold")
	}

	now := m.now()
	m.mu.Lock()
	last := m.lastAlert
	m.mu.Unlock()

	if !last.IsZero() && now.Sub(last) <= m.cfg.Cooldown {
		m.log.WithField("next_alert_after", last.Add(m.cfg.Cooldown)).Info("low stock alert cooldown active")
		return nil
	}

	if err := m.alerts.LowStockAlert(ctx, items); err != nil {
		m.log.WithError(err).Error("send low stock alert")
		return nil
	}

	m.SetLastAlert(now)
	m.log.WithField("items", len(items)).Info("low stock alert sent")
	return nil
}

// CriticalCheck alerts on nearly empty items during business hours. It
// ignores the cooldown.
func (m *StockMonitor) CriticalCheck(ctx context.Context) error {
	if !m.inBusinessHours(m.now()) {
		return nil
	}
	items, err := m.store.ListItemsAtOrBelow(ctx, m.cfg.CriticalLevel)
	if err != nil {
		return fmt.Errorf("list critical items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	for _, it := range items {
		m.log.WithFields(logrus.Fields{"item": it.Name, "stock": it.Stock}).Warn("critical stock level")
	}
	if err := m.alerts.LowStockAlert(ctx, items); err != nil {
		m.log.WithError(err).Error("send critical stock alert")
	}
	return nil
}

// DailyReport logs every active item per category.
func (m *StockMonitor) DailyReport(ctx context.Context) error {
	items, err := m.store.ListActiveCatalogItems(ctx)
	if err != nil {
		return fmt.Errorf("list active items: %w", err)
	}

	var b strings.Builder
	b.WriteString("daily inventory report")
	for _, cat := range enum.Categories {
		fmt.Fprintf(&b, "\n%s:", strings.ToUpper(cat))
		for _, it := range items {
			if it.Category != cat {
				continue
			}
			status := "OK"
			if it.Stock <= it.Threshold {
				status = "LOW"
			}
			fmt.Fprintf(&b, "\n  %s: %d %s %s", it.Name, it.Stock, it.Unit, status)
		}
	}
	m.log.Info(b.String())
	return nil
}

func (m *StockMonitor) Summary(ctx context.Context) (Summary, error) {
	items, err := m.store.ListActiveCatalogItems(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list active items: %w", err)
	}
	s := Summary{TotalItems: len(items), Categories: make(map[string]int)}
	for _, it := range items {
		if it.Stock <= it.Threshold {
			s.LowStockItems++
		}
		if it.Stock <= m.cfg.CriticalLevel {
			s.CriticalItems++
		}
		if it.Stock == 0 {
			s.OutOfStockItems++
		}
		s.Categories[it.Category]++
	}
	return s, nil
}

// Trigger requests a Check from the running monitor without waiting for it.
// Requests coalesce while one is pending.
func (m *StockMonitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Start schedules the recurring jobs and returns. Jobs stop when ctx is done;
// Done is closed once the scheduler has shut down.
func (m *StockMonitor) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(m.cfg.Location),
		cron.WithLogger(cron.PrintfLogger(m.log)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(m.log))),
	)

	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{CheckSchedule, "hourly stock check", m.Check},
		{ReportSchedule, "daily stock report", m.DailyReport},
		{CriticalSchedule, "critical stock check", m.CriticalCheck},
	}
	for _, j := range jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() { m.runJob(ctx, j.name, j.run) }); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	c.Start()
	m.log.Info("stock monitoring started")

	go func() {
		defer close(m.done)
		initial := time.NewTimer(m.cfg.InitialDelay)
		defer initial.Stop()

		for {
			select {
			case <-ctx.Done():
				<-c.Stop().Done()
				m.log.Info("stock monitoring stopped")
				return
			case <-initial.C:
				m.runJob(ctx, "initial stock check", m.Check)
			case <-m.trigger:
				m.runJob(ctx, "triggered stock check", m.Check)
			}
		}
	}()
	return nil
}

func (m *StockMonitor) Done() <-chan struct{} {
	return m.done
}

func (m *StockMonitor) runJob(ctx context.Context, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		m.log.WithError(err).Errorf("%s failed", name)
	}
}

func (m *StockMonitor) inBusinessHours(t time.Time) bool {
	h := t.In(m.cfg.Location).Hour()
	return h >= m.cfg.OpenHour && h <= m.cfg.CloseHour
}
