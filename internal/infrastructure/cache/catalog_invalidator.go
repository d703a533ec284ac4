package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// CatalogChannel is the NOTIFY channel raised by the catalog triggers
const CatalogChannel = "catalog_changed"

// Invalidator drops cached entries named by a notification payload
// (implemented by cached.Catalog)
type Invalidator interface {
	Invalidate(ctx context.Context, payload string) error
}

// CatalogInvalidator keeps catalog caches of several instances in sync.
// It uses PostgreSQL LISTEN/NOTIFY for instant invalidation, and clears the
// whole cache after a reconnect (notifications may have been missed) and
// every refreshTTL as a fallback.
type CatalogInvalidator struct {
	mu         sync.Mutex
	target     Invalidator
	connStr    string
	refreshTTL time.Duration
	logger     *slog.Logger
	listener   *pq.Listener
	stopCh     chan struct{}
	stopped    bool
	handled    uint64
	lastEvent  time.Time
}

// NewCatalogInvalidator creates a new CatalogInvalidator.
// connStr is the PostgreSQL connection string for LISTEN/NOTIFY.
// refreshTTL is the fallback interval for clearing the cache (0 disables it).
func NewCatalogInvalidator(target Invalidator, connStr string, refreshTTL time.Duration, logger *slog.Logger) *CatalogInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogInvalidator{
		target:     target,
		connStr:    connStr,
		refreshTTL: refreshTTL,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start starts listening for catalog notifications
func (m *CatalogInvalidator) Start(ctx context.Context) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			m.logger.Warn("catalog listener problem", slog.Int("event", int(ev)), slog.Any("error", err))
		}
	}

	listener := pq.NewListener(m.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(CatalogChannel); err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", CatalogChannel, err)
	}

	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()

	go m.run(ctx, listener)
	return nil
}

// Stop stops listening and releases the connection
func (m *CatalogInvalidator) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}

// Handled returns the number of processed notifications and the time of the last one
func (m *CatalogInvalidator) Handled() (uint64, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handled, m.lastEvent
}

func (m *CatalogInvalidator) run(ctx context.Context, listener *pq.Listener) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	var refresh <-chan time.Time
	if m.refreshTTL > 0 {
		t := time.NewTicker(m.refreshTTL)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			m.handle(ctx, n)
		case <-refresh:
			m.handle(ctx, &pq.Notification{Channel: CatalogChannel})
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					m.logger.Warn("catalog listener ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

// handle applies one notification. A nil notification is sent by pq after
// a reconnect and clears everything.
func (m *CatalogInvalidator) handle(ctx context.Context, n *pq.Notification) {
	payload := ""
	if n != nil {
		payload = n.Extra
	}

	if err := m.target.Invalidate(ctx, payload); err != nil {
		m.logger.Warn("failed to invalidate catalog cache",
			slog.String("payload", payload),
			slog.Any("error", err))
		// unknown payloads fall back to a full clear
		if payload != "" {
			if err := m.target.Invalidate(ctx, ""); err != nil {
				m.logger.Error("failed to clear catalog cache", slog.Any("error", err))
			}
		}
	}

	m.mu.Lock()
	m.handled++
	m.lastEvent = time.Now()
	m.mu.Unlock()
}
