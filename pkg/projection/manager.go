// Package projection maintains read models derived from the event log.
//
// A projection tails the subscription hub and applies events in sequence
// order inside a transaction that also advances its durable watermark. On
// restart it resumes from the last committed watermark; delivery is
// at-least-once, so appliers are written idempotently. Every view is
// rebuildable by deleting its rows and watermark and replaying.
package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/subscription"
)

// Projection is one named read model.
type Projection struct {
	Name string
	// ReplayFrom is the first sequence the projection cares about.
	ReplayFrom uint64
	// Migrate creates the view's tables. Run once at manager start.
	Migrate func(ctx context.Context, db *sql.DB) error
	// Apply folds one event into the view. Runs inside the watermark
	// transaction and must be idempotent under redelivery.
	Apply func(ctx context.Context, tx *sql.Tx, e *events.Event) error
}

// Manager runs a writer goroutine per projection.
type Manager struct {
	db    *sql.DB
	hub   *subscription.Hub
	projs []*Projection
	log   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager persisting watermarks and views in db.
func NewManager(db *sql.DB, hub *subscription.Hub, log *slog.Logger, projs ...*Projection) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{db: db, hub: hub, projs: projs, log: log}
}

// Start migrates every view and begins tailing the hub.
func (m *Manager) Start(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS projection_watermarks (
		name     TEXT PRIMARY KEY,
		sequence BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("watermark migrate: %w", err)
	}
	for _, p := range m.projs {
		if p.Migrate != nil {
			if err := p.Migrate(ctx, m.db); err != nil {
				return fmt.Errorf("projection %s migrate: %w", p.Name, err)
			}
		}
	}

	ctx, m.cancel = context.WithCancel(ctx)
	for _, p := range m.projs {
		m.wg.Add(1)
		go m.run(ctx, p)
	}
	return nil
}

// Stop halts every projection writer after its current event.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Watermark returns the projection's last committed sequence.
func (m *Manager) Watermark(ctx context.Context, name string) (uint64, error) {
	var seq uint64
	err := m.db.QueryRowContext(ctx,
		`SELECT sequence FROM projection_watermarks WHERE name = $1`, name).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (m *Manager) run(ctx context.Context, p *Projection) {
	defer m.wg.Done()
	for {
		if err := m.tail(ctx, p); err == nil || ctx.Err() != nil {
			return
		} else if !errors.Is(err, subscription.ErrLagged) {
			m.log.Error("projection stopped, retrying", "projection", p.Name, "error", err)
		}
		// Lagged or failed: resubscribe from the committed watermark.
		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (m *Manager) tail(ctx context.Context, p *Projection) error {
	watermark, err := m.Watermark(ctx, p.Name)
	if err != nil {
		return err
	}
	from := watermark + 1
	if from < p.ReplayFrom {
		from = p.ReplayFrom
	}
	sub, err := m.hub.Subscribe(ctx, from)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events:
			if !ok {
				return sub.Err()
			}
			if err := m.applyOne(ctx, p, e); err != nil {
				return err
			}
		}
	}
}

// applyOne folds e and advances the watermark in one transaction.
func (m *Manager) applyOne(ctx context.Context, p *Projection, e *events.Event) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := p.Apply(ctx, tx, e); err != nil {
		return fmt.Errorf("projection %s at sequence %d: %w", p.Name, e.Sequence, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO projection_watermarks (name, sequence)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET sequence = $2`, p.Name, e.Sequence)
	if err != nil {
		return err
	}
	return tx.Commit()
}
