package escrow

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Audit actions, one per successful transition.
const (
	ActionCreated         = "escrow_created"
	ActionFunded          = "escrow_funded"
	ActionReleased        = "escrow_released"
	ActionDisputeOpened   = "dispute_opened"
	ActionDisputeResolved = "dispute_resolved"
	ActionExpired         = "escrow_expired"
)

// LogEntry is one line of the append-only escrow audit trail. Within a
// record, entries witness the total order of committed transitions.
type LogEntry struct {
	ID          string    `json:"id"`
	EscrowID    string    `json:"escrowId"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	PerformedBy string    `json:"performedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LogStore persists the audit trail.
type LogStore interface {
	Append(ctx context.Context, entry *LogEntry) error
	ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*LogEntry, error)
}

// MemoryLogStore is an in-memory audit trail for demo/development mode.
type MemoryLogStore struct {
	entries []*LogEntry
	mu      sync.RWMutex
}

// NewMemoryLogStore creates a new in-memory audit trail.
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

func (m *MemoryLogStore) Append(ctx context.Context, entry *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryLogStore) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*LogEntry
	for _, e := range m.entries {
		if e.EscrowID == escrowID {
			cp := *e
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// PostgresLogStore persists the audit trail in PostgreSQL.
type PostgresLogStore struct {
	db *sql.DB
}

// NewPostgresLogStore creates a new PostgreSQL-backed audit trail.
func NewPostgresLogStore(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

func (p *PostgresLogStore) Append(ctx context.Context, entry *LogEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_log (id, escrow_id, action, description, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.EscrowID, entry.Action, entry.Description, entry.PerformedBy, entry.CreatedAt,
	)
	return err
}

func (p *PostgresLogStore) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*LogEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, escrow_id, action, description, performed_by, created_at
		FROM escrow_log
		WHERE escrow_id = $1
		ORDER BY created_at ASC
		LIMIT $2`, escrowID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		if err := rows.Scan(&e.ID, &e.EscrowID, &e.Action, &e.Description, &e.PerformedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Compile-time assertions that both log stores implement LogStore.
var (
	_ LogStore = (*MemoryLogStore)(nil)
	_ LogStore = (*PostgresLogStore)(nil)
)
