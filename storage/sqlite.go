package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"slotboard/domain"
)

// SQLite is a single-node slot store. Slot uniqueness is enforced by a unique
// index and every mutation runs in its own transaction.
type SQLite struct {
	db         *sql.DB
	totalSlots int
}

// OpenSQLite opens the database at dsn and applies the schema.
func OpenSQLite(dsn string, totalSlots int) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; sqlite serialises writes anyway
	db.SetMaxOpenConns(1)
	if err := NewMigrator(db).Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLite(db, totalSlots), nil
}

// NewSQLite wraps an already migrated database.
func NewSQLite(db *sql.DB, totalSlots int) *SQLite {
	if totalSlots <= 0 {
		totalSlots = domain.DefaultTotalSlots
	}
	return &SQLite{db: db, totalSlots: totalSlots}
}

// Close releases the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction failed: %w", err)
	}
	return nil
}

const selectInitiative = `SELECT id, title, status, rag, slot, team_id, team_name, owners FROM initiatives`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInitiative(row rowScanner) (domain.Initiative, error) {
	var (
		in               domain.Initiative
		status, rag      string
		slot             sql.NullInt64
		teamID, teamName string
		owners           string
	)
	if err := row.Scan(&in.ID, &in.Title, &status, &rag, &slot, &teamID, &teamName, &owners); err != nil {
		return domain.Initiative{}, err
	}
	in.Status = domain.Status(status)
	in.RAG = domain.RAG(rag)
	if slot.Valid {
		in.Slot = domain.IntPtr(int(slot.Int64))
	}
	if teamID != "" {
		in.Team = &domain.TeamRef{ID: teamID, Name: teamName}
	}
	if owners != "" && owners != "[]" {
		if err := json.Unmarshal([]byte(owners), &in.Owners); err != nil {
			return domain.Initiative{}, fmt.Errorf("initiative %s owners: %w", in.ID, err)
		}
	}
	return in, nil
}

func getInitiative(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Initiative, error) {
	in, err := scanInitiative(tx.QueryRowContext(ctx, selectInitiative+` WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Initiative{}, domain.ErrInitiativeNotFound
	}
	return in, err
}

func setSlot(ctx context.Context, tx *sql.Tx, tenantID, id string, slot int) error {
	var value any
	if slot > 0 {
		value = slot
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE initiatives SET slot = ?, updated_at = CURRENT_TIMESTAMP WHERE tenant_id = ? AND id = ?`,
		value, tenantID, id)
	return mapSQLiteError(err)
}

// FetchInitiatives retrieves all initiatives of a tenant.
func (s *SQLite) FetchInitiatives(ctx context.Context, tenantID string) ([]domain.Initiative, error) {
	rows, err := s.db.QueryContext(ctx, selectInitiative+` WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	initiatives := []domain.Initiative{}
	for rows.Next() {
		in, err := scanInitiative(rows)
		if err != nil {
			return nil, err
		}
		initiatives = append(initiatives, in)
	}
	return initiatives, rows.Err()
}

// UpsertInitiative writes an initiative including its slot. It is used for
// seeding.
func (s *SQLite) UpsertInitiative(ctx context.Context, tenantID string, in domain.Initiative) error {
	owners, err := json.Marshal(in.Owners)
	if err != nil {
		return err
	}
	if in.Owners == nil {
		owners = []byte("[]")
	}
	var slot any
	if in.Slotted() {
		if err := domain.ValidateSlot(in.SlotNumber(), s.totalSlots); err != nil {
			return err
		}
		slot = in.SlotNumber()
	}
	var teamID, teamName string
	if in.Team != nil {
		teamID, teamName = in.Team.ID, in.Team.Name
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO initiatives (tenant_id, id, title, status, rag, slot, team_id, team_name, owners)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			rag = excluded.rag,
			slot = excluded.slot,
			team_id = excluded.team_id,
			team_name = excluded.team_name,
			owners = excluded.owners,
			updated_at = CURRENT_TIMESTAMP`,
		tenantID, in.ID, in.Title, string(in.Status), string(in.RAG), slot, teamID, teamName, string(owners))
	return mapSQLiteError(err)
}

// Assign places an unslotted initiative into a free slot.
func (s *SQLite) Assign(ctx context.Context, tenantID, initiativeID string, slot int) error {
	if err := domain.ValidateSlot(slot, s.totalSlots); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		in, err := getInitiative(ctx, tx, tenantID, initiativeID)
		if err != nil {
			return err
		}
		if in.Slotted() {
			return domain.ErrAlreadySlotted
		}
		return setSlot(ctx, tx, tenantID, initiativeID, slot)
	})
}

// RemoveFromSlot returns a slotted initiative to the pool.
func (s *SQLite) RemoveFromSlot(ctx context.Context, tenantID, initiativeID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		in, err := getInitiative(ctx, tx, tenantID, initiativeID)
		if err != nil {
			return err
		}
		if !in.Slotted() {
			return domain.ErrNotSlotted
		}
		return setSlot(ctx, tx, tenantID, initiativeID, 0)
	})
}

// Swap moves the dragged initiative into targetSlot, exchanging slots with
// targetID when it is set. The dragged row is parked outside the board while
// the target moves so the unique index holds at every step.
func (s *SQLite) Swap(ctx context.Context, tenantID, draggedID string, targetSlot int, targetID string) (domain.SwapResult, error) {
	if err := domain.ValidateSlot(targetSlot, s.totalSlots); err != nil {
		return domain.SwapResult{}, err
	}
	if targetID != "" && targetID == draggedID {
		return domain.SwapResult{}, domain.ErrSameInitiative
	}
	var result domain.SwapResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		dragged, err := getInitiative(ctx, tx, tenantID, draggedID)
		if err != nil {
			return err
		}
		prev := dragged.SlotNumber()
		result.PreviousSlot = prev

		if targetID == "" {
			if prev != targetSlot {
				if err := setSlot(ctx, tx, tenantID, draggedID, targetSlot); err != nil {
					return err
				}
			}
			dragged.Slot = domain.IntPtr(targetSlot)
			result.Dragged = dragged
			return nil
		}

		target, err := getInitiative(ctx, tx, tenantID, targetID)
		if err != nil {
			return err
		}
		if target.SlotNumber() != targetSlot {
			return domain.ErrTargetMismatch
		}
		if err := setSlot(ctx, tx, tenantID, draggedID, 0); err != nil {
			return err
		}
		if err := setSlot(ctx, tx, tenantID, targetID, prev); err != nil {
			return err
		}
		if err := setSlot(ctx, tx, tenantID, draggedID, targetSlot); err != nil {
			return err
		}
		dragged.Slot = domain.IntPtr(targetSlot)
		target.Slot = nil
		if prev > 0 {
			target.Slot = domain.IntPtr(prev)
		}
		result.Dragged = dragged
		result.Target = &target
		return nil
	})
	if err != nil {
		return domain.SwapResult{}, err
	}
	return result, nil
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", domain.ErrSlotOccupied, err)
	}
	return err
}
