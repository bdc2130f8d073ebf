package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"notemeter/internal/types"
)

// NoteRepository provides data access for the notes table. Every query is
// scoped to the owning user; a note owned by someone else is reported as
// not found.
type NoteRepository struct {
	db DBTX
}

// NewNoteRepository creates a new NoteRepository.
func NewNoteRepository(db DBTX) *NoteRepository {
	return &NoteRepository{db: db}
}

const noteColumns = `id, user_id, title, body, created_at, updated_at`

func scanNote(row pgx.Row) (*types.Note, error) {
	var n types.Note
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Body,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func noteNotFound(id string) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundNote, "note not found", nil,
		map[string]any{"note_id": id})
}

// Create inserts note and fills its timestamps from the database.
func (r *NoteRepository) Create(ctx context.Context, note *types.Note) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO notes (id, user_id, title, body)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		note.ID,
		note.UserID,
		note.Title,
		note.Body,
	).Scan(&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create note", err)
	}
	return nil
}

// GetByID retrieves a note owned by userID.
func (r *NoteRepository) GetByID(ctx context.Context, userID, id string) (*types.Note, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = $1 AND user_id = $2`,
		id,
		userID,
	)

	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, noteNotFound(id)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve note", err)
	}
	return n, nil
}

// ListByUser returns the user's notes, most recently updated first.
func (r *NoteRepository) ListByUser(ctx context.Context, userID string) ([]types.NoteListItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title FROM notes WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query notes", err)
	}
	defer rows.Close()

	items := []types.NoteListItem{}
	for rows.Next() {
		var item types.NoteListItem
		if err := rows.Scan(&item.ID, &item.Title); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan note row", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating note rows", err)
	}
	return items, nil
}

// Update writes the note's title and body and refreshes UpdatedAt.
func (r *NoteRepository) Update(ctx context.Context, note *types.Note) error {
	err := r.db.QueryRow(ctx,
		`UPDATE notes SET title = $1, body = $2, updated_at = NOW()
		 WHERE id = $3 AND user_id = $4
		 RETURNING updated_at`,
		note.Title,
		note.Body,
		note.ID,
		note.UserID,
	).Scan(&note.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return noteNotFound(note.ID)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update note", err)
	}
	return nil
}

// Delete removes a note owned by userID.
func (r *NoteRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notes WHERE id = $1 AND user_id = $2`,
		id,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete note", err)
	}
	if tag.RowsAffected() == 0 {
		return noteNotFound(id)
	}
	return nil
}
