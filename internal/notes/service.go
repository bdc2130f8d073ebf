// Package notes implements the note-taking features gated by the billing
// gateway: note creation counts against feature:notes:total and every edit
// against feature:notes:edit.
package notes

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"notemeter/internal/billing"
	"notemeter/internal/types"
)

// NoteRepo is the data access the service needs.
type NoteRepo interface {
	Create(ctx context.Context, note *types.Note) error
	GetByID(ctx context.Context, userID, id string) (*types.Note, error)
	ListByUser(ctx context.Context, userID string) ([]types.NoteListItem, error)
	Update(ctx context.Context, note *types.Note) error
	Delete(ctx context.Context, userID, id string) error
}

// Gateway is the entitlement surface the service consumes. *billing.Gateway
// satisfies it.
type Gateway interface {
	Check(ctx context.Context, subject types.Subject, feature types.FeatureName) (billing.Answer, error)
	Require(ctx context.Context, subject types.Subject, feature types.FeatureName) (billing.Answer, error)
	Report(ctx context.Context, answer billing.Answer, amount int64) error
	ReportCurrentCount(ctx context.Context, subject types.Subject, feature types.FeatureName, count int64)
}

// Service manages a user's notes.
type Service struct {
	repo    NoteRepo
	gateway Gateway
	newID   func() string
	logger  *slog.Logger
}

// NewService creates a Service. A nil logger selects slog.Default().
func NewService(repo NoteRepo, gateway Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		gateway: gateway,
		newID:   func() string { return uuid.New().String() },
		logger:  logger,
	}
}

// CanCreate reports whether the user may create another note.
func (s *Service) CanCreate(ctx context.Context, userID string) (billing.Answer, error) {
	return s.gateway.Check(ctx, types.SubjectForUser(userID), types.FeatureNotesTotal)
}

// CanEdit reports whether the user may edit the note. The note must exist
// and belong to the user.
func (s *Service) CanEdit(ctx context.Context, userID, id string) (*types.Note, billing.Answer, error) {
	note, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, billing.Answer{}, err
	}
	answer, err := s.gateway.Check(ctx, types.SubjectForUser(userID), types.FeatureNotesEdit)
	if err != nil {
		return nil, answer, err
	}
	return note, answer, nil
}

// Create inserts a note when the user is under the total-notes limit. The
// count is not reported here; List keeps it authoritative.
func (s *Service) Create(ctx context.Context, userID, title, body string) (*types.Note, error) {
	if _, err := s.gateway.Require(ctx, types.SubjectForUser(userID), types.FeatureNotesTotal); err != nil {
		return nil, err
	}

	note := &types.Note{
		ID:     s.newID(),
		UserID: userID,
		Title:  title,
		Body:   body,
	}
	if err := s.repo.Create(ctx, note); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "note created", "user_id", userID, "note_id", note.ID)
	return note, nil
}

// Edit updates an owned note when the user is under the edit limit and
// reports one edit once the update has committed.
func (s *Service) Edit(ctx context.Context, userID, id, title, body string) (*types.Note, error) {
	note, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	answer, err := s.gateway.Require(ctx, types.SubjectForUser(userID), types.FeatureNotesEdit)
	if err != nil {
		return nil, err
	}

	note.Title = title
	note.Body = body
	if err := s.repo.Update(ctx, note); err != nil {
		return nil, err
	}

	if err := s.gateway.Report(ctx, answer, 1); err != nil {
		s.logger.WarnContext(ctx, "edit not reported",
			"user_id", userID,
			"note_id", id,
			"error", err,
		)
	}
	return note, nil
}

// Get returns an owned note.
func (s *Service) Get(ctx context.Context, userID, id string) (*types.Note, error) {
	return s.repo.GetByID(ctx, userID, id)
}

// List returns the user's notes, most recently updated first, and resyncs
// the billed note total to the number returned.
func (s *Service) List(ctx context.Context, userID string) ([]types.NoteListItem, error) {
	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.gateway.ReportCurrentCount(ctx, types.SubjectForUser(userID), types.FeatureNotesTotal, int64(len(items)))
	return items, nil
}

// Delete removes an owned note and resyncs the note total.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "note deleted", "user_id", userID, "note_id", id)

	if _, err := s.List(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "note total not resynced after delete",
			"user_id", userID,
			"error", err,
		)
	}
	return nil
}

var _ Gateway = (*billing.Gateway)(nil)
