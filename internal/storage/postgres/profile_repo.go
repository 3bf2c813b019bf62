package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshu-sajeev/profilejobs/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrProfileNotFound is returned when no profile matches the given id.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileExists is returned when the user already owns a profile.
	ErrProfileExists = errors.New("profile already exists")
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w for user %d", ErrProfileExists, p.UserID)
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) Get(ctx context.Context, id uint) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// UpdateWithPrevious loads the profile inside a transaction, applies the
// change and saves it, returning both snapshots. On Postgres the row is
// locked for the duration so concurrent updates observe each other's
// previous value.
func (r *ProfileRepository) UpdateWithPrevious(
	ctx context.Context,
	id uint,
	apply func(p *models.Profile) error,
) (*models.Profile, *models.Profile, error) {
	var prev, next models.Profile

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		if err := q.First(&next, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProfileNotFound
			}
			return fmt.Errorf("load profile: %w", err)
		}
		prev = next

		if err := apply(&next); err != nil {
			return err
		}

		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return &prev, &next, nil
}

// UpdateThumbnail writes only the thumbnail column; it never passes through
// change detection, so it cannot trigger another dispatch.
func (r *ProfileRepository) UpdateThumbnail(ctx context.Context, id uint, key string) error {
	res := r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", id).
		Update("thumbnail", key)
	if res.Error != nil {
		return fmt.Errorf("update thumbnail: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}
