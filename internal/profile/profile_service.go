package profile

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/profilejobs/common"
	"github.com/joshu-sajeev/profilejobs/internal/change"
	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/storage/blob"
)

const MaxAvatarBytes = 5 << 20

var allowedAvatarTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// UpdateResult is the outcome of a profile save. JobID is set when the save
// dispatched a thumbnail job. DispatchErr is set when the save committed but
// the job could not be dispatched; the save itself still succeeded.
type UpdateResult struct {
	Profile     *models.Profile
	JobID       string
	DispatchErr error
}

type ProfileService struct {
	repo       ProfileRepoInterface
	dispatcher Dispatcher
	blobs      blob.Store
	presignTTL time.Duration
	logger     *slog.Logger
	newName    func() string
}

func NewProfileService(repo ProfileRepoInterface, dispatcher Dispatcher, blobs blob.Store, presignTTL time.Duration, logger *slog.Logger) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{
		repo:       repo,
		dispatcher: dispatcher,
		blobs:      blobs,
		presignTTL: presignTTL,
		logger:     logger,
		newName:    uuid.NewString,
	}
}

var _ ProfileServiceInterface = (*ProfileService)(nil)

func (s *ProfileService) Create(ctx context.Context, req *dto.ProfileCreateDTO) (*UpdateResult, error) {
	p := &models.Profile{
		UserID:      req.UserID,
		PhoneNumber: req.PhoneNumber,
		Avatar:      req.Avatar,
		Bio:         req.Bio,
		Location:    req.Location,
		BirthDate:   req.BirthDate,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	return s.afterCommit(ctx, nil, p), nil
}

// Update applies the non-nil fields of req. The previous avatar is read in
// the same transaction as the write, and the thumbnail job is dispatched
// only after that transaction commits.
func (s *ProfileService) Update(ctx context.Context, id uint, req *dto.ProfileUpdateDTO) (*UpdateResult, error) {
	prev, next, err := s.repo.UpdateWithPrevious(ctx, id, func(p *models.Profile) error {
		if req.PhoneNumber != nil {
			p.PhoneNumber = *req.PhoneNumber
		}
		if req.Avatar != nil {
			p.Avatar = *req.Avatar
		}
		if req.Bio != nil {
			p.Bio = *req.Bio
		}
		if req.Location != nil {
			p.Location = *req.Location
		}
		if req.BirthDate != nil {
			p.BirthDate = req.BirthDate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.afterCommit(ctx, &prev.Avatar, next), nil
}

// UploadAvatar stores the image and points the profile at it.
func (s *ProfileService) UploadAvatar(ctx context.Context, id uint, filename, contentType string, data []byte) (*UpdateResult, error) {
	if len(data) == 0 {
		return nil, common.Errf(http.StatusBadRequest, "avatar is empty")
	}
	if len(data) > MaxAvatarBytes {
		return nil, common.Errf(http.StatusRequestEntityTooLarge, "avatar exceeds %d bytes", MaxAvatarBytes)
	}

	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if !slices.Contains(allowedAvatarTypes, contentType) {
		return nil, common.Errf(http.StatusUnsupportedMediaType, "unsupported avatar type %q", contentType)
	}

	// Make sure the profile exists before writing the object.
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}

	key := path.Join("avatars", s.newName()+strings.ToLower(path.Ext(filename)))
	ref, err := s.blobs.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store avatar: %w", err)
	}

	return s.Update(ctx, id, &dto.ProfileUpdateDTO{Avatar: &ref})
}

// Get returns the profile with short-lived URLs for its images.
func (s *ProfileService) Get(ctx context.Context, id uint) (*dto.ProfileResponseDTO, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := ToResponseDTO(p)
	resp.AvatarURL = s.presign(ctx, p.Avatar)
	resp.ThumbnailURL = s.presign(ctx, p.Thumbnail)
	return &resp, nil
}

func (s *ProfileService) afterCommit(ctx context.Context, prevAvatar *string, next *models.Profile) *UpdateResult {
	res := &UpdateResult{Profile: next}

	if !change.HasChanged(prevAvatar, next.Avatar) || next.Avatar == "" {
		return res
	}

	jobID, err := s.dispatcher.Dispatch(ctx, config.JobKindThumbnail, nil, map[string]any{"profile_id": next.ID})
	if err != nil {
		s.logger.Error("thumbnail dispatch failed after save",
			"profile_id", next.ID, "avatar", next.Avatar, "error", err)
		res.DispatchErr = err
		return res
	}

	s.logger.Info("thumbnail job dispatched", "profile_id", next.ID, "job_id", jobID)
	res.JobID = jobID
	return res
}

func (s *ProfileService) presign(ctx context.Context, key string) string {
	if key == "" || s.blobs == nil {
		return ""
	}
	u, err := s.blobs.PresignedURL(ctx, key, s.presignTTL)
	if err != nil {
		s.logger.Warn("presign failed", "key", key, "error", err)
		return ""
	}
	return u
}

func ToResponseDTO(p *models.Profile) dto.ProfileResponseDTO {
	return dto.ProfileResponseDTO{
		ID:          p.ID,
		UserID:      p.UserID,
		PhoneNumber: p.PhoneNumber,
		Avatar:      p.Avatar,
		Thumbnail:   p.Thumbnail,
		Bio:         p.Bio,
		Location:    p.Location,
		BirthDate:   p.BirthDate,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// ToSaveResponseDTO renders an UpdateResult for the HTTP layer.
func ToSaveResponseDTO(res *UpdateResult) dto.ProfileSaveResponseDTO {
	out := dto.ProfileSaveResponseDTO{
		Profile:      ToResponseDTO(res.Profile),
		ThumbnailJob: res.JobID,
	}
	if res.DispatchErr != nil {
		out.DispatchError = res.DispatchErr.Error()
	}
	return out
}
