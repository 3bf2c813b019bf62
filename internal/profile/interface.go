package profile

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
)

// ProfileRepoInterface defines the contract for profile persistence.
type ProfileRepoInterface interface {
	Create(ctx context.Context, p *models.Profile) error
	Get(ctx context.Context, id uint) (*models.Profile, error)
	UpdateWithPrevious(ctx context.Context, id uint, apply func(p *models.Profile) error) (*models.Profile, *models.Profile, error)
}

// Dispatcher hands a job to the execution facility.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, args []any, kwargs map[string]any) (string, error)
}

// ProfileServiceInterface defines the contract for profile business logic.
type ProfileServiceInterface interface {
	Create(ctx context.Context, req *dto.ProfileCreateDTO) (*UpdateResult, error)
	Update(ctx context.Context, id uint, req *dto.ProfileUpdateDTO) (*UpdateResult, error)
	UploadAvatar(ctx context.Context, id uint, filename, contentType string, data []byte) (*UpdateResult, error)
	Get(ctx context.Context, id uint) (*dto.ProfileResponseDTO, error)
}

// ProfileHandlerInterface defines the contract for HTTP request handlers.
type ProfileHandlerInterface interface {
	Create(c *gin.Context)
	Update(c *gin.Context)
	UploadAvatar(c *gin.Context)
	Get(c *gin.Context)
}
