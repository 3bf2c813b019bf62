package job

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
)

// RecordReaderInterface is the read side of the lifecycle recorder.
type RecordReaderInterface interface {
	Get(ctx context.Context, jobID string) (*models.JobRecord, error)
	List(ctx context.Context, filter tracking.Filter) ([]models.JobRecord, error)
}

// DispatcherInterface hands a job to the execution facility.
type DispatcherInterface interface {
	Dispatch(ctx context.Context, kind string, args []any, kwargs map[string]any) (string, error)
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	DispatchJob(ctx context.Context, req *dto.DispatchDTO) (*dto.DispatchResponseDTO, error)
	GetJob(ctx context.Context, jobID string) (*dto.JobRecordResponseDTO, error)
	ListJobs(ctx context.Context, query dto.JobListQuery) ([]dto.JobRecordResponseDTO, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Dispatch(c *gin.Context)
	Get(c *gin.Context)
	List(c *gin.Context)
}
