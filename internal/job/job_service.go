package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/joshu-sajeev/profilejobs/common"
	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/dispatch"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
)

type JobService struct {
	records    RecordReaderInterface
	dispatcher DispatcherInterface
}

func NewJobService(records RecordReaderInterface, dispatcher DispatcherInterface) *JobService {
	return &JobService{records: records, dispatcher: dispatcher}
}

var _ JobServiceInterface = (*JobService)(nil)

// DispatchJob validates the kind and its payload, then enqueues one job.
// It returns as soon as the broker accepted the job.
func (s *JobService) DispatchJob(ctx context.Context, req *dto.DispatchDTO) (*dto.DispatchResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if !slices.Contains(config.AllowedJobKinds, req.Kind) {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid job kind",
			map[string]any{
				"provided": req.Kind,
				"allowed":  config.AllowedJobKinds,
			},
		)
	}

	switch req.Kind {
	case config.JobKindThumbnail:
		if err := validateKwargs[dto.ThumbnailKwargs](req.Kwargs); err != nil {
			return nil, err
		}
	}

	jobID, err := s.dispatcher.Dispatch(ctx, req.Kind, req.Args, req.Kwargs)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrDispatchUnavailable):
			return nil, common.Errf(http.StatusServiceUnavailable, "job queue unavailable")
		case errors.Is(err, dispatch.ErrUnknownJobKind):
			return nil, common.Errf(http.StatusBadRequest, "%s", err.Error())
		default:
			return nil, common.Errf(http.StatusInternalServerError, "failed to dispatch job")
		}
	}

	return &dto.DispatchResponseDTO{JobID: jobID}, nil
}

// GetJob returns the tracked record for jobID.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*dto.JobRecordResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	rec, err := s.records.Get(ctx, jobID)
	if err != nil {
		return nil, mapReadError(err, "failed to get job")
	}

	resp := ToRecordResponseDTO(rec)
	return &resp, nil
}

// ListJobs returns records newest first, filtered by status and kind.
func (s *JobService) ListJobs(ctx context.Context, query dto.JobListQuery) ([]dto.JobRecordResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	recs, err := s.records.List(ctx, tracking.Filter{
		Status: config.JobStatus(query.Status),
		Kind:   query.Kind,
		Limit:  query.Limit,
	})
	if err != nil {
		return nil, mapReadError(err, "failed to list jobs")
	}

	dtos := make([]dto.JobRecordResponseDTO, len(recs))
	for i := range recs {
		dtos[i] = ToRecordResponseDTO(&recs[i])
	}
	return dtos, nil
}

func mapReadError(err error, fallback string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	case errors.Is(err, tracking.ErrJobNotFound):
		return common.Errf(http.StatusNotFound, "job not found")
	case errors.Is(err, tracking.ErrInvalidJobID):
		return common.Errf(http.StatusBadRequest, "invalid job id")
	default:
		return common.Errf(http.StatusInternalServerError, "%s", fallback)
	}
}

func ToRecordResponseDTO(rec *models.JobRecord) dto.JobRecordResponseDTO {
	return dto.JobRecordResponseDTO{
		JobID:       rec.JobID,
		JobKind:     rec.JobKind,
		Status:      string(rec.Status),
		Args:        rawOrNil(rec.Args),
		Kwargs:      rawOrNil(rec.Kwargs),
		Result:      rawOrNil(rec.Result),
		ErrorDetail: rec.ErrorDetail,
		Traceback:   rec.Traceback,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
