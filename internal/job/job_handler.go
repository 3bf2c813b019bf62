package job

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/profilejobs/common"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/middleware"
)

type JobHandler struct {
	service JobServiceInterface
}

func NewJobHandler(s JobServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// Register mounts the job routes on r.
func (h *JobHandler) Register(r gin.IRoutes) {
	r.POST("/jobs", h.Dispatch)
	r.GET("/jobs", h.List)
	r.GET("/jobs/:id", h.Get)
}

// Dispatch handles POST /jobs. It returns 202 with the job id; the job runs
// later on a worker.
func (h *JobHandler) Dispatch(c *gin.Context) {
	var req dto.DispatchDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.DispatchJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// Get handles GET /jobs/:id.
func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid job id"))
		return
	}

	resp, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List handles GET /jobs?status=&kind=&limit=.
func (h *JobHandler) List(c *gin.Context) {
	var query dto.JobListQuery
	if !middleware.BindQuery(c, &query) {
		return
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), query)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}
