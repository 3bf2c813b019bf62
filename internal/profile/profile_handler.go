package profile

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/profilejobs/common"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/middleware"
)

// genericContentType is what clients send when they do not know the file
// type; such uploads are sniffed like ones without a header.
const genericContentType = "application/octet-stream"

type ProfileHandler struct {
	service ProfileServiceInterface
}

func NewProfileHandler(s ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: s}
}

var _ ProfileHandlerInterface = (*ProfileHandler)(nil)

// Register mounts the profile routes on r.
func (h *ProfileHandler) Register(r gin.IRoutes) {
	r.POST("/profiles", h.Create)
	r.GET("/profiles/:id", h.Get)
	r.PUT("/profiles/:id", h.Update)
	r.POST("/profiles/:id/avatar", h.UploadAvatar)
}

// Create handles POST /profiles and returns 201 with the saved profile and
// the thumbnail job id when an avatar was given.
func (h *ProfileHandler) Create(c *gin.Context) {
	var req dto.ProfileCreateDTO
	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	res, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, ToSaveResponseDTO(res))
}

// Update handles PUT /profiles/:id as a partial update.
func (h *ProfileHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req dto.ProfileUpdateDTO
	if !middleware.Bind(c, &req) {
		return
	}

	res, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ToSaveResponseDTO(res))
}

// UploadAvatar handles a multipart upload with the image in the "avatar" field.
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("avatar")
	if err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "avatar file is required"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "read avatar: %v", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxAvatarBytes+1))
	if err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "read avatar: %v", err))
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, genericContentType) {
		contentType = http.DetectContentType(data)
	}

	res, err := h.service.UploadAvatar(c.Request.Context(), id, fh.Filename, contentType, data)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ToSaveResponseDTO(res))
}

func (h *ProfileHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	resp, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id < 1 {
		c.Error(common.Errf(http.StatusBadRequest, "invalid ID"))
		return 0, false
	}
	return uint(id), true
}
