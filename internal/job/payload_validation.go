package job

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/profilejobs/common"
	"github.com/joshu-sajeev/profilejobs/middleware"
)

var validate = validator.New()

// validateKwargs checks the named arguments of a dispatch request against
// the struct T.
func validateKwargs[T any](kwargs map[string]any) error {
	raw, err := json.Marshal(kwargs)
	if err != nil {
		return common.Errf(http.StatusBadRequest, "invalid kwargs")
	}

	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Message: "invalid kwargs format",
		}
	}

	if err := validate.Struct(payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Message: "kwargs validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}

	return nil
}
