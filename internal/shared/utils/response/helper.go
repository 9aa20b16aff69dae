package response

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"seatreserve/pkg/errs"
)

func RespondJSON(c *gin.Context, status string, code int, message string, data interface{}, errors interface{}) {
	c.JSON(code, StandardApiResponse{
		Status:     status,
		StatusCode: code,
		Message:    message,
		Data:       data,
		Errors:     errors,
	})
}

// RespondError maps a typed error to its HTTP status. Conflicts carry the
// observed seat states in the data field so clients can refresh exactly those seats.
func RespondError(c *gin.Context, message string, err error) {
	code := StatusFor(err)

	var data interface{}
	if seats := errs.ConflictSeats(err); len(seats) > 0 {
		data = gin.H{"seats": seats}
	}

	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, StandardApiResponse{
		Status:     "error",
		StatusCode: code,
		Message:    message,
		ErrorKind:  string(errs.KindOf(err)),
		Data:       data,
		Errors:     err.Error(),
	})
}

// RespondBindError reports request binding failures field by field
func RespondBindError(c *gin.Context, err error) {
	RespondJSON(c, "error", http.StatusBadRequest, "Invalid request data", nil, ValidationErrors(err))
}

// StatusFor returns the HTTP status for an error kind
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ValidationErrors flattens validator errors into field -> rule
func ValidationErrors(err error) interface{} {
	var verrs validator.ValidationErrors
	if !errs.As(err, &verrs) {
		return err.Error()
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[strings.ToLower(fe.Field())] = rule
	}
	return out
}
