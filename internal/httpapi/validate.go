package httpapi

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("httpurl", validateHTTPURL) //nolint:errcheck
}

type checkPayload struct {
	TargetID string `json:"targetId" validate:"omitempty,max=128"`
	URL      string `json:"url" validate:"required,httpurl"`
}

// batchEntry is not validated per field; a bad entry is answered in its own
// result instead of failing the batch.
type batchEntry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type batchPayload struct {
	Targets []batchEntry `json:"targets" validate:"required,min=1,max=100"`
}

func validateHTTPURL(fl validator.FieldLevel) bool {
	return isValidHTTPURL(fl.Field().String())
}

func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, strings.ToLower(fe.Field())+" is required")
		case "httpurl":
			parts = append(parts, strings.ToLower(fe.Field())+" must be an absolute http(s) URL")
		default:
			parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}
