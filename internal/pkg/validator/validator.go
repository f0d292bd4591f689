package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// Source event ids come from payment providers and internal callers.
var sourceEventIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,200}$`)

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("credit_kind", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", "credit", "refund":
			return true
		}
		return false
	})

	_ = validate.RegisterValidation("source_event_id", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "" || sourceEventIDPattern.MatchString(v)
	})
}

// Validate validates a struct and returns field errors keyed by json name.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "This field is required"
		case "gt":
			out[field] = "Value must be greater than " + fe.Param()
		case "gte":
			out[field] = "Value must be at least " + fe.Param()
		case "lte":
			out[field] = "Value must be at most " + fe.Param()
		case "max":
			out[field] = "Value is too long (max: " + fe.Param() + ")"
		case "credit_kind":
			out[field] = "Invalid kind. Must be: credit or refund"
		case "source_event_id":
			out[field] = "Invalid source event id"
		default:
			out[field] = "Invalid value"
		}
	}
	return out
}
