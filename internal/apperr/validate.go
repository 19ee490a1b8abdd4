package apperr

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports fields by their JSON names
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FromValidation converts validator errors into a single Validation error
func FromValidation(op, agentID string, err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(KindValidation, op, agentID, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fe.Field()+" must satisfy "+fe.Tag()+"="+fe.Param())
		} else {
			fields = append(fields, fe.Field()+" is "+fe.Tag())
		}
	}
	return New(KindValidation, op, agentID, "invalid request: "+strings.Join(fields, ", "))
}
