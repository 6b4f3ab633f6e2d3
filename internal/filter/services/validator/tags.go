package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// noControl rejects strings holding C0 control bytes or DEL.
func noControl(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

func resourceType(fl validator.FieldLevel) bool {
	return domain.IsResourceType(fl.Field().String())
}

func actionType(fl validator.FieldLevel) bool {
	return domain.IsActionType(fl.Field().String())
}

// registerValidations installs the custom tags used on domain.CompiledRule
// and reports fields by their JSON names.
var registerValidations = func(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	for tag, fn := range map[string]validator.Func{
		"nocontrol":     noControl,
		"resource_type": resourceType,
		"action_type":   actionType,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
