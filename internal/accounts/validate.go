package accounts

import (
	"errors"
	"sync"

	goplayvalidator "github.com/go-playground/validator/v10"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
)

var (
	validatorOnce sync.Once
	validatorInst *goplayvalidator.Validate
)

func structValidator() *goplayvalidator.Validate {
	validatorOnce.Do(func() {
		validatorInst = goplayvalidator.New()
	})
	return validatorInst
}

// Validate checks a against the binding contract in spec §4.1, collecting
// every violated rule rather than stopping at the first.
func Validate(a Account) []hosterrors.FieldError {
	var out []hosterrors.FieldError

	out = append(out, structFieldErrors("", a)...)

	if a.Proxy.Enabled {
		out = append(out, structFieldErrors("proxy.", a.Proxy)...)
	}

	if a.Translation.Enabled {
		out = append(out, structFieldErrors("translation.", a.Translation)...)
		if a.Translation.Engine != "google" && a.Translation.APIKey == "" {
			out = append(out, hosterrors.FieldError{
				Field:  "translation.apiKey",
				Reason: "apiKey is required when engine is not google",
			})
		}
	}

	return out
}

// structFieldErrors runs the go-playground validator over v (a struct
// value, never a pointer) and maps each violated tag into a FieldError
// prefixed with prefix.
func structFieldErrors(prefix string, v interface{}) []hosterrors.FieldError {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs goplayvalidator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []hosterrors.FieldError{{Field: prefix + "unknown", Reason: err.Error()}}
	}

	out := make([]hosterrors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, hosterrors.FieldError{
			Field:  prefix + lowerFirst(fe.Field()),
			Reason: reasonFor(fe),
		})
	}
	return out
}

func reasonFor(fe goplayvalidator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "exceeds maximum length of " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fe.Tag()
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
