package models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/declaro/internal/common"
	"github.com/go-playground/validator/v10"
)

var (
	phoneRe    = regexp.MustCompile(`^\+228[0-9]{8}$`)
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)
)

const passwordSpecials = "@$!%*?&"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	custom := map[string]validator.Func{
		"tgphone": func(fl validator.FieldLevel) bool {
			return phoneRe.MatchString(fl.Field().String())
		},
		"username": func(fl validator.FieldLevel) bool {
			return usernameRe.MatchString(fl.Field().String())
		},
		"strongpassword": func(fl validator.FieldLevel) bool {
			return StrongPassword(fl.Field().String())
		},
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validation: %v", tag, err))
		}
	}
	return v
}

// StrongPassword requires 8+ characters with upper, lower, digit and one of
// @$!%*?&.
func StrongPassword(pw string) bool {
	if len([]rune(pw)) < 8 {
		return false
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	return upper && lower && digit && special
}

// NormalizePhone drops all whitespace.
func NormalizePhone(p string) string {
	return strings.Join(strings.Fields(p), "")
}

func trim(s string) string { return strings.TrimSpace(s) }

// ValidationError carries one user-facing message per offending field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return common.ErrValidation }

// Validate runs struct validation and translates failures into a
// *ValidationError.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	ve := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		if _, seen := ve.Fields[fe.Field()]; !seen {
			ve.Fields[fe.Field()] = message(fe)
		}
	}
	return ve
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "champ obligatoire"
	case "min":
		return fmt.Sprintf("au moins %s caractères", fe.Param())
	case "max":
		return fmt.Sprintf("au plus %s caractères", fe.Param())
	case "len":
		return fmt.Sprintf("exactement %s caractères", fe.Param())
	case "numeric":
		return "chiffres uniquement"
	case "email":
		return "adresse email invalide"
	case "oneof":
		return "valeur non autorisée"
	case "base64":
		return "contenu de fichier invalide"
	case "tgphone":
		return "numéro invalide (format +228XXXXXXXX)"
	case "username":
		return "3 à 50 caractères: lettres, chiffres ou _"
	case "strongpassword":
		return "8 caractères minimum avec majuscule, minuscule, chiffre et caractère spécial (@$!%*?&)"
	default:
		return "valeur invalide"
	}
}
