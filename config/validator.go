package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs struct validation plus cross-field checks
// and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	var details ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range validationErrors {
				details = append(details, ConfigError{
					Field:   fe.Namespace(),
					Message: formatValidationError(fe),
					Value:   fe.Value(),
				})
			}
		} else {
			return err
		}
	}

	// Cross-field checks the tag language cannot express.
	if cfg.Embedder.Provider == "openai" && cfg.Embedder.APIKey == "" {
		details = append(details, ConfigError{
			Field:   "Config.Embedder.APIKey",
			Message: "required when embedder.provider is openai",
			Value:   "",
		})
	}
	if cfg.Storage.Type == "badger" && cfg.Storage.Badger.Path == "" {
		details = append(details, ConfigError{
			Field:   "Config.Storage.Badger.Path",
			Message: "required when storage.type is badger",
			Value:   "",
		})
	}
	if cfg.Cache.Type == "redis" && cfg.Cache.Redis.Address == "" {
		details = append(details, ConfigError{
			Field:   "Config.Cache.Redis.Address",
			Message: "required when cache.type is redis",
			Value:   "",
		})
	}
	if cfg.Retrieval.PrecisionFiltering == nil {
		details = append(details, ConfigError{
			Field:   "Config.Retrieval.PrecisionFiltering",
			Message: "must be set explicitly; behavior-changing flags have no implicit default",
			Value:   nil,
		})
	}

	if len(details) > 0 {
		return details
	}
	return nil
}

// formatValidationError converts validator.FieldError to a readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
