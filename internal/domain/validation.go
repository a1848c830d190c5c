package domain

import "github.com/go-playground/validator/v10"

// validate is the package-level validator instance used for struct validation.
// Required-struct mode makes absent nested structs fail instead of silently
// passing zero values, matching the engine's no-fallback policy.
var validate = validator.New(validator.WithRequiredStructEnabled())
