package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"panierfacile-pricing/internal/scraper/retailers"
)

// ValidateRetailer accepts registered retailer identifiers in any case
func ValidateRetailer(fl validator.FieldLevel) bool {
	return retailers.Known(strings.ToLower(strings.TrimSpace(fl.Field().String())))
}

// RegisterRetailerValidators registers the retailer tag on v
func RegisterRetailerValidators(v *validator.Validate) {
	v.RegisterValidation("retailer", ValidateRetailer)
}

// New returns a validator with every custom tag registered
func New() *validator.Validate {
	v := validator.New()
	RegisterRetailerValidators(v)
	return v
}
