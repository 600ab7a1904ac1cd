package handler

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var skuPattern = regexp.MustCompile(`^[A-Za-z]{3}[0-9]{3}$`)

// validateSKU accepts three letters followed by three digits, e.g. BEB001
func validateSKU(fl validator.FieldLevel) bool {
	return skuPattern.MatchString(fl.Field().String())
}

// RegisterValidators installs the custom binding rules on gin's validator engine
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("sku", validateSKU)
}
