package billing

import (
	"reflect"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// InitValidators registers the billing types with the validator.
// Decimals are validated as float64 so the numeric tags (gt, gte, lte...) apply to them.
func InitValidators(validate *validator.Validate, _ ut.Translator) {
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
}

func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}
