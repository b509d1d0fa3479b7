package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrStockInsufficient = errors.New("insufficient stock")
	ErrConcurrentUpdate  = errors.New("cart was modified concurrently")
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrStockInsufficient):
		return "stock_insufficient"
	case errors.Is(err, ErrConcurrentUpdate):
		return "conflict"
	default:
		return "error"
	}
}

func isBusinessError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrStockInsufficient)
}
