package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/skydish/api/internal/payments"
	"github.com/skydish/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderCartEmpty is returned when submitting with no cart lines.
	ErrOrderCartEmpty = errors.New("order: cart is empty")
	// ErrOrderAddressNotFound indicates the address book entry does not exist for the user.
	ErrOrderAddressNotFound = errors.New("order: address not found")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderOutOfRange indicates the delivery address is beyond the configured route distance.
	ErrOrderOutOfRange = errors.New("order: out of delivery range")
	// ErrOrderAddressResolution indicates the geocoding or routing lookup failed.
	ErrOrderAddressResolution = errors.New("order: address resolution failed")
	// ErrOrderStatus indicates a transition was attempted from an illegal current status.
	ErrOrderStatus = errors.New("order: illegal status transition")
	// ErrOrderPaymentGateway wraps payment provider failures.
	ErrOrderPaymentGateway = errors.New("order: payment gateway error")
	// ErrOrderNotificationInvalid indicates an unverifiable or unmatched gateway callback.
	ErrOrderNotificationInvalid = errors.New("order: invalid payment notification")
	// ErrOrderConflict indicates a concurrent modification or duplicate.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: store unavailable")

	// ErrCartInvalidInput signals an invalid cart command.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound signals the dish, combo or cart line does not exist.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartItemUnavailable signals the dish or combo is not on sale.
	ErrCartItemUnavailable = errors.New("cart: item unavailable")
	// ErrCartUnavailable indicates the cart store is unreachable.
	ErrCartUnavailable = errors.New("cart: store unavailable")

	// ErrReportInvalidRange is returned for reversed or oversized report ranges.
	ErrReportInvalidRange = errors.New("report: invalid range")
)

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func mapCartRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartItemNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return err
}

func mapGatewayError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, payments.ErrNotificationInvalid):
		return fmt.Errorf("%w: %v", ErrOrderNotificationInvalid, err)
	case errors.Is(err, payments.ErrAlreadyPaid):
		return fmt.Errorf("%w: %v", ErrOrderStatus, err)
	}
	return fmt.Errorf("%w: %v", ErrOrderPaymentGateway, err)
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
