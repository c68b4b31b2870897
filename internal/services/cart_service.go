package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/platform/textutil"
	"github.com/skydish/api/internal/repositories"
)

const maxFlavorRunes = 50

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Catalog     repositories.CatalogReader
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	repo       repositories.CartRepository
	catalog    repositories.CatalogReader
	unitOfWork repositories.UnitOfWork
	newID      func() string
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog reader is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:       deps.Repository,
		catalog:    deps.Catalog,
		unitOfWork: unit,
		newID:      idGen,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

func (s *cartService) ListCart(ctx context.Context, userID string) (CartView, error) {
	userID = resolveUserID(ctx, userID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	lines, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return CartView{}, mapCartRepositoryError(err)
	}
	return newCartView(userID, lines), nil
}

// AddItem increments a matching line or snapshots the catalog item into a new line.
func (s *cartService) AddItem(ctx context.Context, cmd CartItemCommand) (CartLine, error) {
	cmd, err := s.normaliseItemCommand(ctx, cmd)
	if err != nil {
		return CartLine{}, err
	}

	var result CartLine
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		lines, err := s.repo.ListByUser(txCtx, cmd.UserID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		if idx := findCartLine(lines, cmd.DishID, cmd.ComboID, cmd.Flavor); idx >= 0 {
			line := lines[idx]
			line.Quantity++
			if err := s.repo.UpdateQuantity(txCtx, line.ID, line.Quantity); err != nil {
				return mapCartRepositoryError(err)
			}
			result = line
			return nil
		}

		kind, id := domain.CatalogKindDish, cmd.DishID
		if cmd.ComboID != "" {
			kind, id = domain.CatalogKindCombo, cmd.ComboID
		}
		item, err := s.catalog.FindItem(txCtx, kind, id)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		if !item.Available {
			return fmt.Errorf("%w: %s %s", ErrCartItemUnavailable, kind, id)
		}

		line := CartLine{
			ID:         cartLineIDPrefix + s.newID(),
			UserID:     cmd.UserID,
			DishID:     cmd.DishID,
			ComboID:    cmd.ComboID,
			Flavor:     cmd.Flavor,
			Name:       item.Name,
			Image:      item.Image,
			UnitAmount: item.UnitAmount,
			Quantity:   1,
			CreatedAt:  s.now(),
		}
		if err := s.repo.Insert(txCtx, line); err != nil {
			return mapCartRepositoryError(err)
		}
		result = line
		return nil
	})
	if err != nil {
		return CartLine{}, err
	}
	return result, nil
}

// RemoveItem decrements a matching line and deletes it when the quantity reaches zero.
func (s *cartService) RemoveItem(ctx context.Context, cmd CartItemCommand) (CartView, error) {
	cmd, err := s.normaliseItemCommand(ctx, cmd)
	if err != nil {
		return CartView{}, err
	}

	var view CartView
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		lines, err := s.repo.ListByUser(txCtx, cmd.UserID)
		if err != nil {
			return mapCartRepositoryError(err)
		}
		idx := findCartLine(lines, cmd.DishID, cmd.ComboID, cmd.Flavor)
		if idx < 0 {
			return fmt.Errorf("%w: no matching cart line", ErrCartItemNotFound)
		}
		line := lines[idx]
		if line.Quantity <= 1 {
			if err := s.repo.Delete(txCtx, line.ID); err != nil {
				return mapCartRepositoryError(err)
			}
			lines = append(lines[:idx], lines[idx+1:]...)
		} else {
			lines[idx].Quantity--
			if err := s.repo.UpdateQuantity(txCtx, line.ID, lines[idx].Quantity); err != nil {
				return mapCartRepositoryError(err)
			}
		}
		view = newCartView(cmd.UserID, lines)
		return nil
	})
	if err != nil {
		return CartView{}, err
	}
	return view, nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = resolveUserID(ctx, userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.repo.DeleteByUser(ctx, userID); err != nil {
		return mapCartRepositoryError(err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{"userId": userID})
	return nil
}

func (s *cartService) normaliseItemCommand(ctx context.Context, cmd CartItemCommand) (CartItemCommand, error) {
	cmd.UserID = resolveUserID(ctx, cmd.UserID)
	cmd.DishID = strings.TrimSpace(cmd.DishID)
	cmd.ComboID = strings.TrimSpace(cmd.ComboID)
	cmd.Flavor = textutil.SanitizePlain(cmd.Flavor, maxFlavorRunes)

	if cmd.UserID == "" {
		return cmd, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if (cmd.DishID == "") == (cmd.ComboID == "") {
		return cmd, fmt.Errorf("%w: exactly one of dish id or combo id is required", ErrCartInvalidInput)
	}
	if cmd.ComboID != "" {
		cmd.Flavor = ""
	}
	return cmd, nil
}

func newCartView(userID string, lines []CartLine) CartView {
	view := CartView{UserID: userID, Lines: lines}
	if view.Lines == nil {
		view.Lines = []CartLine{}
	}
	for _, line := range lines {
		view.Total += line.Amount()
	}
	return view
}
