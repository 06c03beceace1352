package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/circulation-system/internal/circulation"
	"github.com/mmeshcher/circulation-system/internal/model"
	"github.com/mmeshcher/circulation-system/internal/repository"
	"github.com/mmeshcher/circulation-system/internal/validation"
)

const maxListItems = 500

// AddItem добавляет позицию в каталог; все экземпляры изначально доступны.
func (s *Service) AddItem(ctx context.Context, title, author, isbn string, totalCopies int) (*model.Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityItem, 0, "title is required")
	}

	if isbn != "" {
		if !validation.IsValidISBN(isbn) {
			return nil, circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityItem, 0, "invalid isbn")
		}
		isbn = validation.NormalizeISBN(isbn)
	}

	item := model.Item{
		Title:           title,
		Author:          strings.TrimSpace(author),
		ISBN:            isbn,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		CreatedAt:       s.clock(),
	}
	if err := circulation.ValidateItem(item); err != nil {
		return nil, err
	}

	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		return tx.CreateItem(ctx, &item)
	})
	if err != nil {
		return nil, err
	}

	return &item, nil
}

// GetItem возвращает позицию каталога.
func (s *Service) GetItem(ctx context.Context, itemID int64) (*model.Item, error) {
	var item *model.Item
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		var err error
		item, err = loadItem(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems возвращает действующие позиции каталога по возрастанию идентификатора.
func (s *Service) ListItems(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		var err error
		items, err = tx.ListItems(ctx, maxListItems)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SearchItems ищет действующие позиции по подстроке в названии, авторе или ISBN без учёта регистра.
// Пустой запрос равносилен ListItems.
func (s *Service) SearchItems(ctx context.Context, term string) ([]model.Item, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return s.ListItems(ctx)
	}

	var items []model.Item
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		var err error
		items, err = tx.SearchItems(ctx, term, maxListItems)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateItem заменяет библиографические данные позиции. Счётчики экземпляров не меняются.
func (s *Service) UpdateItem(ctx context.Context, itemID int64, title, author, isbn string) (*model.Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityItem, itemID, "title is required")
	}
	if isbn != "" {
		if !validation.IsValidISBN(isbn) {
			return nil, circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityItem, itemID, "invalid isbn")
		}
		isbn = validation.NormalizeISBN(isbn)
	}

	return s.updateItem(ctx, itemID, func(i *model.Item) error {
		i.Title = title
		i.Author = strings.TrimSpace(author)
		i.ISBN = isbn
		return nil
	})
}

// WithdrawItem списывает позицию из фонда. Запись остаётся ради истории выдач,
// но позиция больше не выдаётся и не попадает в каталог. Пока есть открытые выдачи,
// списание невозможно. Повторное списание ничего не меняет.
func (s *Service) WithdrawItem(ctx context.Context, itemID int64) (*model.Item, error) {
	return s.updateItem(ctx, itemID, func(i *model.Item) error {
		if i.AvailableCopies < i.TotalCopies {
			return circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityItem, itemID,
				fmt.Sprintf("%d copies are on loan", i.TotalCopies-i.AvailableCopies))
		}
		i.Withdrawn = true
		return nil
	})
}

func (s *Service) updateItem(ctx context.Context, itemID int64, apply func(i *model.Item) error) (*model.Item, error) {
	var item *model.Item
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		i, err := loadItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := apply(i); err != nil {
			return err
		}
		item = i
		return tx.SaveItem(ctx, i)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AdjustCopies добавляет (delta > 0) или списывает (delta < 0) экземпляры позиции.
// Выданный экземпляр списать нельзя, и в позиции всегда остаётся хотя бы один экземпляр.
func (s *Service) AdjustCopies(ctx context.Context, itemID int64, delta int) (*model.Item, error) {
	if delta == 0 {
		return nil, circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityItem, itemID, "delta must not be zero")
	}

	return s.updateItem(ctx, itemID, func(i *model.Item) error {
		if i.Withdrawn {
			return circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityItem, itemID, circulation.ReasonWithdrawn)
		}
		i.TotalCopies += delta
		i.AvailableCopies += delta
		return circulation.ValidateItem(*i)
	})
}

// RegisterPatron регистрирует активного читателя со сроком членства из политики.
// Нулевой borrowLimit заменяется лимитом по умолчанию.
func (s *Service) RegisterPatron(ctx context.Context, name, email string, borrowLimit int) (*model.Patron, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, circulation.Fail(circulation.ErrInvalidEntity, circulation.EntityPatron, 0, "name is required")
	}
	if borrowLimit == 0 {
		borrowLimit = s.policy.BorrowLimit
	}

	now := s.clock()
	patron := model.Patron{
		Name:        name,
		Email:       strings.TrimSpace(email),
		Active:      true,
		ExpiresAt:   now.Add(s.policy.MembershipPeriod),
		BorrowLimit: borrowLimit,
		CreatedAt:   now,
	}
	if err := circulation.ValidatePatron(patron); err != nil {
		return nil, err
	}

	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		return tx.CreatePatron(ctx, &patron)
	})
	if err != nil {
		return nil, err
	}

	return &patron, nil
}

// GetPatron возвращает читателя.
func (s *Service) GetPatron(ctx context.Context, patronID int64) (*model.Patron, error) {
	var patron *model.Patron
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		var err error
		patron, err = loadPatron(ctx, tx, patronID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return patron, nil
}

// RenewMembership продлевает членство от текущего момента и активирует читателя.
func (s *Service) RenewMembership(ctx context.Context, patronID int64) (*model.Patron, error) {
	now := s.clock()
	return s.updatePatron(ctx, patronID, func(p *model.Patron) {
		p.ExpiresAt = now.Add(s.policy.MembershipPeriod)
		p.Active = true
	})
}

// DeactivatePatron отключает читателя. Открытые выдачи остаются в силе.
func (s *Service) DeactivatePatron(ctx context.Context, patronID int64) (*model.Patron, error) {
	return s.updatePatron(ctx, patronID, func(p *model.Patron) {
		p.Active = false
	})
}

func (s *Service) updatePatron(ctx context.Context, patronID int64, apply func(p *model.Patron)) (*model.Patron, error) {
	var patron *model.Patron
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		p, err := loadPatron(ctx, tx, patronID)
		if err != nil {
			return err
		}
		apply(p)
		patron = p
		return tx.SavePatron(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return patron, nil
}
