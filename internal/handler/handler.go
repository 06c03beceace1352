// Package handler содержит HTTP-обработчики API сервиса книговыдачи.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/circulation-system/internal/circulation"
	"github.com/mmeshcher/circulation-system/internal/middleware"
	"github.com/mmeshcher/circulation-system/internal/model"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Checkout(ctx context.Context, patronID, itemID int64) (*model.Loan, error)
	Renew(ctx context.Context, loanID int64) (*model.Loan, error)
	Return(ctx context.Context, loanID int64) (*model.ReturnResult, error)
	SettleFine(ctx context.Context, patronID, amountCents int64) (int64, error)
	Preview(ctx context.Context, loanID int64) (*model.Preview, error)
	GetLoan(ctx context.Context, loanID int64) (*model.Loan, error)
	ListPatronLoans(ctx context.Context, patronID int64) ([]model.Loan, error)

	AddItem(ctx context.Context, title, author, isbn string, totalCopies int) (*model.Item, error)
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
	SearchItems(ctx context.Context, term string) ([]model.Item, error)
	UpdateItem(ctx context.Context, itemID int64, title, author, isbn string) (*model.Item, error)
	WithdrawItem(ctx context.Context, itemID int64) (*model.Item, error)
	AdjustCopies(ctx context.Context, itemID int64, delta int) (*model.Item, error)

	RegisterPatron(ctx context.Context, name, email string, borrowLimit int) (*model.Patron, error)
	GetPatron(ctx context.Context, patronID int64) (*model.Patron, error)
	RenewMembership(ctx context.Context, patronID int64) (*model.Patron, error)
	DeactivatePatron(ctx context.Context, patronID int64) (*model.Patron, error)
}

// Handler реализует HTTP-обработчики API сервиса книговыдачи.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type itemResponse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author,omitempty"`
	ISBN            string `json:"isbn,omitempty"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	Withdrawn       bool   `json:"withdrawn,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func newItemResponse(i *model.Item) itemResponse {
	return itemResponse{
		ID:              i.ID,
		Title:           i.Title,
		Author:          i.Author,
		ISBN:            i.ISBN,
		TotalCopies:     i.TotalCopies,
		AvailableCopies: i.AvailableCopies,
		Withdrawn:       i.Withdrawn,
		CreatedAt:       i.CreatedAt.Format(time.RFC3339),
	}
}

type patronResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Active      bool   `json:"active"`
	ExpiresAt   string `json:"expires_at"`
	BorrowLimit int    `json:"borrow_limit"`
	OpenLoans   int    `json:"open_loans"`
	FineBalance string `json:"fine_balance"`
}

func newPatronResponse(p *model.Patron) patronResponse {
	return patronResponse{
		ID:          p.ID,
		Name:        p.Name,
		Email:       p.Email,
		Active:      p.Active,
		ExpiresAt:   p.ExpiresAt.Format(time.RFC3339),
		BorrowLimit: p.BorrowLimit,
		OpenLoans:   p.OpenLoans,
		FineBalance: formatMoney(p.FineCents),
	}
}

type loanResponse struct {
	ID           int64   `json:"id"`
	PatronID     int64   `json:"patron_id"`
	ItemID       int64   `json:"item_id"`
	State        string  `json:"state"`
	BorrowedAt   string  `json:"borrowed_at"`
	DueAt        string  `json:"due_at"`
	ReturnedAt   *string `json:"returned_at,omitempty"`
	Fine         string  `json:"fine"`
	RenewalCount int     `json:"renewal_count"`
}

func newLoanResponse(l *model.Loan) loanResponse {
	resp := loanResponse{
		ID:           l.ID,
		PatronID:     l.PatronID,
		ItemID:       l.ItemID,
		State:        string(l.State()),
		BorrowedAt:   l.BorrowedAt.Format(time.RFC3339),
		DueAt:        l.DueAt.Format(time.RFC3339),
		Fine:         formatMoney(l.FineCents),
		RenewalCount: l.RenewalCount,
	}
	if l.ReturnedAt != nil {
		ts := l.ReturnedAt.Format(time.RFC3339)
		resp.ReturnedAt = &ts
	}
	return resp
}

func formatMoney(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// parseCents переводит денежную сумму в копейки. Дробные копейки и суммы,
// не помещающиеся в int64, не допускаются.
func parseCents(amount decimal.Decimal) (int64, bool) {
	cents := amount.Shift(2)
	if !cents.IsInteger() || !cents.BigInt().IsInt64() {
		return 0, false
	}
	return cents.IntPart(), true
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type addItemRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	TotalCopies int    `json:"total_copies"`
}

// AddItem добавляет позицию в каталог.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.AddItem(r.Context(), req.Title, req.Author, req.ISBN, req.TotalCopies)
	if err != nil {
		h.writeError(w, "add item", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newItemResponse(item))
}

// GetItem возвращает позицию каталога.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := urlID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		h.writeError(w, "get item", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newItemResponse(item))
}

// ListItems возвращает каталог. Параметр q отбирает позиции по названию, автору или ISBN.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.SearchItems(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, "list items", err)
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, newItemResponse(&items[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type updateItemRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
}

// UpdateItem заменяет библиографические данные позиции.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := urlID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.UpdateItem(r.Context(), itemID, req.Title, req.Author, req.ISBN)
	if err != nil {
		h.writeError(w, "update item", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newItemResponse(item))
}

// WithdrawItem списывает позицию из фонда.
func (h *Handler) WithdrawItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := urlID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.WithdrawItem(r.Context(), itemID)
	if err != nil {
		h.writeError(w, "withdraw item", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newItemResponse(item))
}

type adjustCopiesRequest struct {
	Delta int `json:"delta"`
}

// AdjustCopies добавляет или списывает экземпляры позиции.
func (h *Handler) AdjustCopies(w http.ResponseWriter, r *http.Request) {
	itemID, ok := urlID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req adjustCopiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.AdjustCopies(r.Context(), itemID, req.Delta)
	if err != nil {
		h.writeError(w, "adjust copies", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newItemResponse(item))
}

type registerPatronRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	BorrowLimit int    `json:"borrow_limit"`
}

// RegisterPatron регистрирует читателя и выдаёт ему читательский билет.
func (h *Handler) RegisterPatron(w http.ResponseWriter, r *http.Request) {
	var req registerPatronRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	patron, err := h.service.RegisterPatron(r.Context(), req.Name, req.Email, req.BorrowLimit)
	if err != nil {
		h.writeError(w, "register patron", err)
		return
	}

	h.authMiddleware.SetCardCookie(w, patron.ID)
	h.writeJSON(w, http.StatusCreated, newPatronResponse(patron))
}

// GetPatron возвращает читателя.
func (h *Handler) GetPatron(w http.ResponseWriter, r *http.Request) {
	h.patronAction(w, r, "get patron", h.service.GetPatron)
}

// RenewMembership продлевает членство читателя.
func (h *Handler) RenewMembership(w http.ResponseWriter, r *http.Request) {
	h.patronAction(w, r, "renew membership", h.service.RenewMembership)
}

// DeactivatePatron отключает читателя.
func (h *Handler) DeactivatePatron(w http.ResponseWriter, r *http.Request) {
	h.patronAction(w, r, "deactivate patron", h.service.DeactivatePatron)
}

func (h *Handler) patronAction(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, patronID int64) (*model.Patron, error),
) {
	patronID, ok := urlID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	patron, err := fn(r.Context(), patronID)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newPatronResponse(patron))
}

type checkoutRequest struct {
	ItemID int64 `json:"item_id"`
}

// Checkout выдаёт экземпляр позиции владельцу читательского билета.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	patronID, ok := middleware.GetPatronIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	loan, err := h.service.Checkout(r.Context(), patronID, req.ItemID)
	if err != nil {
		h.writeError(w, "checkout", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

// GetPatronLoans возвращает историю выдач владельца читательского билета.
func (h *Handler) GetPatronLoans(w http.ResponseWriter, r *http.Request) {
	patronID, ok := middleware.GetPatronIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	loans, err := h.service.ListPatronLoans(r.Context(), patronID)
	if err != nil {
		h.writeError(w, "list patron loans", err)
		return
	}

	if len(loans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]loanResponse, 0, len(loans))
	for i := range loans {
		resp = append(resp, newLoanResponse(&loans[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type settleFineRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type settleFineResponse struct {
	FineBalance string `json:"fine_balance"`
}

// SettleFine принимает оплату штрафа владельцем читательского билета.
func (h *Handler) SettleFine(w http.ResponseWriter, r *http.Request) {
	patronID, ok := middleware.GetPatronIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req settleFineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cents, ok := parseCents(req.Amount)
	if !ok {
		h.writeError(w, "settle fine", circulation.Fail(circulation.ErrInvalidPaymentAmount,
			circulation.EntityPatron, patronID, "amount must be whole cents within range"))
		return
	}

	balance, err := h.service.SettleFine(r.Context(), patronID, cents)
	if err != nil {
		h.writeError(w, "settle fine", err)
		return
	}

	h.writeJSON(w, http.StatusOK, settleFineResponse{FineBalance: formatMoney(balance)})
}

// ownLoan возвращает идентификатор выдачи из URL, если она принадлежит владельцу билета.
// Чужая выдача неотличима от несуществующей.
func (h *Handler) ownLoan(w http.ResponseWriter, r *http.Request) (int64, bool) {
	patronID, ok := middleware.GetPatronIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}

	loanID, ok := urlID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		h.writeError(w, "get loan", err)
		return 0, false
	}
	if loan.PatronID != patronID {
		h.writeError(w, "get loan", circulation.NotFound(circulation.EntityLoan, loanID))
		return 0, false
	}

	return loanID, true
}

// RenewLoan продлевает выдачу.
func (h *Handler) RenewLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.ownLoan(w, r)
	if !ok {
		return
	}

	loan, err := h.service.Renew(r.Context(), loanID)
	if err != nil {
		h.writeError(w, "renew", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

type returnResponse struct {
	LoanID          int64  `json:"loan_id"`
	ReturnedAt      string `json:"returned_at"`
	Fine            string `json:"fine"`
	FineBalance     string `json:"fine_balance"`
	AvailableCopies int    `json:"available_copies"`
}

// ReturnLoan закрывает выдачу.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.ownLoan(w, r)
	if !ok {
		return
	}

	res, err := h.service.Return(r.Context(), loanID)
	if err != nil {
		h.writeError(w, "return", err)
		return
	}

	h.writeJSON(w, http.StatusOK, returnResponse{
		LoanID:          res.LoanID,
		ReturnedAt:      res.ReturnedAt.Format(time.RFC3339),
		Fine:            formatMoney(res.FineCents),
		FineBalance:     formatMoney(res.PatronFineCents),
		AvailableCopies: res.AvailableCopies,
	})
}

type previewResponse struct {
	LoanID        int64  `json:"loan_id"`
	State         string `json:"state"`
	DueAt         string `json:"due_at"`
	IsOverdue     bool   `json:"is_overdue"`
	DaysOverdue   int64  `json:"days_overdue"`
	ProjectedFine string `json:"projected_fine"`
}

// PreviewLoan показывает прогноз штрафа по выдаче.
func (h *Handler) PreviewLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.ownLoan(w, r)
	if !ok {
		return
	}

	p, err := h.service.Preview(r.Context(), loanID)
	if err != nil {
		h.writeError(w, "preview", err)
		return
	}

	h.writeJSON(w, http.StatusOK, previewResponse{
		LoanID:        p.LoanID,
		State:         string(p.State),
		DueAt:         p.DueAt.Format(time.RFC3339),
		IsOverdue:     p.IsOverdue,
		DaysOverdue:   p.DaysOverdue,
		ProjectedFine: formatMoney(p.ProjectedFineCents),
	})
}
