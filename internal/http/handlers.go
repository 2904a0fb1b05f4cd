package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"patrimonio/internal/core"
	"patrimonio/internal/services"
	"patrimonio/internal/storage"
)

type createAccountRequest struct {
	Name    string     `json:"name"`
	Type    string     `json:"type"`
	Balance core.Money `json:"balance"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	account := core.Account{
		Name:    sanitizeInput(req.Name),
		Type:    core.AccountType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Balance: req.Balance,
	}
	created, err := s.ledger.CreateAccount(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse(created))
}

type createCategoryRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Color string `json:"color"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	category := core.Category{
		Name:  sanitizeInput(req.Name),
		Type:  core.CategoryType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Color: sanitizeInput(req.Color),
	}
	created, err := s.ledger.CreateCategory(r.Context(), category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, categoryResponse(created))
}

type renameCategoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req renameCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	renamed, err := s.ledger.RenameCategory(r.Context(), id, sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryResponse(renamed))
}

type createTransactionRequest struct {
	AccountID   string     `json:"accountId"`
	Amount      core.Money `json:"amount"`
	Date        core.Date  `json:"date"`
	Description string     `json:"description"`
	CategoryID  *string    `json:"categoryId,omitempty"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid accountId"})
		return
	}
	var categoryID *uuid.UUID
	if req.CategoryID != nil {
		id, err := uuid.Parse(*req.CategoryID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid categoryId"})
			return
		}
		categoryID = &id
	}

	tx := core.Transaction{
		AccountID:   accountID,
		Amount:      req.Amount,
		Date:        req.Date,
		Description: sanitizeInput(req.Description),
		CategoryID:  categoryID,
	}
	created, err := s.ledger.CreateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionResponse(created))
}

type assignCategoryRequest struct {
	CategoryID *string `json:"categoryId"`
}

func (s *Server) handleAssignCategory(w http.ResponseWriter, r *http.Request) {
	txID, err := pathUUID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req assignCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	var categoryID *uuid.UUID
	if req.CategoryID != nil {
		id, err := uuid.Parse(*req.CategoryID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid categoryId"})
			return
		}
		categoryID = &id
	}
	updated, err := s.ledger.AssignCategory(r.Context(), txID, categoryID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse(updated))
}

func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryUUID(r, "accountId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rows, err := s.history.FindAccountHistory(r.Context(), storage.AccountHistoryFilter{
		AccountID: accountID, From: from, To: to,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []core.AccountMonth{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCategoryHistory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := queryUUID(r, "categoryId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	maxCategories, err := queryInt(r, "maxCategories", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rows, err := s.history.FindCategoryHistory(r.Context(), storage.CategoryHistoryFilter{
		CategoryID: categoryID, From: from, To: to, MaxCategories: maxCategories,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []core.CategoryMonth{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleTransactionHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryUUID(r, "accountId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	categoryID, err := queryUUID(r, "categoryId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rows, err := s.history.FindTransactionHistory(r.Context(), storage.TransactionHistoryFilter{
		AccountID: accountID, CategoryID: categoryID, From: from, To: to,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []core.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "monthsOfHistory", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	maxCategories, err := queryInt(r, "maxCategories", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	key := strconv.Itoa(months) + ":" + strconv.Itoa(maxCategories)
	if report, ok := s.reportCache.Get(key); ok {
		writeJSON(w, http.StatusOK, report)
		return
	}

	report, err := s.networth.GetNetWorth(r.Context(), services.NetWorthQuery{
		MonthsOfHistory: months,
		MaxCategories:   maxCategories,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reportCache.Set(key, report)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.refresh.RefreshAggregates(r.Context(), s.settlementCurrency); err != nil {
		writeError(w, r, err)
		return
	}
	s.reportCache.Purge()
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// Response DTOs keep the wire shape stable and explicit.

type accountDTO struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Balance   core.Money `json:"balance"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt"`
}

func accountResponse(a core.Account) accountDTO {
	return accountDTO{
		ID:        a.ID.String(),
		Name:      a.Name,
		Type:      string(a.Type),
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt.Format(timeFormat),
		UpdatedAt: a.UpdatedAt.Format(timeFormat),
	}
}

type categoryDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Color     string `json:"color,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func categoryResponse(c core.Category) categoryDTO {
	return categoryDTO{
		ID:        c.ID.String(),
		Name:      c.Name,
		Type:      string(c.Type),
		Color:     c.Color,
		CreatedAt: c.CreatedAt.Format(timeFormat),
	}
}

type transactionDTO struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"accountId"`
	Amount      core.Money `json:"amount"`
	Date        string     `json:"date"`
	Description string     `json:"description"`
	CategoryID  *string    `json:"categoryId,omitempty"`
	CreatedAt   string     `json:"createdAt"`
	UpdatedAt   string     `json:"updatedAt"`
}

func transactionResponse(t core.Transaction) transactionDTO {
	dto := transactionDTO{
		ID:          t.ID.String(),
		AccountID:   t.AccountID.String(),
		Amount:      t.Amount,
		Date:        t.Date.ISO(),
		Description: t.Description,
		CreatedAt:   t.CreatedAt.Format(timeFormat),
		UpdatedAt:   t.UpdatedAt.Format(timeFormat),
	}
	if t.CategoryID != nil {
		id := t.CategoryID.String()
		dto.CategoryID = &id
	}
	return dto
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
