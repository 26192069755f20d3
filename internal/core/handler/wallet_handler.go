package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/money"
	"github.com/Nzyazin/walletledger/internal/core/usecase"
)

const maxBodyBytes = 1 << 20

type WalletHandler struct {
	ledger *usecase.Ledger
	log    logger.Logger
}

func NewWalletHandler(ledger *usecase.Ledger, log logger.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledger, log: log}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/api/v1/owners/{ownerType}/{ownerID}/wallets").Subrouter()
	r.HandleFunc("", h.ListWallets).Methods(http.MethodGet)
	r.HandleFunc("", h.CreateWallet).Methods(http.MethodPost)
	r.HandleFunc("/{name}", h.GetWallet).Methods(http.MethodGet)
	r.HandleFunc("/{name}", h.DeleteWallet).Methods(http.MethodDelete)
	r.HandleFunc("/{name}/deposit", h.Deposit).Methods(http.MethodPost)
	r.HandleFunc("/{name}/withdraw", h.Withdraw).Methods(http.MethodPost)
	r.HandleFunc("/{name}/transfer", h.Transfer).Methods(http.MethodPost)
	r.HandleFunc("/{name}/confirm", h.Confirm).Methods(http.MethodPost)
	r.HandleFunc("/{name}/empty", h.Empty).Methods(http.MethodPost)
	r.HandleFunc("/{name}/transactions", h.ListTransactions).Methods(http.MethodGet)
}

type WalletResponse struct {
	ID                uuid.UUID `json:"id"`
	OwnerType         string    `json:"owner_type"`
	OwnerID           string    `json:"owner_id"`
	Name              string    `json:"name"`
	Balance           string    `json:"balance"`
	BalanceMinor      int64     `json:"balance_minor"`
	MinAllowedBalance string    `json:"min_allowed_balance"`
	DecimalPlaces     uint8     `json:"decimal_places"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type TransactionResponse struct {
	ID          uuid.UUID              `json:"id"`
	WalletID    uuid.UUID              `json:"wallet_id"`
	Type        models.TransactionType `json:"transaction_type"`
	Amount      string                 `json:"amount"`
	AmountMinor int64                  `json:"amount_minor"`
	Confirmed   bool                   `json:"confirmed"`
	Meta        models.Meta            `json:"meta,omitempty"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

type TransactionPageResponse struct {
	Items    []TransactionResponse `json:"items"`
	Metadata models.PageMetadata   `json:"metadata"`
}

type TransferResponse struct {
	Withdraw TransactionResponse `json:"withdraw"`
	Deposit  TransactionResponse `json:"deposit"`
}

type BalanceResponse struct {
	Wallet  string `json:"wallet"`
	Balance string `json:"balance"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type CreateWalletRequest struct {
	Name              string `json:"name"`
	DecimalPlaces     *uint8 `json:"decimal_places,omitempty"`
	MinAllowedBalance string `json:"min_allowed_balance,omitempty"`
}

type AmountRequest struct {
	Amount    string      `json:"amount"`
	Confirmed *bool       `json:"confirmed,omitempty"`
	Meta      models.Meta `json:"meta,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

type TransferRequest struct {
	ToOwnerType string      `json:"to_owner_type,omitempty"`
	ToOwnerID   string      `json:"to_owner_id,omitempty"`
	ToWallet    string      `json:"to_wallet"`
	Amount      string      `json:"amount"`
	Meta        models.Meta `json:"meta,omitempty"`
}

type ConfirmRequest struct {
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

type EmptyRequest struct {
	Strategy models.EmptyStrategy `json:"strategy"`
	Meta     models.Meta          `json:"meta,omitempty"`
}

func (h *WalletHandler) wallets(w http.ResponseWriter, r *http.Request) (*usecase.WalletsRepository, bool) {
	vars := mux.Vars(r)
	repo, err := h.ledger.Wallets(models.OwnerRef{Type: vars["ownerType"], ID: vars["ownerID"]})
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	return repo, true
}

func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	wallets, err := repo.All(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]WalletResponse, 0, len(wallets))
	for i := range wallets {
		out = append(out, toWalletResponse(&wallets[i], wallets[i].Balance))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	var req CreateWalletRequest
	if !h.decodeRequest(w, r, &req, false) {
		return
	}

	places := h.ledger.Defaults().DecimalPlaces
	if req.DecimalPlaces != nil {
		places = *req.DecimalPlaces
	}
	var minAllowed int64
	if req.MinAllowedBalance != "" {
		amount, err := money.Parse(req.MinAllowedBalance)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		minAllowed, err = money.ToMinorUnits(amount, places)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	wallet, err := repo.Create(r.Context(), req.Name, places, minAllowed)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toWalletResponse(wallet, wallet.Balance))
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	includeUnconfirmed := r.URL.Query().Get("unconfirmed") == "true"

	wallet, err := repo.Get(r.Context(), name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	balance, err := repo.Balance(r.Context(), name, includeUnconfirmed)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponse(wallet, balance))
}

func (h *WalletHandler) DeleteWallet(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	if err := repo.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !h.decodeRequest(w, r, &req, false) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	opts := []usecase.TransactionOption{usecase.WithMeta(req.Meta)}
	if req.Confirmed != nil && !*req.Confirmed {
		opts = append(opts, usecase.Unconfirmed())
	}
	if req.ExpiresAt != nil {
		opts = append(opts, usecase.ExpiresAt(*req.ExpiresAt))
	}

	name := mux.Vars(r)["name"]
	txn, err := repo.DepositDecimal(r.Context(), name, amount, opts...)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondWithTransaction(w, r, repo, name, txn)
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !h.decodeRequest(w, r, &req, false) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	name := mux.Vars(r)["name"]
	txn, err := repo.WithdrawDecimal(r.Context(), name, amount, usecase.WithMeta(req.Meta))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondWithTransaction(w, r, repo, name, txn)
}

func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !h.decodeRequest(w, r, &req, false) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	target := repo
	if req.ToOwnerType != "" || req.ToOwnerID != "" {
		other, err := h.ledger.Wallets(models.OwnerRef{Type: req.ToOwnerType, ID: req.ToOwnerID})
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		target = other
	}

	ctx := r.Context()
	from, err := repo.Get(ctx, mux.Vars(r)["name"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	to, err := target.Get(ctx, req.ToWallet)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := h.ledger.TransferDecimalBetween(ctx, from, to, amount, usecase.WithMeta(req.Meta))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, TransferResponse{
		Withdraw: toTransactionResponse(result.Withdraw, from.DecimalPlaces),
		Deposit:  toTransactionResponse(result.Deposit, to.DecimalPlaces),
	})
}

// Confirm confirms one transaction when transaction_id is given, or every
// pending transaction of the wallet otherwise.
func (h *WalletHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if !h.decodeRequest(w, r, &req, true) {
		return
	}

	name := mux.Vars(r)["name"]
	var err error
	if req.TransactionID != nil {
		_, err = repo.ConfirmTransaction(r.Context(), name, *req.TransactionID)
	} else {
		_, err = repo.ConfirmAll(r.Context(), name)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondWithBalance(w, r, repo, name)
}

func (h *WalletHandler) Empty(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	var req EmptyRequest
	if !h.decodeRequest(w, r, &req, false) {
		return
	}
	if req.Strategy == "" {
		req.Strategy = models.EmptyToZero
	}

	name := mux.Vars(r)["name"]
	if _, err := repo.Empty(r.Context(), name, req.Strategy, req.Meta); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondWithBalance(w, r, repo, name)
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.wallets(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := models.PageRequest{Page: queryInt(q.Get("page")), Per: queryInt(q.Get("per"))}
	order := models.SortOrder(q.Get("order")).Normalize()
	name := mux.Vars(r)["name"]

	ctx := r.Context()
	wallet, err := repo.Get(ctx, name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var result models.Page[models.WalletTransaction]
	if q.Get("confirmed") == "false" {
		result, err = repo.UnconfirmedTransactions(ctx, name, page, order)
	} else {
		result, err = repo.Transactions(ctx, name, page, order)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := TransactionPageResponse{Items: make([]TransactionResponse, 0, len(result.Items)), Metadata: result.Metadata}
	for i := range result.Items {
		out.Items = append(out.Items, toTransactionResponse(&result.Items[i], wallet.DecimalPlaces))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *WalletHandler) respondWithTransaction(w http.ResponseWriter, r *http.Request, repo *usecase.WalletsRepository, name string, txn *models.WalletTransaction) {
	wallet, err := repo.Get(r.Context(), name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponse(txn, wallet.DecimalPlaces))
}

func (h *WalletHandler) respondWithBalance(w http.ResponseWriter, r *http.Request, repo *usecase.WalletsRepository, name string) {
	balance, err := repo.DecimalBalance(r.Context(), name, false)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, BalanceResponse{Wallet: name, Balance: balance.String()})
}

func (h *WalletHandler) decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		h.log.Warn("Failed to decode request body", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

func (h *WalletHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var we *usecase.WalletError
	if !errors.As(err, &we) {
		h.log.Error("Unexpected handler error",
			logger.StringField("path", r.URL.Path),
			logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusBadRequest
	switch we.Code {
	case usecase.CodeWalletNotFound:
		status = http.StatusNotFound
	case usecase.CodeTransactionFailed:
		status = http.StatusInternalServerError
		h.log.Error("Ledger operation failed",
			logger.StringField("path", r.URL.Path),
			logger.ErrorField("error", err))
	}
	respondWithJSON(w, status, ErrorResponse{Error: we.Error(), Code: string(we.Code)})
}

func parseAmount(w http.ResponseWriter, raw string) (decimal.Decimal, bool) {
	amount, err := money.Parse(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid amount: %v", err))
		return decimal.Zero, false
	}
	if !amount.IsPositive() {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: usecase.InvalidTransaction("amount must be positive").Error(),
			Code:  string(usecase.CodeInvalidTransaction),
		})
		return decimal.Zero, false
	}
	return amount, true
}

func queryInt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func toWalletResponse(w *models.Wallet, balance int64) WalletResponse {
	return WalletResponse{
		ID:                w.ID,
		OwnerType:         w.OwnerType,
		OwnerID:           w.OwnerID,
		Name:              w.Name,
		Balance:           money.ToDecimal(balance, w.DecimalPlaces).StringFixed(int32(w.DecimalPlaces)),
		BalanceMinor:      balance,
		MinAllowedBalance: money.ToDecimal(w.MinAllowedBalance, w.DecimalPlaces).StringFixed(int32(w.DecimalPlaces)),
		DecimalPlaces:     w.DecimalPlaces,
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
	}
}

func toTransactionResponse(t *models.WalletTransaction, places uint8) TransactionResponse {
	return TransactionResponse{
		ID:          t.ID,
		WalletID:    t.WalletID,
		Type:        t.Type,
		Amount:      money.ToDecimal(t.Amount, places).StringFixed(int32(places)),
		AmountMinor: t.Amount,
		Confirmed:   t.Confirmed,
		Meta:        t.Meta,
		ExpiresAt:   t.ExpiresAt,
		CreatedAt:   t.CreatedAt,
	}
}
