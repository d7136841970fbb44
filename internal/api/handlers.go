package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/models"
	"payrail/internal/service"
	"payrail/internal/settlement"
)

// Wallets is the chain-facing side of the API
type Wallets interface {
	CreateWallets(ctx context.Context, userID, mnemonic string) ([]models.Wallet, error)
	GetBalances(ctx context.Context, userID string) ([]service.NetworkBalance, error)
	Transfer(ctx context.Context, userID string, network models.NetworkIndex, privKey, to string, amount decimal.Decimal) (*service.TransferResult, error)
	TransferToken(ctx context.Context, userID string, network models.NetworkIndex, privKey, to string, amount decimal.Decimal, tokenID int64) (*service.TransferResult, error)
	EstimateFee(ctx context.Context, network models.NetworkIndex, kind chain.FeeKind) (decimal.Decimal, error)
	ValidateAddress(network models.NetworkIndex, address string) error
}

// Records persists payment requests and spot orders
type Records interface {
	FindTokenByID(ctx context.Context, id int64) (*models.Token, error)
	CreatePaymentRequest(ctx context.Context, p *models.PaymentRequest) error
	GetPaymentRequest(ctx context.Context, id int64) (*models.PaymentRequest, error)
	PendingRefIDInUse(ctx context.Context, network models.NetworkIndex, refID string) (bool, error)
	CreateSpotOrder(ctx context.Context, o *models.SpotMarketOrder) error
	GetSpotOrder(ctx context.Context, id int64) (*models.SpotMarketOrder, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	wallets    Wallets
	records    Records
	feeService *service.FeeService
	sockets    http.Handler
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	wallets Wallets,
	records Records,
	feeService *service.FeeService,
	sockets http.Handler,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		wallets:    wallets,
		records:    records,
		feeService: feeService,
		sockets:    sockets,
		logger:     logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Wallets ====================

// HandleCreateWallets handles POST /api/v1/wallets
// Derives the user's account on every chain and stores those on active networks
func (h *Handler) HandleCreateWallets(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.logger.Info("Creating wallets", zap.String("user_id", req.UserID))

	wallets, err := h.wallets.CreateWallets(r.Context(), req.UserID, req.Mnemonic)
	if err != nil {
		h.logger.Error("Failed to create wallets",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		respondServiceError(w, "Failed to create wallets", err)
		return
	}

	response := CreateWalletsResponse{
		UserID:  req.UserID,
		Wallets: make([]WalletResponse, 0, len(wallets)),
	}
	for _, wallet := range wallets {
		response.Wallets = append(response.Wallets, WalletResponse{
			ID:        wallet.ID,
			Network:   wallet.Network,
			Address:   wallet.Address,
			CreatedAt: wallet.CreatedAt,
		})
	}

	respondJSON(w, http.StatusCreated, response)
}

// HandleGetBalances handles GET /api/v1/wallets/{userId}/balances
func (h *Handler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	balances, err := h.wallets.GetBalances(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get balances",
			zap.String("user_id", userID),
			zap.Error(err))
		respondServiceError(w, "Failed to get balances", err)
		return
	}

	respondJSON(w, http.StatusOK, BalancesResponse{UserID: userID, Balances: balances})
}

// ==================== Transfers ====================

// HandleTransfer handles POST /api/v1/transfers
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	h.handleTransfer(w, r, false)
}

// HandleTransferToken handles POST /api/v1/transfers/token
func (h *Handler) HandleTransferToken(w http.ResponseWriter, r *http.Request) {
	h.handleTransfer(w, r, true)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request, token bool) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	network, ok := models.ParseNetwork(req.Network)
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown network", fmt.Errorf("%q", req.Network))
		return
	}
	if req.PrivateKey == "" {
		respondError(w, http.StatusBadRequest, "private_key is required", nil)
		return
	}
	if token && req.TokenID <= 0 {
		respondError(w, http.StatusBadRequest, "token_id is required", nil)
		return
	}

	var (
		result *service.TransferResult
		err    error
	)
	if token {
		result, err = h.wallets.TransferToken(r.Context(), req.UserID, network, req.PrivateKey, req.To, req.Amount, req.TokenID)
	} else {
		result, err = h.wallets.Transfer(r.Context(), req.UserID, network, req.PrivateKey, req.To, req.Amount)
	}
	if err != nil {
		h.logger.Error("Transfer failed",
			zap.String("user_id", req.UserID),
			zap.String("network", string(network)),
			zap.Int64("token_id", req.TokenID),
			zap.Error(err))
		respondServiceError(w, "Transfer failed", err)
		return
	}

	h.logger.Info("Transfer submitted",
		zap.String("user_id", req.UserID),
		zap.String("network", string(network)),
		zap.String("hash", result.Hash))

	respondJSON(w, http.StatusOK, result)
}

// HandleEstimateFee handles GET /api/v1/networks/{network}/fee?kind=native|token
func (h *Handler) HandleEstimateFee(w http.ResponseWriter, r *http.Request) {
	network, ok := models.ParseNetwork(mux.Vars(r)["network"])
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown network", fmt.Errorf("%q", mux.Vars(r)["network"]))
		return
	}
	kind := chain.FeeKind(strings.ToLower(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = chain.FeeNative
	}

	fee, err := h.wallets.EstimateFee(r.Context(), network, kind)
	if err != nil {
		h.logger.Error("Failed to estimate fee",
			zap.String("network", string(network)),
			zap.String("kind", string(kind)),
			zap.Error(err))
		respondServiceError(w, "Failed to estimate fee", err)
		return
	}

	respondJSON(w, http.StatusOK, FeeResponse{
		Network: network,
		Kind:    kind,
		Fee:     fee,
		Symbol:  network.NativeSymbol(),
	})
}

// ==================== Payments ====================

// HandleCreatePayment handles POST /api/v1/payments
// Opens a payment request the reconciler settles once a deposit ending in its refId arrives
func (h *Handler) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	payment, err := h.buildPayment(r.Context(), req)
	if err != nil {
		respondServiceError(w, "Invalid payment request", err)
		return
	}

	inUse, err := h.records.PendingRefIDInUse(r.Context(), payment.Network, payment.RefID)
	if err != nil {
		h.logger.Error("Failed to check reference id", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create payment", err)
		return
	}
	if inUse {
		h.logger.Warn("Reference id already used by a pending payment",
			zap.String("network", string(payment.Network)),
			zap.String("ref_id", payment.RefID))
	}

	if err := h.records.CreatePaymentRequest(r.Context(), payment); err != nil {
		h.logger.Error("Failed to create payment",
			zap.String("user_id", payment.UserID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create payment", err)
		return
	}

	h.logger.Info("Payment request created",
		zap.Int64("id", payment.ID),
		zap.String("user_id", payment.UserID),
		zap.String("network", string(payment.Network)),
		zap.String("ref_id", payment.RefID),
		zap.String("exchange_type", string(payment.ExchangeType)))

	respondJSON(w, http.StatusCreated, newPaymentResponse(payment))
}

func (h *Handler) buildPayment(ctx context.Context, req CreatePaymentRequest) (*models.PaymentRequest, error) {
	if req.UserID == "" {
		return nil, chain.Invalid("user_id is required")
	}
	network, ok := models.ParseNetwork(req.Network)
	if !ok {
		return nil, chain.Invalid("unknown network %q", req.Network)
	}
	toNetwork := network
	if req.ToNetwork != "" {
		if toNetwork, ok = models.ParseNetwork(req.ToNetwork); !ok {
			return nil, chain.Invalid("unknown network %q", req.ToNetwork)
		}
	}
	orderType, err := parseOrderType(req.OrderType, req.Price)
	if err != nil {
		return nil, err
	}

	fromCoin, err := h.coin(ctx, network, req.TokenID)
	if err != nil {
		return nil, err
	}
	toCoin, err := h.coin(ctx, toNetwork, req.ToTokenID)
	if err != nil {
		return nil, err
	}
	if err := h.wallets.ValidateAddress(toNetwork, req.ToAddress); err != nil {
		return nil, err
	}

	if err := h.feeService.ValidateAmount(network, fromCoin, req.Amount); err != nil {
		return nil, err
	}
	fee, err := h.feeService.PaymentFee(network, fromCoin, req.Amount)
	if err != nil {
		return nil, err
	}

	route := settlement.ResolveRoute(models.Settlement{
		FromNetwork: network,
		FromCoin:    fromCoin,
		ToNetwork:   toNetwork,
		ToCoin:      toCoin,
	})

	return &models.PaymentRequest{
		UserID:       req.UserID,
		RefID:        settlement.GenerateRefID(),
		Network:      network,
		TokenID:      req.TokenID,
		Amount:       req.Amount,
		Fee:          &fee,
		ExchangeType: route,
		ToNetwork:    toNetwork,
		ToTokenID:    req.ToTokenID,
		ToAddress:    req.ToAddress,
		OrderType:    orderType,
		Price:        req.Price,
	}, nil
}

// coin returns the ticker of a token on network, or the native ticker when tokenID is nil
func (h *Handler) coin(ctx context.Context, network models.NetworkIndex, tokenID *int64) (string, error) {
	if tokenID == nil {
		return network.NativeSymbol(), nil
	}
	token, err := h.records.FindTokenByID(ctx, *tokenID)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil {
		return "", fmt.Errorf("token %d: %w", *tokenID, chain.ErrNotFound)
	}
	if token.Network != network {
		return "", chain.Invalid("token %s is on %s, not %s", token.Symbol, token.Network, network)
	}
	return token.Symbol, nil
}

// HandleGetPayment handles GET /api/v1/payments/{id}
func (h *Handler) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	payment, err := h.records.GetPaymentRequest(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get payment", zap.Int64("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if payment == nil {
		respondError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, newPaymentResponse(payment))
}

// ==================== Spot Orders ====================

// HandleCreateOrder handles POST /api/v1/orders
func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	order, err := h.buildOrder(req)
	if err != nil {
		respondServiceError(w, "Invalid order", err)
		return
	}

	if err := h.records.CreateSpotOrder(r.Context(), order); err != nil {
		h.logger.Error("Failed to create order",
			zap.String("user_id", order.UserID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create order", err)
		return
	}

	h.logger.Info("Spot order created",
		zap.Int64("id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("pair", order.FromCoin+"/"+order.ToCoin),
		zap.String("ref_id", order.RefID),
		zap.String("order_type", string(order.OrderType)))

	respondJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) buildOrder(req CreateOrderRequest) (*models.SpotMarketOrder, error) {
	if req.UserID == "" {
		return nil, chain.Invalid("user_id is required")
	}
	fromNetwork, ok := models.ParseNetwork(req.FromNetwork)
	if !ok {
		return nil, chain.Invalid("unknown network %q", req.FromNetwork)
	}
	toNetwork, ok := models.ParseNetwork(req.ToNetwork)
	if !ok {
		return nil, chain.Invalid("unknown network %q", req.ToNetwork)
	}
	fromCoin := strings.ToUpper(strings.TrimSpace(req.FromCoin))
	toCoin := strings.ToUpper(strings.TrimSpace(req.ToCoin))
	if fromCoin == "" || toCoin == "" {
		return nil, chain.Invalid("from_coin and to_coin are required")
	}
	if !req.Amount.IsPositive() {
		return nil, chain.Invalid("amount must be positive, got %s", req.Amount)
	}
	orderType, err := parseOrderType(req.OrderType, req.Price)
	if err != nil {
		return nil, err
	}
	if err := h.wallets.ValidateAddress(toNetwork, req.ToAddress); err != nil {
		return nil, err
	}

	order := &models.SpotMarketOrder{
		UserID:      req.UserID,
		RefID:       settlement.GenerateRefID(),
		OrderType:   orderType,
		FromNetwork: fromNetwork,
		ToNetwork:   toNetwork,
		FromCoin:    fromCoin,
		ToCoin:      toCoin,
		Amount:      req.Amount,
		Price:       req.Price,
		ToAddress:   req.ToAddress,
	}
	order.ExchangeType = settlement.ResolveRoute(models.Settlement{
		FromNetwork: fromNetwork,
		FromCoin:    fromCoin,
		ToNetwork:   toNetwork,
		ToCoin:      toCoin,
	})
	return order, nil
}

// HandleGetOrder handles GET /api/v1/orders/{id}
func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	order, err := h.records.GetSpotOrder(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get order", zap.Int64("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get order", err)
		return
	}
	if order == nil {
		respondError(w, http.StatusNotFound, "Order not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, newOrderResponse(order))
}

// ==================== Helper Functions ====================

func parseOrderType(t models.OrderType, price *decimal.Decimal) (models.OrderType, error) {
	switch models.OrderType(strings.ToUpper(string(t))) {
	case "", models.OrderTypeMarket:
		return models.OrderTypeMarket, nil
	case models.OrderTypeLimit:
		if price == nil || !price.IsPositive() {
			return "", chain.Invalid("limit orders need a positive price")
		}
		return models.OrderTypeLimit, nil
	default:
		return "", chain.Invalid("unknown order type %q", t)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, chain.ErrValidation), errors.Is(err, chain.ErrDerivation):
		return http.StatusBadRequest
	case errors.Is(err, chain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, chain.ErrUnsupportedOperation), errors.Is(err, chain.ErrUnsupportedNetwork):
		return http.StatusNotImplemented
	case errors.Is(err, chain.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError sends an error response with the status of err's sentinel
func respondServiceError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers are already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
