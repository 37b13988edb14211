package ton

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
)

// Ошибки адаптера. Сервисы различают недоступность сети (можно повторить)
// и отказ самого ledger (повторять бессмысленно, нужен разбор).
var (
	ErrLedgerUnavailable = errors.New("ledger недоступен")
	ErrLedgerRejected    = errors.New("ledger отклонил операцию")
)

// EscrowStatus — состояние escrow контракта, выведенное из истории транзакций.
type EscrowStatus string

const (
	EscrowStatusPending EscrowStatus = "pending"
	EscrowStatusFunded  EscrowStatus = "funded"
	// EscrowStatusUnknown означает «повторить позже», а не окончательный отказ:
	// скан истории транзакций — это best-effort опрос, не подписка на события.
	EscrowStatusUnknown EscrowStatus = "unknown"
)

// BalanceCheck — результат проверки достаточности баланса кошелька.
type BalanceCheck struct {
	Sufficient bool
	Balance    models.NanoTON
	Required   models.NanoTON // сумма заказа плюс газовый резерв
}

// Config — параметры адаптера. Комиссия, дедлайн и газовый резерв задаются
// здесь, а не вызывающим кодом: условия контракта — политика платформы.
type Config struct {
	APIBaseURL        string // toncenter-совместимый API (балансы, транзакции)
	APIKey            string
	GatewayURL        string // escrow-шлюз с операторским ключом платформы
	PlatformWallet    string
	FeeReceiverWallet string
	FeeBps            int
	GasReserve        models.NanoTON
	Deadline          time.Duration
	Timeout           time.Duration
}

// Client — адаптер к TON: единственная точка, через которую бэкенд
// трогает блокчейн. Подписывает операции только операторский ключ
// шлюза; адреса участников — параметры контракта, не подписанты.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient создаёт адаптер.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 720 * time.Hour
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateEscrowParams — параметры деплоя escrow контракта, зависящие от заказа.
type CreateEscrowParams struct {
	OrderID    string
	Amount     models.NanoTON
	BuyerAddr  string
	SellerAddr string
}

type createEscrowRequest struct {
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Guarantor   string `json:"guarantor"`
	FeeReceiver string `json:"fee_receiver"`
	RoyaltyBps  int    `json:"royalty_bps"`
	DeadlineAt  int64  `json:"deadline_at"`
	MinGas      string `json:"min_gas"`
}

type createEscrowResponse struct {
	Address string `json:"address"`
}

// CreateEscrow деплоит escrow контракт и возвращает его адрес.
func (c *Client) CreateEscrow(ctx context.Context, p CreateEscrowParams) (string, error) {
	req := createEscrowRequest{
		OrderID:     p.OrderID,
		Amount:      p.Amount.String(),
		Buyer:       p.BuyerAddr,
		Seller:      p.SellerAddr,
		Guarantor:   c.cfg.PlatformWallet,
		FeeReceiver: c.cfg.FeeReceiverWallet,
		RoyaltyBps:  c.cfg.FeeBps,
		DeadlineAt:  time.Now().Add(c.cfg.Deadline).Unix(),
		MinGas:      c.cfg.GasReserve.String(),
	}

	var resp createEscrowResponse
	if err := c.postGateway(ctx, "/escrows", req, &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("%w: шлюз вернул пустой адрес контракта", ErrLedgerRejected)
	}

	// Шлюз может вернуть raw форму — нормализуем для хранения.
	if strings.Contains(resp.Address, ":") {
		friendly, err := FriendlyAddress(resp.Address, true)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrLedgerRejected, err)
		}
		return friendly, nil
	}
	return resp.Address, nil
}

// FundEscrow переводит сумму заказа на escrow контракт.
func (c *Client) FundEscrow(ctx context.Context, escrowAddr string, amount models.NanoTON) (bool, error) {
	body := map[string]string{"amount": amount.String()}
	return c.postGatewayOK(ctx, "/escrows/"+url.PathEscape(escrowAddr)+"/fund", body)
}

// ReleaseEscrow выплачивает исполнителю сумму за вычетом комиссии.
func (c *Client) ReleaseEscrow(ctx context.Context, escrowAddr, sellerAddr string, netAmount models.NanoTON) (bool, error) {
	body := map[string]string{"to": sellerAddr, "amount": netAmount.String()}
	return c.postGatewayOK(ctx, "/escrows/"+url.PathEscape(escrowAddr)+"/release", body)
}

// RefundEscrow возвращает заказчику полную сумму. Комиссия при возврате не удерживается.
func (c *Client) RefundEscrow(ctx context.Context, escrowAddr, buyerAddr string, fullAmount models.NanoTON) (bool, error) {
	body := map[string]string{"to": buyerAddr, "amount": fullAmount.String()}
	return c.postGatewayOK(ctx, "/escrows/"+url.PathEscape(escrowAddr)+"/refund", body)
}

// PauseEscrow замораживает движение средств на время спора.
func (c *Client) PauseEscrow(ctx context.Context, escrowAddr string) (bool, error) {
	return c.postGatewayOK(ctx, "/escrows/"+url.PathEscape(escrowAddr)+"/pause", struct{}{})
}

// Transfer выполняет обычный перевод (чаевые) на указанный адрес.
func (c *Client) Transfer(ctx context.Context, toAddr string, amount models.NanoTON, comment string) (bool, error) {
	body := map[string]string{"to": toAddr, "amount": amount.String(), "comment": comment}
	return c.postGatewayOK(ctx, "/transfers", body)
}

type tonAPIResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type tonTransaction struct {
	InMsg struct {
		Value string `json:"value"`
	} `json:"in_msg"`
}

// GetEscrowStatus определяет, профинансирован ли контракт, сканируя
// входящие транзакции адреса. Любой положительный входящий перевод
// считается депозитом.
func (c *Client) GetEscrowStatus(ctx context.Context, escrowAddr string) (EscrowStatus, error) {
	raw, err := c.getAPI(ctx, "/getTransactions", url.Values{
		"address": {escrowAddr},
		"limit":   {"20"},
	})
	if err != nil {
		return EscrowStatusUnknown, err
	}

	var txs []tonTransaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"escrow_address": escrowAddr,
			"error":          err,
		}).Warn("ton: не удалось распарсить историю транзакций")
		return EscrowStatusUnknown, nil
	}

	for _, tx := range txs {
		if tx.InMsg.Value == "" || tx.InMsg.Value == "0" {
			continue
		}
		if v, err := models.ParseNanoTON(tx.InMsg.Value); err == nil && v > 0 {
			return EscrowStatusFunded, nil
		}
	}

	// Положительных входящих переводов нет — депозит не пришёл либо
	// индексатор отстаёт. Вызывающий код повторит проверку.
	return EscrowStatusPending, nil
}

// CheckSufficientBalance проверяет, хватит ли на кошельке суммы плюс газовый резерв.
func (c *Client) CheckSufficientBalance(ctx context.Context, addr string, amount models.NanoTON) (*BalanceCheck, error) {
	raw, err := c.getAPI(ctx, "/getAddressBalance", url.Values{"address": {addr}})
	if err != nil {
		return nil, err
	}

	var balanceStr string
	if err := json.Unmarshal(raw, &balanceStr); err != nil {
		return nil, fmt.Errorf("%w: некорректный ответ баланса", ErrLedgerUnavailable)
	}
	balance, err := models.ParseNanoTON(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный баланс %q", ErrLedgerUnavailable, balanceStr)
	}

	required := amount + c.cfg.GasReserve
	return &BalanceCheck{
		Sufficient: balance >= required,
		Balance:    balance,
		Required:   required,
	}, nil
}

// ValidateAddress — структурная проверка адреса без похода в сеть.
func (c *Client) ValidateAddress(addr string) bool {
	return ValidateAddress(addr)
}

func (c *Client) postGatewayOK(ctx context.Context, path string, body interface{}) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.postGateway(ctx, path, body, &resp); err != nil {
		return false, err
	}
	if !resp.Success {
		return false, ErrLedgerRejected
	}
	return true, nil
}

func (c *Client) postGateway(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ton: не удалось сериализовать запрос: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ton: не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: шлюз вернул статус %d", ErrLedgerUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: шлюз вернул статус %d", ErrLedgerRejected, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: не удалось распарсить ответ шлюза: %v", ErrLedgerUnavailable, err)
		}
	}
	return nil
}

func (c *Client) getAPI(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("ton: не удалось создать запрос: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API вернул статус %d", ErrLedgerUnavailable, resp.StatusCode)
	}

	var wrapped tonAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("%w: не удалось распарсить ответ API: %v", ErrLedgerUnavailable, err)
	}
	if !wrapped.OK {
		return nil, fmt.Errorf("%w: %s", ErrLedgerRejected, wrapped.Error)
	}
	return wrapped.Result, nil
}
