package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
)

func TestTipService_TipOrder_Success(t *testing.T) {
	tipRepo := new(mockTipRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	notifier := new(mockNotifier)
	svc := NewTipService(tipRepo, orderRepo, userRepo, ledger, testGuard(), notifier)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	wallet := testSellerWallet

	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		Status: models.OrderStatusApproved,
	}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &wallet}, nil)
	ledger.On("Transfer", ctx, wallet, models.NanoTON(50_000_000), "Чаевые за заказ "+orderID.String()).
		Return(true, nil)
	tipRepo.On("Create", ctx, mock.AnythingOfType("*models.Tip")).Return(nil)
	notifier.On("Notify", ctx, providerID, "Вам чаевые!", mock.Anything, mock.Anything)

	payload, replayed, err := svc.TipOrder(ctx, orderID, requesterID, 50_000_000, nil, "tip_"+orderID.String()+"_1")

	assert.NoError(t, err)
	assert.False(t, replayed)
	var tip models.Tip
	assert.NoError(t, json.Unmarshal(payload, &tip))
	assert.Equal(t, providerID, tip.ToUserID)
	assert.Equal(t, models.NanoTON(50_000_000), tip.Amount)
	ledger.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestTipService_TipOrder_ReplaySkipsTransfer(t *testing.T) {
	tipRepo := new(mockTipRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewTipService(tipRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	wallet := testSellerWallet

	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		Status: models.OrderStatusApproved,
	}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &wallet}, nil)
	ledger.On("Transfer", ctx, wallet, models.NanoTON(50_000_000), mock.Anything).Return(true, nil)
	tipRepo.On("Create", ctx, mock.AnythingOfType("*models.Tip")).Return(nil)

	opID := "tip_" + orderID.String() + "_1"
	_, replayed, err := svc.TipOrder(ctx, orderID, requesterID, 50_000_000, nil, opID)
	assert.NoError(t, err)
	assert.False(t, replayed)

	_, replayed, err = svc.TipOrder(ctx, orderID, requesterID, 50_000_000, nil, opID)
	assert.NoError(t, err)
	assert.True(t, replayed)

	ledger.AssertNumberOfCalls(t, "Transfer", 1)
	tipRepo.AssertNumberOfCalls(t, "Create", 1)
}

func TestTipService_TipOrder_OnlyApproved(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewTipService(new(mockTipRepo), orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		Status: models.OrderStatusDelivered,
	}, nil)

	_, _, err := svc.TipOrder(ctx, orderID, requesterID, 50_000_000, nil, "tip_x_1")

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "Transfer")
}

func TestTipService_TipOrder_OnlyRequester(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewTipService(new(mockTipRepo), orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	providerID := uuid.New()
	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: uuid.New(), ProviderID: &providerID,
		Status: models.OrderStatusApproved,
	}, nil)

	_, _, err := svc.TipOrder(ctx, orderID, providerID, 50_000_000, nil, "tip_x_1")

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeNotParticipant, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "Transfer")
}

func TestTipService_TipOrder_NonPositiveAmount(t *testing.T) {
	svc := NewTipService(new(mockTipRepo), new(mockOrderRepo), new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier())

	_, _, err := svc.TipOrder(context.Background(), uuid.New(), uuid.New(), 0, nil, "tip_x_1")

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeValidation, apperror.CodeOf(err))
}
