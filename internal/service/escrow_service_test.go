package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/ton"
)

const (
	testBuyerWallet  = "UQDtFpEwcFAEcRe5mLVh2N6C0x-_hJEM7W61_JLnSF74p4q2"
	testSellerWallet = "EQAWzEKcdnykvXfUNouqdS62tvrp32bCxuKS6eQrS6ISgcLo"
	testEscrowAddr   = "EQB5mLVh2N6C0x_hJEM7W61_JLnSF74p4q2dnykvXfUNouqd"
)

func deliveredOrder(requesterID, providerID uuid.UUID) *models.Order {
	escrow := testEscrowAddr
	return &models.Order{
		ID:             uuid.New(),
		RequesterID:    requesterID,
		ProviderID:     &providerID,
		BudgetNanoTon:  1_000_000_000,
		PlatformFeeBps: 250,
		EscrowAddress:  &escrow,
		Status:         models.OrderStatusDelivered,
	}
}

func TestEscrowService_CreateEscrow_Success(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	buyerWallet := testBuyerWallet
	sellerWallet := testSellerWallet

	pending := &models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		BudgetNanoTon: 1_000_000_000, Status: models.OrderStatusPendingFunding,
	}
	escrow := testEscrowAddr
	bound := &models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		BudgetNanoTon: 1_000_000_000, Status: models.OrderStatusPendingFunding,
		EscrowAddress: &escrow,
	}
	orderRepo.On("GetByID", ctx, orderID).Return(pending, nil).Once()
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("ValidateAddress", buyerWallet).Return(true)
	ledger.On("ValidateAddress", sellerWallet).Return(true)
	ledger.On("CreateEscrow", ctx, ton.CreateEscrowParams{
		OrderID:    orderID.String(),
		Amount:     1_000_000_000,
		BuyerAddr:  buyerWallet,
		SellerAddr: sellerWallet,
	}).Return(testEscrowAddr, nil)
	orderRepo.On("SetEscrowAddress", ctx, orderID, testEscrowAddr).Return(nil)
	orderRepo.On("GetByID", ctx, orderID).Return(bound, nil)

	got, err := svc.CreateEscrow(ctx, orderID, requesterID)

	assert.NoError(t, err)
	assert.NotNil(t, got.EscrowAddress)
	assert.Equal(t, testEscrowAddr, *got.EscrowAddress)
}

func TestEscrowService_CreateEscrow_AlreadyBound(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	escrow := testEscrowAddr
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		Status: models.OrderStatusPendingFunding, EscrowAddress: &escrow,
	}, nil)

	got, err := svc.CreateEscrow(ctx, orderID, requesterID)

	assert.NoError(t, err)
	assert.Equal(t, escrow, *got.EscrowAddress)
	ledger.AssertNotCalled(t, "CreateEscrow")
}

func TestEscrowService_CreateEscrow_OnlyRequester(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier())
	ctx := context.Background()

	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: uuid.New(), Status: models.OrderStatusPendingFunding,
	}, nil)

	_, err := svc.CreateEscrow(ctx, orderID, uuid.New())

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeNotParticipant, apperror.CodeOf(err))
}

func TestEscrowService_VerifyFunding_Confirms(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	notifier := new(mockNotifier)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), ledger, testGuard(), notifier)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	escrow := testEscrowAddr

	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		Status: models.OrderStatusPendingFunding, EscrowAddress: &escrow,
	}, nil)
	ledger.On("GetEscrowStatus", ctx, escrow).Return(ton.EscrowStatusFunded, nil)
	orderRepo.On("Transition", ctx, orderID,
		[]models.OrderStatus{models.OrderStatusPendingFunding}, models.OrderStatusFunded).
		Return(&models.Order{
			ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
			Status: models.OrderStatusFunded, EscrowAddress: &escrow,
		}, nil)
	notifier.On("Notify", ctx, providerID, "Заказ оплачен", mock.Anything, mock.Anything)

	got, status, err := svc.VerifyFunding(ctx, orderID, requesterID)

	assert.NoError(t, err)
	assert.Equal(t, ton.EscrowStatusFunded, status)
	assert.Equal(t, models.OrderStatusFunded, got.Status)
	notifier.AssertExpectations(t)
}

func TestEscrowService_VerifyFunding_NotYetFunded(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	orderID := uuid.New()
	escrow := testEscrowAddr
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID,
		Status: models.OrderStatusPendingFunding, EscrowAddress: &escrow,
	}, nil)
	ledger.On("GetEscrowStatus", ctx, escrow).Return(ton.EscrowStatusPending, nil)

	got, status, err := svc.VerifyFunding(ctx, orderID, requesterID)

	assert.NoError(t, err)
	assert.Equal(t, ton.EscrowStatusPending, status)
	assert.Equal(t, models.OrderStatusPendingFunding, got.Status)
	orderRepo.AssertNotCalled(t, "Transition")
}

func TestEscrowService_VerifyFunding_AlreadyActive(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, Status: models.OrderStatusInProgress,
	}, nil)

	_, status, err := svc.VerifyFunding(ctx, orderID, requesterID)

	assert.NoError(t, err)
	assert.Equal(t, ton.EscrowStatusFunded, status)
	ledger.AssertNotCalled(t, "GetEscrowStatus")
}

func TestEscrowService_Approve_Success(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	sellerWallet := testSellerWallet
	order := deliveredOrder(requesterID, providerID)

	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("ValidateAddress", sellerWallet).Return(true)
	// Бюджет 1 TON при комиссии 250 bps: исполнителю уходит 0.975 TON.
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(975_000_000)).Return(true, nil)
	orderRepo.On("Transition", ctx, order.ID,
		[]models.OrderStatus{models.OrderStatusDelivered}, models.OrderStatusApproved).
		Return(&models.Order{
			ID: order.ID, RequesterID: requesterID, ProviderID: &providerID,
			Status: models.OrderStatusApproved,
		}, nil)

	payload, replayed, err := svc.Approve(ctx, order.ID, requesterID, "approve_"+order.ID.String()+"_1")

	assert.NoError(t, err)
	assert.False(t, replayed)
	var approved models.Order
	assert.NoError(t, json.Unmarshal(payload, &approved))
	assert.Equal(t, models.OrderStatusApproved, approved.Status)
	ledger.AssertExpectations(t)
}

func TestEscrowService_Approve_FeeMath(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	sellerWallet := testSellerWallet
	order := deliveredOrder(requesterID, providerID)
	order.BudgetNanoTon = 2_500_000_000

	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("ValidateAddress", sellerWallet).Return(true)
	// 2.5 TON * 250 bps = 62_500_000 комиссии, выплата 2_437_500_000.
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(2_437_500_000)).Return(true, nil)
	orderRepo.On("Transition", ctx, order.ID, mock.Anything, models.OrderStatusApproved).
		Return(&models.Order{ID: order.ID, Status: models.OrderStatusApproved, ProviderID: &providerID}, nil)

	_, _, err := svc.Approve(ctx, order.ID, requesterID, "approve_"+order.ID.String()+"_1")

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestEscrowService_Approve_ReplaySkipsLedger(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	sellerWallet := testSellerWallet
	order := deliveredOrder(requesterID, providerID)

	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("ValidateAddress", sellerWallet).Return(true)
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(975_000_000)).Return(true, nil)
	orderRepo.On("Transition", ctx, order.ID, mock.Anything, models.OrderStatusApproved).
		Return(&models.Order{ID: order.ID, Status: models.OrderStatusApproved, ProviderID: &providerID}, nil)

	opID := "approve_" + order.ID.String() + "_1"
	first, replayed, err := svc.Approve(ctx, order.ID, requesterID, opID)
	assert.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.Approve(ctx, order.ID, requesterID, opID)
	assert.NoError(t, err)
	assert.True(t, replayed)
	assert.JSONEq(t, string(first), string(second))

	ledger.AssertNumberOfCalls(t, "ReleaseEscrow", 1)
}

func TestEscrowService_Approve_WrongStatus(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, Status: models.OrderStatusFunded,
	}, nil)

	_, _, err := svc.Approve(ctx, orderID, requesterID, "approve_x_1")

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "ReleaseEscrow")
}

func TestEscrowService_Approve_RequiresOpID(t *testing.T) {
	svc := NewEscrowService(new(mockOrderRepo), new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier())

	_, _, err := svc.Approve(context.Background(), uuid.New(), uuid.New(), "")

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeValidation, apperror.CodeOf(err))
}

func TestEscrowService_Approve_RetryAfterLedgerFailure(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	sellerWallet := testSellerWallet
	order := deliveredOrder(requesterID, providerID)

	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("ValidateAddress", sellerWallet).Return(true)
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(975_000_000)).
		Return(false, ton.ErrLedgerUnavailable).Once()
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(975_000_000)).
		Return(true, nil).Once()
	orderRepo.On("Transition", ctx, order.ID, mock.Anything, models.OrderStatusApproved).
		Return(&models.Order{ID: order.ID, Status: models.OrderStatusApproved, ProviderID: &providerID}, nil)

	opID := "approve_" + order.ID.String() + "_1"
	_, _, err := svc.Approve(ctx, order.ID, requesterID, opID)
	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeLedgerUnavailable, apperror.CodeOf(err))

	// Неудача снимает захват opId: повтор выполняет операцию заново.
	_, replayed, err := svc.Approve(ctx, order.ID, requesterID, opID)
	assert.NoError(t, err)
	assert.False(t, replayed)
	ledger.AssertNumberOfCalls(t, "ReleaseEscrow", 2)
}

func TestEscrowService_Approve_NoDoublePayoutAfterLocalWriteFailure(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	sellerWallet := testSellerWallet
	order := deliveredOrder(requesterID, providerID)

	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("ValidateAddress", sellerWallet).Return(true)
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(975_000_000)).Return(true, nil)
	orderRepo.On("Transition", ctx, order.ID, mock.Anything, models.OrderStatusApproved).
		Return(nil, errors.New("db connection lost"))

	opID := "approve_" + order.ID.String() + "_1"
	_, _, err := svc.Approve(ctx, order.ID, requesterID, opID)
	assert.Error(t, err)

	// Выплата прошла, фиксация — нет: повтор с тем же opId возвращает
	// пометку о сверке и не вызывает ledger второй раз.
	payload, replayed, err := svc.Approve(ctx, order.ID, requesterID, opID)
	assert.NoError(t, err)
	assert.True(t, replayed)
	assert.Contains(t, string(payload), "needs_reconciliation")
	ledger.AssertNumberOfCalls(t, "ReleaseEscrow", 1)
}

func TestEscrowService_Refund_NoDoubleRefundAfterLocalWriteFailure(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	buyerWallet := testBuyerWallet
	escrow := testEscrowAddr

	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		BudgetNanoTon: 1_000_000_000, PlatformFeeBps: 250,
		EscrowAddress: &escrow, Status: models.OrderStatusFunded,
	}, nil)
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	ledger.On("ValidateAddress", buyerWallet).Return(true)
	ledger.On("RefundEscrow", ctx, escrow, buyerWallet, models.NanoTON(1_000_000_000)).Return(true, nil)
	orderRepo.On("Transition", ctx, orderID, refundableStatuses, models.OrderStatusRefunded).
		Return(nil, errors.New("db connection lost"))

	opID := "refund_" + orderID.String() + "_1"
	_, _, err := svc.Refund(ctx, orderID, requesterID, opID)
	assert.Error(t, err)

	payload, replayed, err := svc.Refund(ctx, orderID, requesterID, opID)
	assert.NoError(t, err)
	assert.True(t, replayed)
	assert.Contains(t, string(payload), "needs_reconciliation")
	ledger.AssertNumberOfCalls(t, "RefundEscrow", 1)
}

func TestEscrowService_Refund_FullAmount(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, userRepo, ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	buyerWallet := testBuyerWallet
	escrow := testEscrowAddr

	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		BudgetNanoTon: 1_000_000_000, PlatformFeeBps: 250,
		EscrowAddress: &escrow, Status: models.OrderStatusInProgress,
	}, nil)
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	ledger.On("ValidateAddress", buyerWallet).Return(true)
	// Возврат всегда полный, комиссия не удерживается.
	ledger.On("RefundEscrow", ctx, escrow, buyerWallet, models.NanoTON(1_000_000_000)).Return(true, nil)
	orderRepo.On("Transition", ctx, orderID, refundableStatuses, models.OrderStatusRefunded).
		Return(&models.Order{ID: orderID, Status: models.OrderStatusRefunded, ProviderID: &providerID}, nil)

	payload, replayed, err := svc.Refund(ctx, orderID, requesterID, "refund_"+orderID.String()+"_1")

	assert.NoError(t, err)
	assert.False(t, replayed)
	var refunded models.Order
	assert.NoError(t, json.Unmarshal(payload, &refunded))
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)
	ledger.AssertExpectations(t)
}

func TestEscrowService_Refund_DeliveredRejected(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, Status: models.OrderStatusDelivered,
	}, nil)

	_, _, err := svc.Refund(ctx, orderID, requesterID, "refund_x_1")

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "RefundEscrow")
}

func TestEscrowService_Pause_OnlyDisputed(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	svc := NewEscrowService(orderRepo, new(mockUserRepo), ledger, testGuard(), anyNotifier())
	ctx := context.Background()

	requesterID := uuid.New()
	orderID := uuid.New()
	escrow := testEscrowAddr
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID,
		Status: models.OrderStatusFunded, EscrowAddress: &escrow,
	}, nil)

	_, err := svc.Pause(ctx, orderID, requesterID)

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "PauseEscrow")
}
