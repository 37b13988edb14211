package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/ton"
)

func disputedOrder(requesterID, providerID uuid.UUID) *models.Order {
	escrow := testEscrowAddr
	return &models.Order{
		ID:             uuid.New(),
		RequesterID:    requesterID,
		ProviderID:     &providerID,
		BudgetNanoTon:  1_000_000_000,
		PlatformFeeBps: 250,
		EscrowAddress:  &escrow,
		Status:         models.OrderStatusDisputed,
	}
}

func TestDisputeService_OpenDispute_Success(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	ledger := new(mockLedger)
	notifier := new(mockNotifier)
	svc := NewDisputeService(disputeRepo, orderRepo, new(mockUserRepo), ledger, testGuard(), notifier, 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	orderID := uuid.New()
	escrow := testEscrowAddr

	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, ProviderID: &providerID,
		Status: models.OrderStatusDelivered, EscrowAddress: &escrow,
	}, nil)
	disputeRepo.On("HasOpen", ctx, orderID).Return(false, nil)
	orderRepo.On("Transition", ctx, orderID, mock.Anything, models.OrderStatusDisputed).
		Return(&models.Order{ID: orderID, Status: models.OrderStatusDisputed}, nil)
	disputeRepo.On("Create", ctx, mock.AnythingOfType("*models.Dispute")).Return(nil)
	ledger.On("PauseEscrow", ctx, escrow).Return(true, nil)
	notifier.On("Notify", ctx, providerID, "Открыт спор", mock.Anything, mock.Anything)

	dispute, err := svc.OpenDispute(ctx, orderID, requesterID, "результат не соответствует заданию", []string{"https://cdn.example/proof1.jpg"})

	assert.NoError(t, err)
	assert.NotNil(t, dispute)
	assert.Equal(t, requesterID, dispute.OpenedBy)
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), dispute.SLADeadline, time.Minute)
	ledger.AssertCalled(t, "PauseEscrow", ctx, escrow)
	notifier.AssertExpectations(t)
}

func TestDisputeService_OpenDispute_AlreadyOpen(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	svc := NewDisputeService(disputeRepo, orderRepo, new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, Status: models.OrderStatusFunded,
	}, nil)
	disputeRepo.On("HasOpen", ctx, orderID).Return(true, nil)

	_, err := svc.OpenDispute(ctx, orderID, requesterID, "долго нет результата", nil)

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err))
	orderRepo.AssertNotCalled(t, "Transition")
}

func TestDisputeService_OpenDispute_NotParticipant(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	svc := NewDisputeService(new(mockDisputeRepo), orderRepo, new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: uuid.New(), Status: models.OrderStatusFunded,
	}, nil)

	_, err := svc.OpenDispute(ctx, orderID, uuid.New(), "долго нет результата", nil)

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeNotParticipant, apperror.CodeOf(err))
}

func TestDisputeService_OpenDispute_TerminalOrder(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	svc := NewDisputeService(new(mockDisputeRepo), orderRepo, new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: requesterID, Status: models.OrderStatusApproved,
	}, nil)

	_, err := svc.OpenDispute(ctx, orderID, requesterID, "хочу вернуть деньги", nil)

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, apperror.CodeOf(err))
}

func TestDisputeService_ResolveDispute_Refund(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	arbiterID := uuid.New()
	order := disputedOrder(requesterID, providerID)
	buyerWallet := testBuyerWallet
	sellerWallet := testSellerWallet

	dispute := &models.Dispute{
		ID: uuid.New(), DisputeID: "DSP-AB12CD34", OrderID: order.ID,
		OpenedBy: requesterID, Status: models.DisputeStatusOpen,
	}
	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, arbiterID).Return(&models.User{ID: arbiterID, IsArbiter: true}, nil)
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("RefundEscrow", ctx, testEscrowAddr, buyerWallet, models.NanoTON(1_000_000_000)).Return(true, nil)

	resolved := &models.Dispute{
		ID: dispute.ID, DisputeID: dispute.DisputeID, OrderID: order.ID,
		Status: models.DisputeStatusResolved,
	}
	disputeRepo.On("ResolveTx", ctx, dispute.ID, models.DecisionRefund, "доказательства заказчика убедительны",
		order.ID, models.OrderStatusRefunded).Return(resolved, nil)

	payload, replayed, err := svc.ResolveDispute(ctx, dispute.ID, arbiterID, ResolveInput{
		Decision:   models.DecisionRefund,
		Resolution: "доказательства заказчика убедительны",
		OpID:       "resolve_" + dispute.ID.String() + "_1",
	})

	assert.NoError(t, err)
	assert.False(t, replayed)
	var got models.Dispute
	assert.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, models.DisputeStatusResolved, got.Status)
	ledger.AssertExpectations(t)
}

func TestDisputeService_ResolveDispute_Approve(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	arbiterID := uuid.New()
	order := disputedOrder(requesterID, providerID)
	buyerWallet := testBuyerWallet
	sellerWallet := testSellerWallet

	dispute := &models.Dispute{
		ID: uuid.New(), DisputeID: "DSP-AB12CD34", OrderID: order.ID,
		OpenedBy: providerID, Status: models.DisputeStatusUnderReview,
	}
	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, arbiterID).Return(&models.User{ID: arbiterID, IsArbiter: true}, nil)
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	// Выплата по решению арбитра идёт за вычетом комиссии, как при обычном подтверждении.
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(975_000_000)).Return(true, nil)
	disputeRepo.On("ResolveTx", ctx, dispute.ID, models.DecisionApprove, "работа выполнена корректно",
		order.ID, models.OrderStatusApproved).
		Return(&models.Dispute{ID: dispute.ID, Status: models.DisputeStatusResolved}, nil)

	_, _, err := svc.ResolveDispute(ctx, dispute.ID, arbiterID, ResolveInput{
		Decision:   models.DecisionApprove,
		Resolution: "работа выполнена корректно",
		OpID:       "resolve_" + dispute.ID.String() + "_1",
	})

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestDisputeService_ResolveDispute_Partial(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	arbiterID := uuid.New()
	order := disputedOrder(requesterID, providerID)
	buyerWallet := testBuyerWallet
	sellerWallet := testSellerWallet

	dispute := &models.Dispute{
		ID: uuid.New(), DisputeID: "DSP-AB12CD34", OrderID: order.ID,
		OpenedBy: requesterID, Status: models.DisputeStatusOpen,
	}
	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, arbiterID).Return(&models.User{ID: arbiterID, IsArbiter: true}, nil)
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	// Исполнителю частичная сумма, заказчику остаток.
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(400_000_000)).Return(true, nil)
	ledger.On("RefundEscrow", ctx, testEscrowAddr, buyerWallet, models.NanoTON(600_000_000)).Return(true, nil)
	disputeRepo.On("ResolveTx", ctx, dispute.ID, models.DecisionPartial, "работа выполнена частично",
		order.ID, models.OrderStatusApproved).
		Return(&models.Dispute{ID: dispute.ID, Status: models.DisputeStatusResolved}, nil)

	_, _, err := svc.ResolveDispute(ctx, dispute.ID, arbiterID, ResolveInput{
		Decision:      models.DecisionPartial,
		Resolution:    "работа выполнена частично",
		PartialAmount: 400_000_000,
		OpID:          "resolve_" + dispute.ID.String() + "_1",
	})

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestDisputeService_ResolveDispute_PartialRemainderFailureKeepsOpID(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	arbiterID := uuid.New()
	order := disputedOrder(requesterID, providerID)
	buyerWallet := testBuyerWallet
	sellerWallet := testSellerWallet

	dispute := &models.Dispute{ID: uuid.New(), OrderID: order.ID, Status: models.DisputeStatusOpen}
	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, arbiterID).Return(&models.User{ID: arbiterID, IsArbiter: true}, nil)
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)
	ledger.On("ReleaseEscrow", ctx, testEscrowAddr, sellerWallet, models.NanoTON(400_000_000)).Return(true, nil)
	ledger.On("RefundEscrow", ctx, testEscrowAddr, buyerWallet, models.NanoTON(600_000_000)).
		Return(false, ton.ErrLedgerUnavailable)

	opID := "resolve_" + dispute.ID.String() + "_1"
	_, _, err := svc.ResolveDispute(ctx, dispute.ID, arbiterID, ResolveInput{
		Decision:      models.DecisionPartial,
		Resolution:    "работа выполнена частично",
		PartialAmount: 400_000_000,
		OpID:          opID,
	})
	assert.Error(t, err)

	// Частичная выплата уже прошла: повтор с тем же opId возвращает
	// пометку о сверке, а не выплачивает её второй раз.
	payload, replayed, err := svc.ResolveDispute(ctx, dispute.ID, arbiterID, ResolveInput{
		Decision:      models.DecisionPartial,
		Resolution:    "работа выполнена частично",
		PartialAmount: 400_000_000,
		OpID:          opID,
	})
	assert.NoError(t, err)
	assert.True(t, replayed)
	assert.Contains(t, string(payload), "needs_reconciliation")
	ledger.AssertNumberOfCalls(t, "ReleaseEscrow", 1)
	ledger.AssertNumberOfCalls(t, "RefundEscrow", 1)
}

func TestDisputeService_ResolveDispute_RequiresArbiter(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	// Авторизованный посторонний пользователь без роли арбитра не может
	// двигать чужой escrow.
	outsiderID := uuid.New()
	userRepo.On("GetByID", ctx, outsiderID).Return(&models.User{ID: outsiderID}, nil)

	_, _, err := svc.ResolveDispute(ctx, uuid.New(), outsiderID, ResolveInput{
		Decision:   models.DecisionRefund,
		Resolution: "решение постороннего",
		OpID:       "resolve_outsider_1",
	})

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "RefundEscrow")
	disputeRepo.AssertNotCalled(t, "GetByID")
}

func TestDisputeService_ResolveDispute_ParticipantForbidden(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	order := disputedOrder(requesterID, providerID)

	dispute := &models.Dispute{
		ID: uuid.New(), OrderID: order.ID, OpenedBy: requesterID,
		Status: models.DisputeStatusOpen,
	}
	// Даже арбитр не решает спор по заказу, в котором он сторона.
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, IsArbiter: true}, nil)
	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)

	_, _, err := svc.ResolveDispute(ctx, dispute.ID, requesterID, ResolveInput{
		Decision:   models.DecisionRefund,
		Resolution: "возвращаю себе деньги",
		OpID:       "resolve_" + dispute.ID.String() + "_1",
	})

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "RefundEscrow")
}

func TestDisputeService_ResolveDispute_AlreadyResolved(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, new(mockOrderRepo), userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	arbiterID := uuid.New()
	userRepo.On("GetByID", ctx, arbiterID).Return(&models.User{ID: arbiterID, IsArbiter: true}, nil)
	dispute := &models.Dispute{ID: uuid.New(), Status: models.DisputeStatusResolved}
	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)

	_, _, err := svc.ResolveDispute(ctx, dispute.ID, arbiterID, ResolveInput{
		Decision:   models.DecisionRefund,
		Resolution: "повторное решение",
		OpID:       "resolve_" + dispute.ID.String() + "_2",
	})

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, apperror.CodeOf(err))
}

func TestDisputeService_ResolveDispute_PartialAmountOutOfRange(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	userRepo := new(mockUserRepo)
	ledger := new(mockLedger)
	svc := NewDisputeService(disputeRepo, orderRepo, userRepo, ledger, testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	arbiterID := uuid.New()
	order := disputedOrder(requesterID, providerID)
	buyerWallet := testBuyerWallet
	sellerWallet := testSellerWallet

	dispute := &models.Dispute{ID: uuid.New(), OrderID: order.ID, Status: models.DisputeStatusOpen}
	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	userRepo.On("GetByID", ctx, arbiterID).Return(&models.User{ID: arbiterID, IsArbiter: true}, nil)
	userRepo.On("GetByID", ctx, requesterID).Return(&models.User{ID: requesterID, WalletAddress: &buyerWallet}, nil)
	userRepo.On("GetByID", ctx, providerID).Return(&models.User{ID: providerID, WalletAddress: &sellerWallet}, nil)

	_, _, err := svc.ResolveDispute(ctx, dispute.ID, arbiterID, ResolveInput{
		Decision:      models.DecisionPartial,
		Resolution:    "частичная сумма равна бюджету",
		PartialAmount: order.BudgetNanoTon,
		OpID:          "resolve_" + dispute.ID.String() + "_1",
	})

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeValidation, apperror.CodeOf(err))
	ledger.AssertNotCalled(t, "ReleaseEscrow")
}

func TestDisputeService_AddEvidence_ClosedDispute(t *testing.T) {
	disputeRepo := new(mockDisputeRepo)
	orderRepo := new(mockOrderRepo)
	svc := NewDisputeService(disputeRepo, orderRepo, new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	requesterID := uuid.New()
	providerID := uuid.New()
	order := disputedOrder(requesterID, providerID)
	dispute := &models.Dispute{ID: uuid.New(), OrderID: order.ID, Status: models.DisputeStatusUnderReview}

	disputeRepo.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	orderRepo.On("GetByID", ctx, order.ID).Return(order, nil)
	disputeRepo.On("AppendEvidence", ctx, dispute.ID, []string{"https://cdn.example/late.jpg"}).
		Return(nil, repository.ErrDisputeClosed)

	_, err := svc.AddEvidence(ctx, dispute.ID, requesterID, []string{"https://cdn.example/late.jpg"})

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, apperror.CodeOf(err))
}

func TestDisputeService_ListByOrder_ParticipantOnly(t *testing.T) {
	orderRepo := new(mockOrderRepo)
	svc := NewDisputeService(new(mockDisputeRepo), orderRepo, new(mockUserRepo), new(mockLedger), testGuard(), anyNotifier(), 72*time.Hour)
	ctx := context.Background()

	orderID := uuid.New()
	orderRepo.On("GetByID", ctx, orderID).Return(&models.Order{
		ID: orderID, RequesterID: uuid.New(), Status: models.OrderStatusDisputed,
	}, nil)

	_, err := svc.ListByOrder(ctx, orderID, uuid.New())

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeNotParticipant, apperror.CodeOf(err))
}
