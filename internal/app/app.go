// Package app wires the storefront's checkout flow together: build CRUD,
// the navigation guard, the payment wizard, contract signing, and the
// offline replay buffer.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"havenhomes/internal/contracts"
	"havenhomes/internal/payments"
	"havenhomes/internal/util"
	"havenhomes/pkg/checkout"
	"havenhomes/pkg/domain"
	"havenhomes/pkg/pricing"
	"havenhomes/pkg/queue"
	"havenhomes/pkg/store"
)

// TransferSetup is the bank-transfer connector surface the app needs.
type TransferSetup interface {
	payments.Connector
	Provision(ctx context.Context, buildID string, amountCents int64) (domain.TransferInstructions, error)
}

// CardSetup is the card connector surface the app needs.
type CardSetup interface {
	payments.Connector
	Charge(ctx context.Context, buildID, instrumentID string, amountCents int64) (string, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store

	ACH      payments.Connector
	Transfer TransferSetup
	Card     CardSetup
	// RetryDelay is the wait between automatic setup retries; tests shorten it.
	RetryDelay time.Duration

	VerifyCodes *payments.VerifyCodeStore

	// ContractConfig feeds the contract orchestrator; its Store and
	// OnAllCompleted are filled in here.
	ContractConfig *contracts.Config

	Queue *queue.OfflineQueue
}

// App is the core application service.
type App struct {
	store       store.Store
	ach         payments.Connector
	transfer    TransferSetup
	card        CardSetup
	retryDelay  time.Duration
	verifyCodes *payments.VerifyCodeStore
	contracts   *contracts.Orchestrator
	queue       *queue.OfflineQueue
}

// New constructs the application. The contract orchestrator is built here so
// its all-completed hook can advance the checkout step.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required (no in-memory store allowed)")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	a := &App{
		store:       dataStore,
		ach:         cfg.ACH,
		transfer:    cfg.Transfer,
		card:        cfg.Card,
		retryDelay:  cfg.RetryDelay,
		verifyCodes: cfg.VerifyCodes,
		queue:       cfg.Queue,
	}

	if cfg.ContractConfig != nil {
		contractCfg := *cfg.ContractConfig
		contractCfg.Store = dataStore
		contractCfg.OnAllCompleted = a.finishCheckout
		orch, err := contracts.New(contractCfg)
		if err != nil {
			return nil, fmt.Errorf("init contract orchestrator: %w", err)
		}
		a.contracts = orch
	}
	return a, nil
}

// Contracts exposes the orchestrator for startup resume.
func (a *App) Contracts() *contracts.Orchestrator { return a.contracts }

// AttachQueue wires the offline queue after construction. The queue's
// executor is a method on the app, so the two cannot be built in one step.
func (a *App) AttachQueue(q *queue.OfflineQueue) { a.queue = q }

// BuildInput carries the fields a buyer sets when starting a build.
type BuildInput struct {
	ModelID          string               `json:"modelId"`
	ModelName        string               `json:"modelName"`
	BasePriceCents   int64                `json:"basePriceCents"`
	DeliveryFeeCents int64                `json:"deliveryFeeCents"`
	Options          []domain.BuildOption `json:"options"`
}

// CreateBuild starts a new build at the first checkout step.
func (a *App) CreateBuild(owner domain.User, in BuildInput) (domain.Build, error) {
	if strings.TrimSpace(in.ModelID) == "" {
		return domain.Build{}, errors.New("modelId required")
	}
	if in.BasePriceCents < 0 || in.DeliveryFeeCents < 0 {
		return domain.Build{}, errors.New("prices must be >= 0")
	}
	now := time.Now().UTC()
	build := domain.Build{
		ID:               util.NewID(),
		OwnerID:          owner.ID,
		ModelID:          in.ModelID,
		ModelName:        in.ModelName,
		BasePriceCents:   in.BasePriceCents,
		DeliveryFeeCents: in.DeliveryFeeCents,
		Options:          in.Options,
		Step:             domain.StepModel,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.SaveBuild(build); err != nil {
		return domain.Build{}, fmt.Errorf("save build: %w", err)
	}
	return build, nil
}

// GetBuild retrieves a build the user may see.
func (a *App) GetBuild(user domain.User, id string) (domain.Build, error) {
	return a.loadBuild(user, id)
}

// ListBuilds returns all builds for the current user scope.
func (a *App) ListBuilds(user domain.User) ([]domain.Build, error) {
	if user.Role == domain.RoleAdmin {
		return a.store.ListBuilds()
	}
	return a.store.ListBuildsByOwner(user.ID)
}

// BuildPatch is a partial update to a build's configuration. Nil fields are
// left unchanged.
type BuildPatch struct {
	ModelID          *string               `json:"modelId,omitempty"`
	ModelName        *string               `json:"modelName,omitempty"`
	BasePriceCents   *int64                `json:"basePriceCents,omitempty"`
	DeliveryFeeCents *int64                `json:"deliveryFeeCents,omitempty"`
	Options          *[]domain.BuildOption `json:"options,omitempty"`
	Buyer            *domain.BuyerInfo     `json:"buyer,omitempty"`
	Primary          *bool                 `json:"primary,omitempty"`
}

// pricedChange reports whether the patch alters the purchase price.
func (p BuildPatch) pricedChange() bool {
	return p.ModelID != nil || p.BasePriceCents != nil || p.DeliveryFeeCents != nil || p.Options != nil
}

// UpdateBuild applies a partial update. Price-affecting changes are refused
// once the build has entered contract signing.
func (a *App) UpdateBuild(user domain.User, id string, patch BuildPatch) (domain.Build, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return domain.Build{}, err
	}
	if build.Step >= domain.StepContract && patch.pricedChange() {
		return domain.Build{}, ErrBuildLocked
	}
	if patch.ModelID != nil {
		build.ModelID = *patch.ModelID
	}
	if patch.ModelName != nil {
		build.ModelName = *patch.ModelName
	}
	if patch.BasePriceCents != nil {
		build.BasePriceCents = *patch.BasePriceCents
	}
	if patch.DeliveryFeeCents != nil {
		build.DeliveryFeeCents = *patch.DeliveryFeeCents
	}
	if patch.Options != nil {
		build.Options = *patch.Options
	}
	if patch.Buyer != nil {
		build.Buyer = *patch.Buyer
	}
	if patch.Primary != nil {
		build.Primary = *patch.Primary
	}
	build.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBuild(build); err != nil {
		return domain.Build{}, fmt.Errorf("save build: %w", err)
	}
	return build, nil
}

// DeleteBuild removes a build.
func (a *App) DeleteBuild(user domain.User, id string) error {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return err
	}
	// A build mid-signing must not vanish under the e-signature provider;
	// only an admin can remove it.
	if build.Step >= domain.StepContract && user.Role != domain.RoleAdmin {
		return ErrBuildLocked
	}
	return a.store.DeleteBuild(id)
}

// Navigate decides whether the user may move to the target step and, when
// the move advances progress, records it. The step counter never moves
// backward; revisiting an earlier step leaves it untouched.
func (a *App) Navigate(ctx context.Context, user domain.User, id string, target domain.CheckoutStep) (checkout.Decision, domain.Build, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return checkout.Decision{}, domain.Build{}, err
	}
	decision := checkout.CanNavigate(target, build, user.ID != "")
	if !decision.Allowed || target <= build.Step {
		return decision, build, nil
	}
	if err := a.store.SetStep(id, target); err != nil {
		return checkout.Decision{}, domain.Build{}, fmt.Errorf("advance step: %w", err)
	}
	build.Step = target
	if target == domain.StepContract {
		a.enterContract(ctx, id)
	}
	return decision, build, nil
}

// Price computes the purchase breakdown under current settings.
func (a *App) Price(user domain.User, id string) (pricing.Breakdown, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	settings, err := a.store.GetSettings()
	if err != nil {
		return pricing.Breakdown{}, fmt.Errorf("load settings: %w", err)
	}
	return pricing.Calculate(build, settings), nil
}

// PaymentState is what the payment wizard renders.
type PaymentState struct {
	Payment     domain.PaymentInfo `json:"payment"`
	Stage       checkout.Stage     `json:"stage"`
	DueNowCents int64              `json:"dueNowCents"`
}

// PaymentState reconstructs the wizard stage from the persisted sub-document.
func (a *App) PaymentState(user domain.User, id string) (PaymentState, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return PaymentState{}, err
	}
	state := PaymentState{
		Payment: build.Payment,
		Stage:   checkout.StageFor(build.Payment),
	}
	if build.Payment.Plan != nil {
		state.DueNowCents = build.Payment.Plan.AmountCents
	}
	return state, nil
}

// SetPlan chooses deposit or full payment and pins the amount due now.
func (a *App) SetPlan(user domain.User, id string, plan domain.PlanType) (domain.Build, error) {
	if plan != domain.PlanDeposit && plan != domain.PlanFull {
		return domain.Build{}, fmt.Errorf("unknown plan type %q", plan)
	}
	settings, err := a.store.GetSettings()
	if err != nil {
		return domain.Build{}, fmt.Errorf("load settings: %w", err)
	}
	return a.mutatePayment(user, id, func(build domain.Build, p *domain.PaymentInfo) error {
		bd := pricing.Calculate(build, settings)
		percent := 0
		if plan == domain.PlanDeposit {
			percent = settings.DepositPercent
		}
		p.Plan = &domain.PaymentPlan{
			Type:        plan,
			Percent:     percent,
			AmountCents: pricing.DueNowCents(bd, plan, settings.DepositPercent),
		}
		p.Ready = false
		return nil
	})
}

// SetMethod chooses the payment method and clears any progress from a
// previously selected one.
func (a *App) SetMethod(user domain.User, id string, method domain.PaymentMethod) (domain.Build, error) {
	settings, err := a.store.GetSettings()
	if err != nil {
		return domain.Build{}, fmt.Errorf("load settings: %w", err)
	}
	switch method {
	case domain.MethodACHDebit, domain.MethodBankTransfer:
	case domain.MethodCard:
		if !settings.EnableCardOption {
			return domain.Build{}, ErrCardDisabled
		}
	default:
		return domain.Build{}, fmt.Errorf("unknown payment method %q", method)
	}
	return a.mutatePayment(user, id, func(_ domain.Build, p *domain.PaymentInfo) error {
		if p.Plan == nil {
			return ErrPlanRequired
		}
		if p.Method != method {
			p.InstrumentID = ""
			p.MandateAccepted = false
			p.Transfer = nil
			p.TransferConfirmed = false
			p.CardStatus = ""
			p.Ready = false
		}
		p.Method = method
		return nil
	})
}

// BeginPaymentSetup opens the processor-side setup session for the selected
// method, retrying recoverable failures per the retry policy.
func (a *App) BeginPaymentSetup(ctx context.Context, user domain.User, id string) (payments.SetupSession, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return payments.SetupSession{}, err
	}
	if build.Payment.Plan == nil {
		return payments.SetupSession{}, ErrPlanRequired
	}
	conn, err := a.connectorFor(build.Payment.Method)
	if err != nil {
		return payments.SetupSession{}, err
	}
	return payments.BeginSetupWithRetry(ctx, conn, id, build.Payment.Plan.AmountCents, a.retryDelay)
}

// ConfirmInstrument exchanges a client token for a saved instrument.
func (a *App) ConfirmInstrument(ctx context.Context, user domain.User, id, sessionID, token string) (domain.Build, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return domain.Build{}, err
	}
	conn, err := a.connectorFor(build.Payment.Method)
	if err != nil {
		return domain.Build{}, err
	}
	instrumentID, err := conn.Confirm(ctx, id, sessionID, token)
	if err != nil {
		return domain.Build{}, err
	}
	if err := conn.Save(ctx, id, instrumentID, map[string]string{"buildId": id}); err != nil {
		return domain.Build{}, err
	}
	return a.mutatePayment(user, id, func(_ domain.Build, p *domain.PaymentInfo) error {
		p.InstrumentID = instrumentID
		return nil
	})
}

// AcceptMandate records the buyer's ACH debit authorization.
func (a *App) AcceptMandate(user domain.User, id string) (domain.Build, error) {
	return a.mutatePayment(user, id, func(_ domain.Build, p *domain.PaymentInfo) error {
		if p.Method != domain.MethodACHDebit {
			return fmt.Errorf("mandate applies to ACH debit only")
		}
		if p.InstrumentID == "" {
			return fmt.Errorf("link a bank account first")
		}
		p.MandateAccepted = true
		return nil
	})
}

// RequestTransferInstructions provisions the virtual account a bank-transfer
// buyer wires funds to.
func (a *App) RequestTransferInstructions(ctx context.Context, user domain.User, id string) (domain.Build, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return domain.Build{}, err
	}
	if build.Payment.Method != domain.MethodBankTransfer {
		return domain.Build{}, fmt.Errorf("transfer instructions apply to bank transfer only")
	}
	if build.Payment.Plan == nil {
		return domain.Build{}, ErrPlanRequired
	}
	if a.transfer == nil {
		return domain.Build{}, errors.New("transfer connector not configured")
	}
	instructions, err := a.transfer.Provision(ctx, id, build.Payment.Plan.AmountCents)
	if err != nil {
		return domain.Build{}, err
	}
	return a.mutatePayment(user, id, func(_ domain.Build, p *domain.PaymentInfo) error {
		p.Transfer = &instructions
		return nil
	})
}

// ConfirmTransfer records the buyer's commitment to send the wire.
func (a *App) ConfirmTransfer(user domain.User, id string) (domain.Build, error) {
	return a.mutatePayment(user, id, func(_ domain.Build, p *domain.PaymentInfo) error {
		if p.Transfer == nil {
			return fmt.Errorf("request transfer instructions first")
		}
		p.TransferConfirmed = true
		return nil
	})
}

// ChargeCard charges the saved card for the amount due now and records the
// processor's charge status.
func (a *App) ChargeCard(ctx context.Context, user domain.User, id string) (domain.Build, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return domain.Build{}, err
	}
	if build.Payment.Method != domain.MethodCard {
		return domain.Build{}, fmt.Errorf("charge applies to card only")
	}
	if build.Payment.InstrumentID == "" {
		return domain.Build{}, fmt.Errorf("save a card first")
	}
	if build.Payment.Plan == nil {
		return domain.Build{}, ErrPlanRequired
	}
	if a.card == nil {
		return domain.Build{}, errors.New("card connector not configured")
	}
	status, err := a.card.Charge(ctx, id, build.Payment.InstrumentID, build.Payment.Plan.AmountCents)
	if err != nil {
		return domain.Build{}, err
	}
	return a.mutatePayment(user, id, func(_ domain.Build, p *domain.PaymentInfo) error {
		p.CardStatus = status
		return nil
	})
}

// IssueVerifyCode starts micro-deposit verification for a linked account.
func (a *App) IssueVerifyCode(ctx context.Context, user domain.User, id string) (string, string, error) {
	if _, err := a.loadBuild(user, id); err != nil {
		return "", "", err
	}
	if a.verifyCodes == nil {
		return "", "", errors.New("verification not configured")
	}
	return a.verifyCodes.Issue(ctx, id)
}

// ConfirmVerifyCode checks a micro-deposit code.
func (a *App) ConfirmVerifyCode(ctx context.Context, user domain.User, id, challengeID, code string) error {
	if _, err := a.loadBuild(user, id); err != nil {
		return err
	}
	if a.verifyCodes == nil {
		return errors.New("verification not configured")
	}
	return a.verifyCodes.Verify(ctx, challengeID, id, code)
}

// MarkPaymentReady flips the readiness gate. It refuses unless every
// method-specific prerequisite holds, so Ready can never be observed true
// with incomplete details.
func (a *App) MarkPaymentReady(user domain.User, id string) (domain.Build, error) {
	return a.mutatePayment(user, id, func(_ domain.Build, p *domain.PaymentInfo) error {
		if reason := checkout.ReadinessError(*p); reason != "" {
			return &NotReadyError{Reason: reason}
		}
		p.Ready = true
		return nil
	})
}

// ContinueToContract is the explicit handoff from the payment review stage
// into contract signing.
func (a *App) ContinueToContract(ctx context.Context, user domain.User, id string) (domain.Build, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return domain.Build{}, err
	}
	if d := checkout.CanContinueToContract(build.Payment); !d.Allowed {
		return domain.Build{}, &NotReadyError{Reason: d.Reason}
	}
	if build.Step < domain.StepContract {
		if err := a.store.SetStep(id, domain.StepContract); err != nil {
			return domain.Build{}, fmt.Errorf("advance step: %w", err)
		}
		build.Step = domain.StepContract
	}
	a.enterContract(ctx, id)
	return build, nil
}

func (a *App) enterContract(ctx context.Context, id string) {
	if a.contracts == nil {
		return
	}
	if err := a.contracts.Create(id); err != nil {
		slog.Error("init contract packs", "build_id", id, "err", err)
		return
	}
	a.contracts.StartPolling(context.WithoutCancel(ctx), id)
}

// finishCheckout runs when the final contract pack completes.
func (a *App) finishCheckout(buildID string) {
	if err := a.store.SetStep(buildID, domain.StepConfirmation); err != nil {
		slog.Error("advance to confirmation", "build_id", buildID, "err", err)
		return
	}
	slog.Info("checkout completed", "build_id", buildID)
}

// ProcessorEvent is a reconciliation event delivered by the processor's
// webhook.
type ProcessorEvent struct {
	Type         string `json:"type"`
	BuildID      string `json:"buildId"`
	InstrumentID string `json:"instrumentId,omitempty"`
	Status       string `json:"status,omitempty"`
}

// HandleProcessorEvent applies an asynchronous processor outcome to the
// build's payment state. Unknown event types are ignored.
func (a *App) HandleProcessorEvent(event ProcessorEvent) error {
	build, ok, err := a.store.GetBuild(event.BuildID)
	if err != nil {
		return fmt.Errorf("get build: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	p := build.Payment
	switch event.Type {
	case "charge.succeeded":
		p.CardStatus = domain.CardStatusSucceeded
	case "charge.failed":
		p.CardStatus = domain.CardStatusFailed
		p.Ready = false
	case "transfer.received":
		p.TransferConfirmed = true
	default:
		slog.Debug("ignoring processor event", "type", event.Type, "build_id", event.BuildID)
		return nil
	}
	if err := a.store.SetPayment(event.BuildID, p); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

// ContractStatuses returns the pack status mirror for a build.
func (a *App) ContractStatuses(user domain.User, id string) (map[domain.ContractPack]domain.PackStatus, error) {
	if _, err := a.loadBuild(user, id); err != nil {
		return nil, err
	}
	return a.contracts.Statuses(id)
}

// AcknowledgeSummary marks the summary pack reviewed.
func (a *App) AcknowledgeSummary(ctx context.Context, user domain.User, id string) error {
	if _, err := a.loadBuild(user, id); err != nil {
		return err
	}
	return a.contracts.AcknowledgeSummary(ctx, id)
}

// StartPack opens a signing session for a pack.
func (a *App) StartPack(ctx context.Context, user domain.User, id string, pack domain.ContractPack) (string, error) {
	if _, err := a.loadBuild(user, id); err != nil {
		return "", err
	}
	return a.contracts.Start(ctx, id, pack)
}

// CompletePack records a callback completion signal from the signing window.
func (a *App) CompletePack(ctx context.Context, user domain.User, id string, pack domain.ContractPack) error {
	if _, err := a.loadBuild(user, id); err != nil {
		return err
	}
	return a.contracts.HandleCallback(ctx, id, pack)
}

// Settings returns storefront settings.
func (a *App) Settings() (domain.Settings, error) {
	return a.store.GetSettings()
}

// UpdateSettings validates and saves storefront settings (admin only).
func (a *App) UpdateSettings(user domain.User, s domain.Settings) (domain.Settings, error) {
	if user.Role != domain.RoleAdmin {
		return domain.Settings{}, ErrForbidden
	}
	if s.DepositPercent < 1 || s.DepositPercent > 100 {
		return domain.Settings{}, errors.New("depositPercent must be 1-100")
	}
	if s.TaxRatePercent < 0 || s.TaxRatePercent > 100 {
		return domain.Settings{}, errors.New("taxRatePercent must be 0-100")
	}
	if s.StorageFeePerDayCents < 0 || s.TitleFeeDefaultCents < 0 || s.SetupFeeDefaultCents < 0 {
		return domain.Settings{}, errors.New("fees must be >= 0")
	}
	s.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveSettings(s); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return s, nil
}

// Orders returns the builds that have reached contract signing or beyond.
// Admin only.
func (a *App) Orders(user domain.User) ([]domain.Build, error) {
	if user.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	builds, err := a.store.ListBuilds()
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	orders := make([]domain.Build, 0, len(builds))
	for _, b := range builds {
		if b.Step >= domain.StepContract {
			orders = append(orders, b)
		}
	}
	return orders, nil
}

// AnalyticsSummary is the back-office dashboard snapshot.
type AnalyticsSummary struct {
	TotalBuilds     int            `json:"totalBuilds"`
	ByStep          map[string]int `json:"byStep"`
	OrdersInSigning int            `json:"ordersInSigning"`
	CompletedOrders int            `json:"completedOrders"`
	// RevenueCents sums the rounded totals of completed orders.
	RevenueCents int64 `json:"revenueCents"`
}

// Analytics aggregates build counts by step and completed-order revenue.
// Admin only.
func (a *App) Analytics(user domain.User) (AnalyticsSummary, error) {
	if user.Role != domain.RoleAdmin {
		return AnalyticsSummary{}, ErrForbidden
	}
	builds, err := a.store.ListBuilds()
	if err != nil {
		return AnalyticsSummary{}, fmt.Errorf("list builds: %w", err)
	}
	settings, err := a.store.GetSettings()
	if err != nil {
		return AnalyticsSummary{}, fmt.Errorf("load settings: %w", err)
	}
	summary := AnalyticsSummary{
		TotalBuilds: len(builds),
		ByStep:      make(map[string]int, domain.StepCount),
	}
	for _, b := range builds {
		summary.ByStep[b.Step.String()]++
		switch {
		case b.Step == domain.StepConfirmation:
			summary.CompletedOrders++
			summary.RevenueCents += pricing.Calculate(b, settings).TotalCentsRounded
		case b.Step == domain.StepContract:
			summary.OrdersInSigning++
		}
	}
	return summary, nil
}

// BufferOperation accepts one client-replayed offline operation into the
// durable queue.
func (a *App) BufferOperation(ctx context.Context, op queue.Operation) (queue.Item, error) {
	if a.queue == nil {
		return queue.Item{}, errors.New("offline queue not configured")
	}
	return a.queue.Enqueue(ctx, op)
}

// queuedPatch is the body shape of a buffered PATCH_BUILD operation. Its
// ownerId is informational; authority comes from the operation's stamped
// owner, never from the body.
type queuedPatch struct {
	BuildID string     `json:"buildId"`
	OwnerID string     `json:"ownerId"`
	Patch   BuildPatch `json:"patch"`
}

// queuedCreate is the body shape of a buffered POST_BUILD operation.
type queuedCreate struct {
	OwnerID string     `json:"ownerId"`
	Build   BuildInput `json:"build"`
}

// ApplyOperation is the offline queue's executor: it replays one buffered
// mutation with the authority of the user the server stamped at enqueue.
// A body claiming a different owner is refused outright.
func (a *App) ApplyOperation(_ context.Context, op queue.Operation) error {
	if op.OwnerID == "" {
		return errors.New("operation has no stamped owner")
	}
	owner := domain.User{ID: op.OwnerID, Role: domain.RoleUser}
	switch op.Type {
	case queue.OpPatchBuild:
		var body queuedPatch
		if err := json.Unmarshal(op.Body, &body); err != nil {
			return fmt.Errorf("decode patch body: %w", err)
		}
		if body.OwnerID != "" && body.OwnerID != op.OwnerID {
			return fmt.Errorf("operation owner mismatch")
		}
		_, err := a.UpdateBuild(owner, body.BuildID, body.Patch)
		return err
	case queue.OpPostBuild:
		var body queuedCreate
		if err := json.Unmarshal(op.Body, &body); err != nil {
			return fmt.Errorf("decode create body: %w", err)
		}
		if body.OwnerID != "" && body.OwnerID != op.OwnerID {
			return fmt.Errorf("operation owner mismatch")
		}
		_, err := a.CreateBuild(owner, body.Build)
		return err
	default:
		return fmt.Errorf("unsupported operation type %q", op.Type)
	}
}

func (a *App) connectorFor(method domain.PaymentMethod) (payments.Connector, error) {
	switch method {
	case domain.MethodACHDebit:
		if a.ach == nil {
			return nil, errors.New("ach connector not configured")
		}
		return a.ach, nil
	case domain.MethodBankTransfer:
		if a.transfer == nil {
			return nil, errors.New("transfer connector not configured")
		}
		return a.transfer, nil
	case domain.MethodCard:
		if a.card == nil {
			return nil, errors.New("card connector not configured")
		}
		return a.card, nil
	default:
		return nil, fmt.Errorf("select a payment method first")
	}
}

// mutatePayment loads, authorizes, mutates, and persists the payment
// sub-document in one place.
func (a *App) mutatePayment(user domain.User, id string, fn func(build domain.Build, p *domain.PaymentInfo) error) (domain.Build, error) {
	build, err := a.loadBuild(user, id)
	if err != nil {
		return domain.Build{}, err
	}
	p := build.Payment
	if err := fn(build, &p); err != nil {
		return domain.Build{}, err
	}
	if err := a.store.SetPayment(id, p); err != nil {
		return domain.Build{}, fmt.Errorf("save payment: %w", err)
	}
	build.Payment = p
	return build, nil
}

func (a *App) loadBuild(user domain.User, id string) (domain.Build, error) {
	build, ok, err := a.store.GetBuild(id)
	if err != nil {
		return domain.Build{}, fmt.Errorf("get build: %w", err)
	}
	if !ok {
		return domain.Build{}, ErrNotFound
	}
	if build.OwnerID != "" && build.OwnerID != user.ID && user.Role != domain.RoleAdmin {
		return domain.Build{}, ErrForbidden
	}
	return build, nil
}
