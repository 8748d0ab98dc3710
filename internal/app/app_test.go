package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"havenhomes/internal/contracts"
	"havenhomes/internal/esign"
	"havenhomes/internal/payments"
	"havenhomes/pkg/domain"
	"havenhomes/pkg/queue"
	"havenhomes/pkg/store"
)

type stubConnector struct {
	method       domain.PaymentMethod
	instrument   string
	chargeStatus string
	instructions domain.TransferInstructions
	setupErr     error
}

func (c *stubConnector) Method() domain.PaymentMethod { return c.method }

func (c *stubConnector) BeginSetup(_ context.Context, buildID string, _ int64) (payments.SetupSession, error) {
	if c.setupErr != nil {
		return payments.SetupSession{}, c.setupErr
	}
	return payments.SetupSession{ID: "sess_" + buildID, ClientSecret: "cs"}, nil
}

func (c *stubConnector) Confirm(context.Context, string, string, string) (string, error) {
	return c.instrument, nil
}

func (c *stubConnector) Save(context.Context, string, string, map[string]string) error {
	return nil
}

func (c *stubConnector) Provision(context.Context, string, int64) (domain.TransferInstructions, error) {
	return c.instructions, nil
}

func (c *stubConnector) Charge(context.Context, string, string, int64) (string, error) {
	return c.chargeStatus, nil
}

type nullSigner struct{}

func (nullSigner) CreateSession(_ context.Context, buildID string, pack domain.ContractPack) (esign.Session, error) {
	return esign.Session{ID: "sess", URL: "https://sign.example/" + buildID + "/" + string(pack)}, nil
}

func (nullSigner) Status(context.Context, string) (map[domain.ContractPack]domain.PackStatus, error) {
	return map[domain.ContractPack]domain.PackStatus{}, nil
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := New(Config{
		Store:      st,
		ACH:        &stubConnector{method: domain.MethodACHDebit, instrument: "ba_1"},
		Transfer:   &stubConnector{method: domain.MethodBankTransfer, instructions: domain.TransferInstructions{BankName: "First Haven", Reference: "HH-1"}},
		Card:       &stubConnector{method: domain.MethodCard, instrument: "card_1", chargeStatus: domain.CardStatusProcessing},
		RetryDelay: time.Millisecond,
		ContractConfig: &contracts.Config{
			Signer:       nullSigner{},
			PollInterval: time.Hour,
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, st
}

var (
	buyer = domain.User{ID: "u-1", Role: domain.RoleUser}
	admin = domain.User{ID: "u-admin", Role: domain.RoleAdmin}
)

func sampleInput() BuildInput {
	return BuildInput{
		ModelID:          "m-haven",
		ModelName:        "Haven 24",
		BasePriceCents:   80000,
		DeliveryFeeCents: 2000,
		Options:          []domain.BuildOption{{ID: "opt-1", PriceCents: 5000, Quantity: 1}},
	}
}

func createBuild(t *testing.T, a *App) domain.Build {
	t.Helper()
	build, err := a.CreateBuild(buyer, sampleInput())
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	return build
}

func TestCreateBuildAndOwnership(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)
	if build.Step != domain.StepModel {
		t.Fatalf("new build step = %d, want %d", build.Step, domain.StepModel)
	}

	stranger := domain.User{ID: "u-2", Role: domain.RoleUser}
	if _, err := a.GetBuild(stranger, build.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger access: got %v, want ErrForbidden", err)
	}
	if _, err := a.GetBuild(admin, build.ID); err != nil {
		t.Fatalf("admin access: %v", err)
	}
	if _, err := a.GetBuild(buyer, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing build: got %v, want ErrNotFound", err)
	}
}

func TestNavigateAdvancesMonotonically(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)
	ctx := context.Background()

	d, b, err := a.Navigate(ctx, buyer, build.ID, domain.StepOptions)
	if err != nil || !d.Allowed {
		t.Fatalf("advance to options: d=%+v err=%v", d, err)
	}
	if b.Step != domain.StepOptions {
		t.Fatalf("step = %d, want %d", b.Step, domain.StepOptions)
	}

	// Jumping ahead is refused with a reason.
	d, _, err = a.Navigate(ctx, buyer, build.ID, domain.StepOverview)
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if d.Allowed || d.Reason == "" {
		t.Fatalf("skip ahead should be denied with reason, got %+v", d)
	}

	// Going back never regresses the step counter.
	d, b, err = a.Navigate(ctx, buyer, build.ID, domain.StepModel)
	if err != nil || !d.Allowed {
		t.Fatalf("go back: d=%+v err=%v", d, err)
	}
	if b.Step != domain.StepOptions {
		t.Fatalf("step regressed to %d", b.Step)
	}
}

func TestSetPlanDepositAmount(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)

	b, err := a.SetPlan(buyer, build.ID, domain.PlanDeposit)
	if err != nil {
		t.Fatalf("set plan: %v", err)
	}
	// 25% of the rounded 96156 total under default settings.
	if b.Payment.Plan.AmountCents != 24039 {
		t.Fatalf("deposit amount = %d, want 24039", b.Payment.Plan.AmountCents)
	}
	if b.Payment.Plan.Percent != 25 {
		t.Fatalf("deposit percent = %d, want 25", b.Payment.Plan.Percent)
	}

	b, err = a.SetPlan(buyer, build.ID, domain.PlanFull)
	if err != nil {
		t.Fatalf("set full plan: %v", err)
	}
	if b.Payment.Plan.AmountCents != 96156 {
		t.Fatalf("full amount = %d, want 96156", b.Payment.Plan.AmountCents)
	}
}

func TestSetMethodRequiresPlanAndHonorsCardToggle(t *testing.T) {
	a, st := newTestApp(t)
	build := createBuild(t, a)

	if _, err := a.SetMethod(buyer, build.ID, domain.MethodACHDebit); !errors.Is(err, ErrPlanRequired) {
		t.Fatalf("method before plan: got %v, want ErrPlanRequired", err)
	}
	if _, err := a.SetPlan(buyer, build.ID, domain.PlanDeposit); err != nil {
		t.Fatalf("set plan: %v", err)
	}

	settings, _ := st.GetSettings()
	settings.EnableCardOption = false
	if err := st.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if _, err := a.SetMethod(buyer, build.ID, domain.MethodCard); !errors.Is(err, ErrCardDisabled) {
		t.Fatalf("card while disabled: got %v, want ErrCardDisabled", err)
	}
	if _, err := a.SetMethod(buyer, build.ID, domain.MethodACHDebit); err != nil {
		t.Fatalf("set ach: %v", err)
	}
}

func TestSwitchingMethodResetsProgress(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)
	ctx := context.Background()

	if _, err := a.SetPlan(buyer, build.ID, domain.PlanDeposit); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if _, err := a.SetMethod(buyer, build.ID, domain.MethodACHDebit); err != nil {
		t.Fatalf("set ach: %v", err)
	}
	if _, err := a.ConfirmInstrument(ctx, buyer, build.ID, "sess", "tok"); err != nil {
		t.Fatalf("confirm instrument: %v", err)
	}
	if _, err := a.AcceptMandate(buyer, build.ID); err != nil {
		t.Fatalf("accept mandate: %v", err)
	}

	b, err := a.SetMethod(buyer, build.ID, domain.MethodBankTransfer)
	if err != nil {
		t.Fatalf("switch method: %v", err)
	}
	if b.Payment.InstrumentID != "" || b.Payment.MandateAccepted || b.Payment.Ready {
		t.Fatalf("previous method progress survived: %+v", b.Payment)
	}
}

func TestACHFlowToContract(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)
	ctx := context.Background()

	if _, err := a.SetPlan(buyer, build.ID, domain.PlanDeposit); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if _, err := a.SetMethod(buyer, build.ID, domain.MethodACHDebit); err != nil {
		t.Fatalf("set method: %v", err)
	}
	session, err := a.BeginPaymentSetup(ctx, buyer, build.ID)
	if err != nil || session.ID == "" {
		t.Fatalf("begin setup: session=%+v err=%v", session, err)
	}
	if _, err := a.ConfirmInstrument(ctx, buyer, build.ID, session.ID, "tok_bank"); err != nil {
		t.Fatalf("confirm instrument: %v", err)
	}

	// Readiness is refused until the mandate is accepted.
	var notReady *NotReadyError
	if _, err := a.MarkPaymentReady(buyer, build.ID); !errors.As(err, &notReady) {
		t.Fatalf("ready without mandate: got %v, want NotReadyError", err)
	}
	if _, err := a.AcceptMandate(buyer, build.ID); err != nil {
		t.Fatalf("accept mandate: %v", err)
	}
	b, err := a.MarkPaymentReady(buyer, build.ID)
	if err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if !b.Payment.Ready {
		t.Fatal("payment should be ready")
	}

	b, err = a.ContinueToContract(ctx, buyer, build.ID)
	if err != nil {
		t.Fatalf("continue to contract: %v", err)
	}
	if b.Step != domain.StepContract {
		t.Fatalf("step = %d, want %d", b.Step, domain.StepContract)
	}
	states, err := a.ContractStatuses(buyer, build.ID)
	if err != nil {
		t.Fatalf("contract statuses: %v", err)
	}
	for _, pack := range domain.PackOrder {
		if states[pack] != domain.PackNotStarted {
			t.Fatalf("pack %s = %s, want not_started", pack, states[pack])
		}
	}
}

func TestContinueToContractRefusedWhileProcessing(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)
	ctx := context.Background()

	if _, err := a.SetPlan(buyer, build.ID, domain.PlanDeposit); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if _, err := a.SetMethod(buyer, build.ID, domain.MethodCard); err != nil {
		t.Fatalf("set method: %v", err)
	}
	if _, err := a.ConfirmInstrument(ctx, buyer, build.ID, "sess", "tok_visa"); err != nil {
		t.Fatalf("confirm instrument: %v", err)
	}
	if _, err := a.ChargeCard(ctx, buyer, build.ID); err != nil {
		t.Fatalf("charge: %v", err)
	}
	// Charge is still processing; readiness and the handoff stay closed.
	var notReady *NotReadyError
	if _, err := a.MarkPaymentReady(buyer, build.ID); !errors.As(err, &notReady) {
		t.Fatalf("ready while processing: got %v, want NotReadyError", err)
	}
	if _, err := a.ContinueToContract(ctx, buyer, build.ID); !errors.As(err, &notReady) {
		t.Fatalf("continue while processing: got %v, want NotReadyError", err)
	}

	// The webhook settles the charge; the flow opens up.
	if err := a.HandleProcessorEvent(ProcessorEvent{Type: "charge.succeeded", BuildID: build.ID}); err != nil {
		t.Fatalf("processor event: %v", err)
	}
	if _, err := a.MarkPaymentReady(buyer, build.ID); err != nil {
		t.Fatalf("mark ready after settle: %v", err)
	}
	if _, err := a.ContinueToContract(ctx, buyer, build.ID); err != nil {
		t.Fatalf("continue after settle: %v", err)
	}
}

func TestHandleProcessorEventChargeFailed(t *testing.T) {
	a, st := newTestApp(t)
	build := createBuild(t, a)

	p := domain.PaymentInfo{
		Plan:         &domain.PaymentPlan{Type: domain.PlanFull, AmountCents: 96156},
		Method:       domain.MethodCard,
		InstrumentID: "card_1",
		CardStatus:   domain.CardStatusSucceeded,
		Ready:        true,
	}
	if err := st.SetPayment(build.ID, p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	if err := a.HandleProcessorEvent(ProcessorEvent{Type: "charge.failed", BuildID: build.ID}); err != nil {
		t.Fatalf("processor event: %v", err)
	}
	b, _ := a.GetBuild(buyer, build.ID)
	if b.Payment.CardStatus != domain.CardStatusFailed || b.Payment.Ready {
		t.Fatalf("failed charge must clear readiness: %+v", b.Payment)
	}
}

func TestUpdateBuildLockedAfterContract(t *testing.T) {
	a, st := newTestApp(t)
	build := createBuild(t, a)
	if err := st.SetStep(build.ID, domain.StepContract); err != nil {
		t.Fatalf("seed step: %v", err)
	}

	base := int64(90000)
	if _, err := a.UpdateBuild(buyer, build.ID, BuildPatch{BasePriceCents: &base}); !errors.Is(err, ErrBuildLocked) {
		t.Fatalf("priced change after contract: got %v, want ErrBuildLocked", err)
	}
	// Non-priced fields stay editable.
	name := "Jordan Buyer"
	if _, err := a.UpdateBuild(buyer, build.ID, BuildPatch{Buyer: &domain.BuyerInfo{FullName: name}}); err != nil {
		t.Fatalf("buyer info update: %v", err)
	}

	if err := a.DeleteBuild(buyer, build.ID); !errors.Is(err, ErrBuildLocked) {
		t.Fatalf("delete mid-signing: got %v, want ErrBuildLocked", err)
	}
	if err := a.DeleteBuild(admin, build.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestApplyOperationReplaysBufferedMutations(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)
	ctx := context.Background()

	name := "Haven 28"
	body, _ := json.Marshal(queuedPatch{
		BuildID: build.ID,
		OwnerID: buyer.ID,
		Patch:   BuildPatch{ModelName: &name},
	})
	if err := a.ApplyOperation(ctx, queue.Operation{Type: queue.OpPatchBuild, OwnerID: buyer.ID, Body: body}); err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	b, _ := a.GetBuild(buyer, build.ID)
	if b.ModelName != name {
		t.Fatalf("modelName = %q, want %q", b.ModelName, name)
	}

	createBody, _ := json.Marshal(queuedCreate{OwnerID: buyer.ID, Build: sampleInput()})
	if err := a.ApplyOperation(ctx, queue.Operation{Type: queue.OpPostBuild, OwnerID: buyer.ID, Body: createBody}); err != nil {
		t.Fatalf("apply create: %v", err)
	}
	builds, err := a.ListBuilds(buyer)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("builds = %d, want 2", len(builds))
	}

	if err := a.ApplyOperation(ctx, queue.Operation{Type: "DELETE_EVERYTHING", OwnerID: buyer.ID}); err == nil {
		t.Fatal("unknown operation type must be rejected")
	}
}

func TestApplyOperationRefusesSpoofedOwner(t *testing.T) {
	a, _ := newTestApp(t)
	build := createBuild(t, a)
	ctx := context.Background()

	name := "Not Yours"
	body, _ := json.Marshal(queuedPatch{
		BuildID: build.ID,
		OwnerID: buyer.ID,
		Patch:   BuildPatch{ModelName: &name},
	})

	// The body claims the build's owner; the stamped operation owner is a
	// different user. The replay must not borrow the claimed authority.
	if err := a.ApplyOperation(ctx, queue.Operation{Type: queue.OpPatchBuild, OwnerID: "u-intruder", Body: body}); err == nil {
		t.Fatal("owner mismatch must be refused")
	}

	// Without a body owner the replay still runs as the stamped user, who
	// owns nothing here.
	body, _ = json.Marshal(queuedPatch{BuildID: build.ID, Patch: BuildPatch{ModelName: &name}})
	if err := a.ApplyOperation(ctx, queue.Operation{Type: queue.OpPatchBuild, OwnerID: "u-intruder", Body: body}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger replay: got %v, want ErrForbidden", err)
	}

	// An operation that was never stamped cannot run at all.
	if err := a.ApplyOperation(ctx, queue.Operation{Type: queue.OpPatchBuild, Body: body}); err == nil {
		t.Fatal("unstamped operation must be refused")
	}

	got, _ := a.GetBuild(buyer, build.ID)
	if got.ModelName == name {
		t.Fatalf("replay mutated the build to %q", got.ModelName)
	}
}

func TestUpdateSettingsAdminOnly(t *testing.T) {
	a, _ := newTestApp(t)

	s, err := a.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	s.DepositPercent = 30
	if _, err := a.UpdateSettings(buyer, s); !errors.Is(err, ErrForbidden) {
		t.Fatalf("buyer update: got %v, want ErrForbidden", err)
	}
	updated, err := a.UpdateSettings(admin, s)
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.DepositPercent != 30 {
		t.Fatalf("depositPercent = %d, want 30", updated.DepositPercent)
	}

	s.DepositPercent = 0
	if _, err := a.UpdateSettings(admin, s); err == nil {
		t.Fatal("zero deposit percent must be rejected")
	}
}

func TestOrdersAndAnalytics(t *testing.T) {
	a, st := newTestApp(t)

	signing := createBuild(t, a)
	if err := st.SetStep(signing.ID, domain.StepContract); err != nil {
		t.Fatalf("set step: %v", err)
	}
	completed := createBuild(t, a)
	if err := st.SetStep(completed.ID, domain.StepConfirmation); err != nil {
		t.Fatalf("set step: %v", err)
	}
	createBuild(t, a) // still at the model step

	if _, err := a.Orders(buyer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("buyer orders: got %v, want ErrForbidden", err)
	}
	orders, err := a.Orders(admin)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}

	summary, err := a.Analytics(admin)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if summary.TotalBuilds != 3 || summary.OrdersInSigning != 1 || summary.CompletedOrders != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	// One completed order, rounded down from the exact 96156.25 total.
	if summary.RevenueCents != 96156 {
		t.Fatalf("revenue = %d, want 96156", summary.RevenueCents)
	}
	if summary.ByStep["model"] != 1 {
		t.Fatalf("byStep[model] = %d, want 1", summary.ByStep["model"])
	}
}
