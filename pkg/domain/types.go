package domain

import "time"

// CheckoutStep is the monotonic progress marker for a build, 1-8.
type CheckoutStep int

const (
	StepModel CheckoutStep = iota + 1
	StepOptions
	StepSignIn
	StepDelivery
	StepOverview
	StepPayment
	StepContract
	StepConfirmation
)

// StepCount is the number of checkout steps.
const StepCount = int(StepConfirmation)

func (s CheckoutStep) Valid() bool {
	return s >= StepModel && s <= StepConfirmation
}

func (s CheckoutStep) String() string {
	switch s {
	case StepModel:
		return "model"
	case StepOptions:
		return "options"
	case StepSignIn:
		return "sign_in"
	case StepDelivery:
		return "delivery"
	case StepOverview:
		return "overview"
	case StepPayment:
		return "payment"
	case StepContract:
		return "contract"
	case StepConfirmation:
		return "confirmation"
	default:
		return "unknown"
	}
}

type PaymentMethod string

const (
	MethodACHDebit     PaymentMethod = "ach_debit"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
)

type PlanType string

const (
	PlanDeposit PlanType = "deposit"
	PlanFull    PlanType = "full"
)

// PaymentPlan records how much the buyer pays now.
type PaymentPlan struct {
	Type        PlanType `json:"type"`
	Percent     int      `json:"percent,omitempty"`
	AmountCents int64    `json:"amountCents"`
}

// TransferInstructions describe the externally provisioned virtual account a
// bank-transfer buyer pays into. Reference ties an incoming wire to the build.
type TransferInstructions struct {
	BankName      string `json:"bankName"`
	RoutingNumber string `json:"routingNumber"`
	AccountNumber string `json:"accountNumber"`
	Reference     string `json:"reference"`
}

// CardStatus values mirror the processor's charge lifecycle.
const (
	CardStatusProcessing = "processing"
	CardStatusSucceeded  = "succeeded"
	CardStatusFailed     = "failed"
)

// PaymentInfo is the payment sub-document embedded in a build. The payment
// wizard populates it incrementally; Ready gates the contract step.
type PaymentInfo struct {
	Plan              *PaymentPlan          `json:"plan,omitempty"`
	Method            PaymentMethod         `json:"method,omitempty"`
	InstrumentID      string                `json:"instrumentId,omitempty"`
	MandateAccepted   bool                  `json:"mandateAccepted,omitempty"`
	Ready             bool                  `json:"ready"`
	Transfer          *TransferInstructions `json:"transferInstructions,omitempty"`
	TransferConfirmed bool                  `json:"transferConfirmed,omitempty"`
	CardStatus        string                `json:"status,omitempty"`
}

// BuildOption is a selected configuration option on a build.
type BuildOption struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	PriceCents int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

type DeliveryAddress struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

func (a DeliveryAddress) Empty() bool {
	return a.Line1 == "" && a.City == "" && a.Zip == ""
}

type BuyerInfo struct {
	FullName string          `json:"fullName"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Address  DeliveryAddress `json:"address"`
}

// Build is the aggregate root: a user's in-progress or completed home
// purchase configuration and checkout state.
type Build struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"ownerId"`
	ModelID          string        `json:"modelId"`
	ModelName        string        `json:"modelName,omitempty"`
	BasePriceCents   int64         `json:"basePriceCents"`
	DeliveryFeeCents int64         `json:"deliveryFeeCents"`
	Options          []BuildOption `json:"options"`
	Buyer            BuyerInfo     `json:"buyer"`
	Step             CheckoutStep  `json:"step"`
	Payment          PaymentInfo   `json:"payment"`
	Primary          bool          `json:"primary"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Settings holds storefront-wide pricing and checkout configuration.
type Settings struct {
	DepositPercent        int       `json:"depositPercent"`
	StorageFeePerDayCents int64     `json:"storageFeePerDayCents"`
	EnableCardOption      bool      `json:"enableCardOption"`
	TaxRatePercent        float64   `json:"taxRatePercent"`
	TitleFeeDefaultCents  int64     `json:"titleFeeDefaultCents"`
	SetupFeeDefaultCents  int64     `json:"setupFeeDefaultCents"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// DefaultSettings seeds a fresh install.
func DefaultSettings() Settings {
	return Settings{
		DepositPercent:        25,
		StorageFeePerDayCents: 5000,
		EnableCardOption:      true,
		TaxRatePercent:        6.25,
		TitleFeeDefaultCents:  500,
		SetupFeeDefaultCents:  3000,
	}
}

// ContractPack is one logical group of contract documents requiring signature.
type ContractPack string

const (
	PackSummary   ContractPack = "summary"
	PackAgreement ContractPack = "agreement"
	PackDelivery  ContractPack = "delivery"
	PackFinal     ContractPack = "final"
)

// PackOrder is the signing sequence; a pack is locked until every pack before
// it has completed.
var PackOrder = []ContractPack{PackSummary, PackAgreement, PackDelivery, PackFinal}

type PackStatus string

const (
	PackNotStarted PackStatus = "not_started"
	PackInProgress PackStatus = "in_progress"
	PackCompleted  PackStatus = "completed"
	PackFailed     PackStatus = "failed"
	PackVoided     PackStatus = "voided"
)

// Terminal reports whether no further transitions are allowed from s.
func (s PackStatus) Terminal() bool {
	return s == PackCompleted || s == PackFailed || s == PackVoided
}

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is the identity resolved from the auth collaborator's token.
type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Role  UserRole `json:"role"`
}
