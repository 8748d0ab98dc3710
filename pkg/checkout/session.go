package checkout

import "havenhomes/pkg/domain"

// Stage is a step of the payment wizard. The current stage is never stored;
// it is derived from the persisted payment sub-document so a reload resumes
// exactly where the buyer left off.
type Stage string

const (
	StageChoose  Stage = "choose"
	StageDetails Stage = "details"
	StageReview  Stage = "review"
)

// StageFor reconstructs the wizard stage from persisted payment state.
func StageFor(p domain.PaymentInfo) Stage {
	if p.Plan == nil || p.Method == "" {
		return StageChoose
	}
	if d := detailsComplete(p); !d.Allowed {
		return StageDetails
	}
	return StageReview
}

// detailsComplete checks the method-specific prerequisites for leaving the
// details stage.
func detailsComplete(p domain.PaymentInfo) Decision {
	switch p.Method {
	case domain.MethodACHDebit:
		if p.InstrumentID == "" {
			return deny("Link a bank account to continue.")
		}
		if !p.MandateAccepted {
			return deny("Accept the debit authorization to continue.")
		}
	case domain.MethodBankTransfer:
		if p.Transfer == nil {
			return deny("Request transfer instructions to continue.")
		}
		if !p.TransferConfirmed {
			return deny("Confirm the transfer commitments to continue.")
		}
	case domain.MethodCard:
		if p.InstrumentID == "" {
			return deny("Save a verified card to continue.")
		}
	default:
		return deny("Select a payment method to continue.")
	}
	return allow()
}

// ReadinessError returns the user-facing reason payment is not ready, or ""
// when every method-specific prerequisite holds. Ready may only ever be set
// when this returns "".
func ReadinessError(p domain.PaymentInfo) string {
	if p.Plan == nil {
		return "Select a payment plan first."
	}
	switch p.Method {
	case domain.MethodACHDebit:
		if p.InstrumentID == "" {
			return "Link a bank account first."
		}
		if !p.MandateAccepted {
			return "The debit authorization has not been accepted."
		}
	case domain.MethodBankTransfer:
		if p.Transfer == nil {
			return "Transfer instructions have not been provisioned."
		}
		if !p.TransferConfirmed {
			return "The transfer has not been confirmed."
		}
	case domain.MethodCard:
		if p.CardStatus != domain.CardStatusSucceeded {
			return "The card payment has not completed."
		}
	default:
		return "Select a payment method first."
	}
	return ""
}

// CanContinueToContract gates the explicit "Continue to Contract" action from
// the review stage.
func CanContinueToContract(p domain.PaymentInfo) Decision {
	if !p.Ready {
		return deny("Finish setting up payment before continuing to your contract.")
	}
	if p.Method == domain.MethodCard && p.InstrumentID != "" && p.CardStatus != domain.CardStatusSucceeded {
		return deny("Your card payment is still processing.")
	}
	return allow()
}
