// Package checkout holds the pure decision logic for the checkout flow: the
// step navigation guard and the payment wizard stage machine. Nothing here
// touches the network or storage.
package checkout

import (
	"fmt"

	"havenhomes/pkg/domain"
)

// Decision is the outcome of a guard check. Reason is user-facing and set
// whenever Allowed is false.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// stepRequirement gates entry into a step when it is the next unreached one.
// Steps absent from the table have no extra requirement beyond ordering.
type stepRequirement func(build domain.Build, signedIn bool) Decision

var stepRequirements = map[domain.CheckoutStep]stepRequirement{
	domain.StepOptions: func(build domain.Build, _ bool) Decision {
		if build.ModelID == "" {
			return deny("Choose a home model before configuring options.")
		}
		return allow()
	},
	domain.StepDelivery: func(_ domain.Build, signedIn bool) Decision {
		if !signedIn {
			return deny("Sign in to enter your delivery address.")
		}
		return allow()
	},
	domain.StepOverview: func(build domain.Build, signedIn bool) Decision {
		if !signedIn {
			return deny("Sign in to review your order.")
		}
		if build.Buyer.Address.Empty() {
			return deny("Add a delivery address before reviewing your order.")
		}
		return allow()
	},
	domain.StepPayment: func(build domain.Build, signedIn bool) Decision {
		if !signedIn {
			return deny("Sign in to set up payment.")
		}
		if build.Buyer.Address.Empty() {
			return deny("Add a delivery address before setting up payment.")
		}
		return allow()
	},
	domain.StepContract: func(build domain.Build, _ bool) Decision {
		if !build.Payment.Ready {
			return deny("Finish setting up payment before signing your contract.")
		}
		return allow()
	},
	domain.StepConfirmation: func(_ domain.Build, _ bool) Decision {
		// Confirmation is only reachable once the contract orchestrator has
		// advanced the step counter; jumping ahead is never allowed.
		return deny("Finish contract signing to reach your confirmation.")
	},
}

// CanNavigate decides whether a user may move to target. Deny by default:
// backward and already-reached steps are always allowed, the single next step
// is allowed when its requirements hold, and anything further is refused with
// a user-facing reason.
func CanNavigate(target domain.CheckoutStep, build domain.Build, signedIn bool) Decision {
	if !target.Valid() {
		return deny(fmt.Sprintf("Unknown checkout step %d.", target))
	}
	if target <= build.Step {
		return allow()
	}
	if target == build.Step+1 {
		req, ok := stepRequirements[target]
		if !ok {
			return allow()
		}
		return req(build, signedIn)
	}
	return deny("Complete the earlier checkout steps first.")
}
