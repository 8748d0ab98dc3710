package store

import "havenhomes/pkg/domain"

// Store defines persistence operations for builds, contract pack state, and
// storefront settings.
type Store interface {
	// builds
	SaveBuild(domain.Build) error
	GetBuild(id string) (domain.Build, bool, error)
	ListBuildsByOwner(ownerID string) ([]domain.Build, error)
	ListBuilds() ([]domain.Build, error)
	DeleteBuild(id string) error
	SetStep(id string, step domain.CheckoutStep) error
	SetPayment(id string, p domain.PaymentInfo) error

	// contract packs (local mirror of the e-signature provider's state)
	SavePackState(buildID string, pack domain.ContractPack, status domain.PackStatus, sessionURL string) error
	GetPackStates(buildID string) (map[domain.ContractPack]domain.PackStatus, error)

	// settings
	GetSettings() (domain.Settings, error)
	SaveSettings(domain.Settings) error
}
