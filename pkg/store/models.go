package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BuildModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;index"`
	ModelID          string `gorm:"not null"`
	ModelName        string
	BasePriceCents   int64 `gorm:"not null"`
	DeliveryFeeCents int64
	Options          datatypes.JSON `gorm:"type:jsonb"`
	Buyer            datatypes.JSON `gorm:"type:jsonb"`
	Step             int            `gorm:"not null"`
	Payment          datatypes.JSON `gorm:"type:jsonb"`
	IsPrimary        bool
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type ContractPackModel struct {
	BuildID    string `gorm:"primaryKey"`
	Pack       string `gorm:"primaryKey"`
	Status     string `gorm:"not null"`
	SessionURL string
	UpdatedAt  time.Time `gorm:"not null"`
}

type SettingsModel struct {
	ID                    int `gorm:"primaryKey"`
	DepositPercent        int
	StorageFeePerDayCents int64
	EnableCardOption      bool
	TaxRatePercent        float64
	TitleFeeDefaultCents  int64
	SetupFeeDefaultCents  int64
	UpdatedAt             time.Time
}
