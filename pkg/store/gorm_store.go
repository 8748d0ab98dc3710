package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"havenhomes/pkg/domain"
)

const settingsRowID = 1

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations, and seeds default settings
// when none exist.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&BuildModel{}, &ContractPackModel{}, &SettingsModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	s := &GormStore{db: db}
	if err := s.seedSettings(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GormStore) seedSettings() error {
	var count int64
	if err := s.db.Model(&SettingsModel{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count settings: %w", err)
	}
	if count > 0 {
		return nil
	}
	return s.SaveSettings(domain.DefaultSettings())
}

func (s *GormStore) SaveBuild(b domain.Build) error {
	model, err := buildToModel(b)
	if err != nil {
		return err
	}
	return s.db.Save(&model).Error
}

func (s *GormStore) GetBuild(id string) (domain.Build, bool, error) {
	var model BuildModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Build{}, false, nil
	}
	if err != nil {
		return domain.Build{}, false, err
	}
	build, err := modelToBuild(model)
	if err != nil {
		return domain.Build{}, false, err
	}
	return build, true, nil
}

func (s *GormStore) ListBuildsByOwner(ownerID string) ([]domain.Build, error) {
	var models []BuildModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	return modelsToBuilds(models)
}

func (s *GormStore) ListBuilds() ([]domain.Build, error) {
	var models []BuildModel
	if err := s.db.Order("created_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	return modelsToBuilds(models)
}

func (s *GormStore) DeleteBuild(id string) error {
	if err := s.db.Delete(&BuildModel{}, "id = ?", id).Error; err != nil {
		return err
	}
	return s.db.Delete(&ContractPackModel{}, "build_id = ?", id).Error
}

func (s *GormStore) SetStep(id string, step domain.CheckoutStep) error {
	res := s.db.Model(&BuildModel{}).Where("id = ?", id).Updates(map[string]any{
		"step":       int(step),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("build %s not found", id)
	}
	return nil
}

func (s *GormStore) SetPayment(id string, p domain.PaymentInfo) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}
	res := s.db.Model(&BuildModel{}).Where("id = ?", id).Updates(map[string]any{
		"payment":    datatypes.JSON(payload),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("build %s not found", id)
	}
	return nil
}

func (s *GormStore) SavePackState(buildID string, pack domain.ContractPack, status domain.PackStatus, sessionURL string) error {
	model := ContractPackModel{
		BuildID:    buildID,
		Pack:       string(pack),
		Status:     string(status),
		SessionURL: sessionURL,
		UpdatedAt:  time.Now().UTC(),
	}
	return s.db.Save(&model).Error
}

func (s *GormStore) GetPackStates(buildID string) (map[domain.ContractPack]domain.PackStatus, error) {
	var models []ContractPackModel
	if err := s.db.Where("build_id = ?", buildID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.ContractPack]domain.PackStatus, len(models))
	for _, m := range models {
		out[domain.ContractPack(m.Pack)] = domain.PackStatus(m.Status)
	}
	return out, nil
}

func (s *GormStore) GetSettings() (domain.Settings, error) {
	var model SettingsModel
	err := s.db.First(&model, "id = ?", settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	return domain.Settings{
		DepositPercent:        model.DepositPercent,
		StorageFeePerDayCents: model.StorageFeePerDayCents,
		EnableCardOption:      model.EnableCardOption,
		TaxRatePercent:        model.TaxRatePercent,
		TitleFeeDefaultCents:  model.TitleFeeDefaultCents,
		SetupFeeDefaultCents:  model.SetupFeeDefaultCents,
		UpdatedAt:             model.UpdatedAt,
	}, nil
}

func (s *GormStore) SaveSettings(settings domain.Settings) error {
	model := SettingsModel{
		ID:                    settingsRowID,
		DepositPercent:        settings.DepositPercent,
		StorageFeePerDayCents: settings.StorageFeePerDayCents,
		EnableCardOption:      settings.EnableCardOption,
		TaxRatePercent:        settings.TaxRatePercent,
		TitleFeeDefaultCents:  settings.TitleFeeDefaultCents,
		SetupFeeDefaultCents:  settings.SetupFeeDefaultCents,
		UpdatedAt:             time.Now().UTC(),
	}
	return s.db.Save(&model).Error
}

func buildToModel(b domain.Build) (BuildModel, error) {
	options, err := json.Marshal(b.Options)
	if err != nil {
		return BuildModel{}, fmt.Errorf("encode options: %w", err)
	}
	buyer, err := json.Marshal(b.Buyer)
	if err != nil {
		return BuildModel{}, fmt.Errorf("encode buyer: %w", err)
	}
	payment, err := json.Marshal(b.Payment)
	if err != nil {
		return BuildModel{}, fmt.Errorf("encode payment: %w", err)
	}
	return BuildModel{
		ID:               b.ID,
		OwnerID:          b.OwnerID,
		ModelID:          b.ModelID,
		ModelName:        b.ModelName,
		BasePriceCents:   b.BasePriceCents,
		DeliveryFeeCents: b.DeliveryFeeCents,
		Options:          datatypes.JSON(options),
		Buyer:            datatypes.JSON(buyer),
		Step:             int(b.Step),
		Payment:          datatypes.JSON(payment),
		IsPrimary:        b.Primary,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}, nil
}

func modelToBuild(m BuildModel) (domain.Build, error) {
	build := domain.Build{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		ModelID:          m.ModelID,
		ModelName:        m.ModelName,
		BasePriceCents:   m.BasePriceCents,
		DeliveryFeeCents: m.DeliveryFeeCents,
		Step:             domain.CheckoutStep(m.Step),
		Primary:          m.IsPrimary,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.Options) > 0 {
		if err := json.Unmarshal(m.Options, &build.Options); err != nil {
			return domain.Build{}, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(m.Buyer) > 0 {
		if err := json.Unmarshal(m.Buyer, &build.Buyer); err != nil {
			return domain.Build{}, fmt.Errorf("decode buyer: %w", err)
		}
	}
	if len(m.Payment) > 0 {
		if err := json.Unmarshal(m.Payment, &build.Payment); err != nil {
			return domain.Build{}, fmt.Errorf("decode payment: %w", err)
		}
	}
	return build, nil
}

func modelsToBuilds(models []BuildModel) ([]domain.Build, error) {
	out := make([]domain.Build, 0, len(models))
	for _, m := range models {
		build, err := modelToBuild(m)
		if err != nil {
			return nil, err
		}
		out = append(out, build)
	}
	return out, nil
}
