package account

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Account is the persisted row; name is the account key.
type Account struct {
	Name       string `gorm:"primaryKey"`
	Experience int
}

// Postgres stores experience in a single accounts table.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("migrate accounts: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) AddExperience(ctx context.Context, name string, amount int) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"experience": gorm.Expr("accounts.experience + ?", amount),
		}),
	}).Create(&Account{Name: name, Experience: amount}).Error
}
