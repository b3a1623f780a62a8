package seeder

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/database"
	"github.com/medisupply/procura/internal/entity"
)

// Module provides the seeder for CLI wiring.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Suppliers seeds the supplier catalog if entries are missing.
func (s *Seeder) Suppliers(ctx context.Context) error {
	now := time.Now().UTC()
	samples := []entity.Supplier{
		{Name: "Droguería Central", Email: "cotizaciones@drogueriacentral.example", Phone: "+57 601 555 0101", Active: true, CreatedAt: now},
		{Name: "Farmadistribuciones del Norte", Email: "licitaciones@farmanorte.example", Phone: "+57 605 555 0144", Active: true, CreatedAt: now},
		{Name: "Suministros Vitales SAS", Email: "ventas@suvitales.example", Phone: "+57 602 555 0190", Active: true, CreatedAt: now},
	}

	for _, sample := range samples {
		supplier := sample
		_, err := s.db.NewInsert().Model(&supplier).
			On("CONFLICT (email) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded suppliers", zap.Int("count", len(samples)))
	}
	return nil
}
