package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"indication-validation-service/internal/config"
	"indication-validation-service/internal/validation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool *pgxpool.Pool
}

// AuditRecord is one persisted validation outcome.
type AuditRecord struct {
	ID          string
	LeadID      string
	AffiliateID string
	IsValid     bool
	CriteriaMet string
	Details     json.RawMessage
	Errors      []string
	Context     json.RawMessage
	CreatedAt   time.Time
}

type StatsFilter struct {
	AffiliateID string
	Start       *time.Time
	End         *time.Time
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

type Stats struct {
	TotalValidations       int64            `json:"total_validations"`
	ValidIndications       int64            `json:"valid_indications"`
	InvalidIndications     int64            `json:"invalid_indications"`
	ValidationRate         float64          `json:"validation_rate"`
	CriteriaBreakdown      map[string]int64 `json:"criteria_breakdown"`
	CommonRejectionReasons []ReasonCount    `json:"common_rejection_reasons"`
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func runMigrations(dsn string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertValidation persists one audit record.
func (s *Store) InsertValidation(ctx context.Context, rec AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO validation_audit
			(id, lead_id, affiliate_id, is_valid, criteria_met, details, errors, context, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
	`, rec.ID, rec.LeadID, rec.AffiliateID, rec.IsValid, rec.CriteriaMet,
		rec.Details, rec.Errors, rec.Context, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert validation audit: %w", err)
	}
	return nil
}

// ValidationStats aggregates audit records, optionally filtered by
// affiliate and time range.
func (s *Store) ValidationStats(ctx context.Context, f StatsFilter) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var stats Stats
	var option1Count, option2Count int64

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE is_valid),
		       count(*) FILTER (WHERE criteria_met = 'option_1'),
		       count(*) FILTER (WHERE criteria_met = 'option_2')
		FROM validation_audit
		WHERE ($1 = '' OR affiliate_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
	`, f.AffiliateID, f.Start, f.End).Scan(
		&stats.TotalValidations,
		&stats.ValidIndications,
		&option1Count,
		&option2Count,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("query validation stats: %w", err)
	}

	stats.CriteriaBreakdown = map[string]int64{
		string(validation.CriteriaOption1): option1Count,
		string(validation.CriteriaOption2): option2Count,
	}

	stats.InvalidIndications = stats.TotalValidations - stats.ValidIndications
	if stats.TotalValidations > 0 {
		stats.ValidationRate = float64(stats.ValidIndications) / float64(stats.TotalValidations)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT reason, count(*) AS n
		FROM validation_audit, unnest(errors) AS reason
		WHERE NOT is_valid
		  AND ($1 = '' OR affiliate_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		GROUP BY reason
		ORDER BY n DESC, reason
		LIMIT 5
	`, f.AffiliateID, f.Start, f.End)
	if err != nil {
		return Stats{}, fmt.Errorf("query rejection reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return Stats{}, fmt.Errorf("scan rejection reason: %w", err)
		}
		stats.CommonRejectionReasons = append(stats.CommonRejectionReasons, rc)
	}
	if rows.Err() != nil {
		return Stats{}, rows.Err()
	}
	return stats, nil
}

// LoadPendingIndications returns leads awaiting (re)validation, oldest
// first.
func (s *Store) LoadPendingIndications(ctx context.Context) ([]validation.LeadActivity, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT lead_id, affiliate_id, registration_date,
		       total_deposits, total_bets, total_ggr,
		       first_deposit_date, last_activity_date
		FROM pending_indications
		WHERE status = 'PENDING'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending indications: %w", err)
	}
	defer rows.Close()

	var leads []validation.LeadActivity
	for rows.Next() {
		var (
			lead     validation.LeadActivity
			deposits decimal.Decimal
			ggr      decimal.Decimal
		)
		if err := rows.Scan(&lead.LeadID, &lead.AffiliateID, &lead.RegistrationDate,
			&deposits, &lead.TotalBets, &ggr,
			&lead.FirstDepositDate, &lead.LastActivityDate); err != nil {
			return nil, fmt.Errorf("scan pending indication: %w", err)
		}
		lead.TotalDeposits = deposits
		lead.TotalGGR = ggr
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return leads, nil
}

// UpdateIndicationStatus marks a pending indication after re-evaluation.
func (s *Store) UpdateIndicationStatus(ctx context.Context, leadID string, valid bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := "REJECTED"
	if valid {
		status = "VALIDATED"
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE pending_indications
		SET status = $2, validated_at = now()
		WHERE lead_id = $1 AND status = 'PENDING'
	`, leadID, status)
	if err != nil {
		return fmt.Errorf("update indication status: %w", err)
	}
	return nil
}
