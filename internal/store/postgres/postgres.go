// Package postgres is a Postgres-backed store.Store implementation.
// Grounded on the teacher's internal/store/postgres/postgres.go (goqu
// query builder over database/sql, pgx/v5 stdlib driver, muz embedded-SQL
// migrations, search_path + connection-pool tuning), generalized from its
// provider/token-shaped tables to flowlane's workflow/schedule/environment/
// log shape.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rakunlabs/flowlane/internal/config"
	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/store"
)

var (
	ConnMaxLifetime = 15 * time.Minute
	MaxIdleConns    = 3
	MaxOpenConns    = 3

	DefaultTablePrefix = "flowlane_"
)

type Postgres struct {
	db   *sql.DB
	goqu *goqu.Database

	tableWorkflows    exp.IdentifierExpression
	tableSchedules    exp.IdentifierExpression
	tableEnvironments exp.IdentifierExpression
	tableLogs         exp.IdentifierExpression
}

func New(ctx context.Context, cfg *config.StorePostgres) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("postgres datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	if migrate.Schema == "" {
		migrate.Schema = cfg.Schema
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set search_path: %w", err)
		}
	}

	if err := MigrateDB(ctx, &migrate, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store postgres: %w", err)
	}

	if cfg.ConnMaxLifetime != nil {
		ConnMaxLifetime = *cfg.ConnMaxLifetime
	}
	if cfg.MaxIdleConns != nil {
		MaxIdleConns = *cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns != nil {
		MaxOpenConns = *cfg.MaxOpenConns
	}
	db.SetConnMaxLifetime(ConnMaxLifetime)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetMaxOpenConns(MaxOpenConns)

	slog.Info("connected to store postgres")

	return &Postgres{
		db:                db,
		goqu:              goqu.New("postgres", db),
		tableWorkflows:    goqu.T(tablePrefix + "workflows"),
		tableSchedules:    goqu.T(tablePrefix + "schedules"),
		tableEnvironments: goqu.T(tablePrefix + "environments"),
		tableLogs:         goqu.T(tablePrefix + "logs"),
	}, nil
}

func (p *Postgres) Close() {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			slog.Error("close store postgres connection", "error", err)
		}
	}
}

type scheduleRow struct {
	ID              string     `db:"id"`
	WorkflowID      string     `db:"workflow_id"`
	Type            string     `db:"type"`
	CronExpression  string     `db:"cron_expression"`
	Timezone        string     `db:"timezone"`
	IntervalMinutes int        `db:"interval_minutes"`
	MinutesStartingAt string   `db:"minutes_starting_at"`
	HourOfDay       int        `db:"hour_of_day"`
	MinuteOfHour    int        `db:"minute_of_hour"`
	DayOfWeek       int        `db:"day_of_week"`
	DayOfMonth      int        `db:"day_of_month"`
	Enabled         bool       `db:"enabled"`
	NextDueAt       time.Time  `db:"next_due_at"`
	LastRunAt       *time.Time `db:"last_run_at"`
	FailureCount    int        `db:"failure_count"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (p *Postgres) LoadDueSchedules(ctx context.Context, now time.Time, limit int) ([]store.ScheduleRecord, error) {
	query, _, err := p.goqu.From(p.tableSchedules).
		Select("id", "workflow_id", "type", "cron_expression", "timezone", "interval_minutes",
			"minutes_starting_at", "hour_of_day", "minute_of_hour", "day_of_week", "day_of_month",
			"enabled", "next_due_at", "last_run_at", "failure_count", "created_at", "updated_at").
		Where(goqu.I("enabled").IsTrue(), goqu.I("next_due_at").Lte(now)).
		Order(goqu.I("next_due_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build due schedules query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load due schedules: %w", err)
	}
	defer rows.Close()

	var result []store.ScheduleRecord
	for rows.Next() {
		var row scheduleRow
		if err := rows.Scan(&row.ID, &row.WorkflowID, &row.Type, &row.CronExpression, &row.Timezone,
			&row.IntervalMinutes, &row.MinutesStartingAt, &row.HourOfDay, &row.MinuteOfHour, &row.DayOfWeek, &row.DayOfMonth,
			&row.Enabled, &row.NextDueAt, &row.LastRunAt, &row.FailureCount, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		result = append(result, scheduleRowToRecord(row))
	}

	return result, rows.Err()
}

func (p *Postgres) UpdateSchedule(ctx context.Context, rec store.ScheduleRecord) error {
	query, _, err := p.goqu.Update(p.tableSchedules).Set(
		goqu.Record{
			"next_due_at":   rec.NextDueAt,
			"last_run_at":   rec.LastRunAt,
			"failure_count": rec.FailureCount,
			"enabled":       rec.Enabled,
			"updated_at":    time.Now().UTC(),
		},
	).Where(goqu.I("id").Eq(rec.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update schedule query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("update schedule %q: %w", rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return flowerrors.ErrScheduleNotFound
	}
	return nil
}

type workflowRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	OwnerID   string    `db:"owner_id"`
	State     []byte    `db:"state"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (p *Postgres) LoadWorkflow(ctx context.Context, id string) (store.WorkflowRecord, error) {
	query, _, err := p.goqu.From(p.tableWorkflows).
		Select("id", "name", "owner_id", "state", "enabled", "created_at", "updated_at").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return store.WorkflowRecord{}, fmt.Errorf("build load workflow query: %w", err)
	}

	var row workflowRow
	err = p.db.QueryRowContext(ctx, query).Scan(
		&row.ID, &row.Name, &row.OwnerID, &row.State, &row.Enabled, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.WorkflowRecord{}, flowerrors.ErrWorkflowNotFound
	}
	if err != nil {
		return store.WorkflowRecord{}, fmt.Errorf("load workflow %q: %w", id, err)
	}

	return store.WorkflowRecord{
		ID: row.ID, Name: row.Name, OwnerID: row.OwnerID, State: row.State,
		Enabled: row.Enabled, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}, nil
}

func (p *Postgres) LoadEnvironment(ctx context.Context, ownerID string) (store.EnvironmentRecord, error) {
	query, _, err := p.goqu.From(p.tableEnvironments).
		Select("owner_id", "ciphertexts", "updated_at").
		Where(goqu.I("owner_id").Eq(ownerID)).
		ToSQL()
	if err != nil {
		return store.EnvironmentRecord{}, fmt.Errorf("build load environment query: %w", err)
	}

	var ownerRow string
	var ciphertextsJSON []byte
	var updatedAt time.Time
	err = p.db.QueryRowContext(ctx, query).Scan(&ownerRow, &ciphertextsJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.EnvironmentRecord{OwnerID: ownerID}, nil
	}
	if err != nil {
		return store.EnvironmentRecord{}, fmt.Errorf("load environment %q: %w", ownerID, err)
	}

	var ciphertexts map[string]string
	if err := json.Unmarshal(ciphertextsJSON, &ciphertexts); err != nil {
		return store.EnvironmentRecord{}, fmt.Errorf("unmarshal environment ciphertexts for %q: %w", ownerID, err)
	}

	return store.EnvironmentRecord{OwnerID: ownerRow, Ciphertexts: ciphertexts, UpdatedAt: updatedAt}, nil
}

func (p *Postgres) AppendLog(ctx context.Context, rec store.LogRecord) error {
	outputJSON, err := json.Marshal(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal log output: %w", err)
	}
	blockLogsJSON, err := json.Marshal(rec.BlockLogs)
	if err != nil {
		return fmt.Errorf("marshal log block logs: %w", err)
	}

	query, _, err := p.goqu.Insert(p.tableLogs).Rows(
		goqu.Record{
			"id":          rec.ID,
			"workflow_id": rec.WorkflowID,
			"schedule_id": rec.ScheduleID,
			"success":     rec.Success,
			"started_at":  rec.StartedAt,
			"finished_at": rec.FinishedAt,
			"output":      string(outputJSON),
			"error":       rec.Error,
			"block_logs":  string(blockLogsJSON),
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build append log query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append log %q: %w", rec.ID, err)
	}
	return nil
}

func scheduleRowToRecord(row scheduleRow) store.ScheduleRecord {
	return store.ScheduleRecord{
		ID:              row.ID,
		WorkflowID:      row.WorkflowID,
		Type:            row.Type,
		CronExpression:  row.CronExpression,
		Timezone:        row.Timezone,
		IntervalMinutes:   row.IntervalMinutes,
		MinutesStartingAt: row.MinutesStartingAt,
		HourOfDay:       row.HourOfDay,
		MinuteOfHour:    row.MinuteOfHour,
		DayOfWeek:       row.DayOfWeek,
		DayOfMonth:      row.DayOfMonth,
		Enabled:         row.Enabled,
		NextDueAt:       row.NextDueAt,
		LastRunAt:       row.LastRunAt,
		FailureCount:    row.FailureCount,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}
