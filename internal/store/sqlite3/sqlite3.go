// Package sqlite3 is a SQLite-backed store.Store implementation, intended
// for single-process deployments. Grounded on the teacher's
// internal/store/sqlite3/sqlite3.go (modernc.org/sqlite driver, WAL mode,
// single-writer connection pool, goqu query builder), generalized from its
// provider/token-shaped tables to flowlane's workflow/schedule/environment/
// log shape. Timestamps are stored as RFC3339 TEXT since SQLite has no
// native timestamp type.
package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "modernc.org/sqlite"

	"github.com/rakunlabs/flowlane/internal/config"
	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/store"
)

var DefaultTablePrefix = "flowlane_"

type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableWorkflows    exp.IdentifierExpression
	tableSchedules    exp.IdentifierExpression
	tableEnvironments exp.IdentifierExpression
	tableLogs         exp.IdentifierExpression
}

func New(ctx context.Context, cfg *config.StoreSQLite) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
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
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite")

	return &SQLite{
		db:                db,
		goqu:              goqu.New("sqlite3", db),
		tableWorkflows:    goqu.T(tablePrefix + "workflows"),
		tableSchedules:    goqu.T(tablePrefix + "schedules"),
		tableEnvironments: goqu.T(tablePrefix + "environments"),
		tableLogs:         goqu.T(tablePrefix + "logs"),
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}

type scheduleRow struct {
	ID              string  `db:"id"`
	WorkflowID      string  `db:"workflow_id"`
	Type            string  `db:"type"`
	CronExpression  string  `db:"cron_expression"`
	Timezone        string  `db:"timezone"`
	IntervalMinutes int     `db:"interval_minutes"`
	MinutesStartingAt string `db:"minutes_starting_at"`
	HourOfDay       int     `db:"hour_of_day"`
	MinuteOfHour    int     `db:"minute_of_hour"`
	DayOfWeek       int     `db:"day_of_week"`
	DayOfMonth      int     `db:"day_of_month"`
	Enabled         bool    `db:"enabled"`
	NextDueAt       string  `db:"next_due_at"`
	LastRunAt       *string `db:"last_run_at"`
	FailureCount    int     `db:"failure_count"`
	CreatedAt       string  `db:"created_at"`
	UpdatedAt       string  `db:"updated_at"`
}

func (s *SQLite) LoadDueSchedules(ctx context.Context, now time.Time, limit int) ([]store.ScheduleRecord, error) {
	query, _, err := s.goqu.From(s.tableSchedules).
		Select("id", "workflow_id", "type", "cron_expression", "timezone", "interval_minutes",
			"minutes_starting_at", "hour_of_day", "minute_of_hour", "day_of_week", "day_of_month",
			"enabled", "next_due_at", "last_run_at", "failure_count", "created_at", "updated_at").
		Where(goqu.I("enabled").Eq(true), goqu.I("next_due_at").Lte(now.UTC().Format(time.RFC3339))).
		Order(goqu.I("next_due_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build due schedules query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
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
		rec, err := scheduleRowToRecord(row)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}

func (s *SQLite) UpdateSchedule(ctx context.Context, rec store.ScheduleRecord) error {
	var lastRunAt *string
	if rec.LastRunAt != nil {
		v := rec.LastRunAt.UTC().Format(time.RFC3339)
		lastRunAt = &v
	}

	query, _, err := s.goqu.Update(s.tableSchedules).Set(
		goqu.Record{
			"next_due_at":   rec.NextDueAt.UTC().Format(time.RFC3339),
			"last_run_at":   lastRunAt,
			"failure_count": rec.FailureCount,
			"enabled":       rec.Enabled,
			"updated_at":    time.Now().UTC().Format(time.RFC3339),
		},
	).Where(goqu.I("id").Eq(rec.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update schedule query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
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
	ID        string `db:"id"`
	Name      string `db:"name"`
	OwnerID   string `db:"owner_id"`
	State     []byte `db:"state"`
	Enabled   bool   `db:"enabled"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLite) LoadWorkflow(ctx context.Context, id string) (store.WorkflowRecord, error) {
	query, _, err := s.goqu.From(s.tableWorkflows).
		Select("id", "name", "owner_id", "state", "enabled", "created_at", "updated_at").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return store.WorkflowRecord{}, fmt.Errorf("build load workflow query: %w", err)
	}

	var row workflowRow
	err = s.db.QueryRowContext(ctx, query).Scan(
		&row.ID, &row.Name, &row.OwnerID, &row.State, &row.Enabled, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.WorkflowRecord{}, flowerrors.ErrWorkflowNotFound
	}
	if err != nil {
		return store.WorkflowRecord{}, fmt.Errorf("load workflow %q: %w", id, err)
	}

	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return store.WorkflowRecord{}, fmt.Errorf("parse workflow created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return store.WorkflowRecord{}, fmt.Errorf("parse workflow updated_at: %w", err)
	}

	return store.WorkflowRecord{
		ID: row.ID, Name: row.Name, OwnerID: row.OwnerID, State: row.State,
		Enabled: row.Enabled, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

func (s *SQLite) LoadEnvironment(ctx context.Context, ownerID string) (store.EnvironmentRecord, error) {
	query, _, err := s.goqu.From(s.tableEnvironments).
		Select("owner_id", "ciphertexts", "updated_at").
		Where(goqu.I("owner_id").Eq(ownerID)).
		ToSQL()
	if err != nil {
		return store.EnvironmentRecord{}, fmt.Errorf("build load environment query: %w", err)
	}

	var ownerRow, ciphertextsJSON, updatedAtStr string
	err = s.db.QueryRowContext(ctx, query).Scan(&ownerRow, &ciphertextsJSON, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return store.EnvironmentRecord{OwnerID: ownerID}, nil
	}
	if err != nil {
		return store.EnvironmentRecord{}, fmt.Errorf("load environment %q: %w", ownerID, err)
	}

	var ciphertexts map[string]string
	if err := json.Unmarshal([]byte(ciphertextsJSON), &ciphertexts); err != nil {
		return store.EnvironmentRecord{}, fmt.Errorf("unmarshal environment ciphertexts for %q: %w", ownerID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return store.EnvironmentRecord{}, fmt.Errorf("parse environment updated_at: %w", err)
	}

	return store.EnvironmentRecord{OwnerID: ownerRow, Ciphertexts: ciphertexts, UpdatedAt: updatedAt}, nil
}

func (s *SQLite) AppendLog(ctx context.Context, rec store.LogRecord) error {
	outputJSON, err := json.Marshal(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal log output: %w", err)
	}
	blockLogsJSON, err := json.Marshal(rec.BlockLogs)
	if err != nil {
		return fmt.Errorf("marshal log block logs: %w", err)
	}

	query, _, err := s.goqu.Insert(s.tableLogs).Rows(
		goqu.Record{
			"id":          rec.ID,
			"workflow_id": rec.WorkflowID,
			"schedule_id": rec.ScheduleID,
			"success":     rec.Success,
			"started_at":  rec.StartedAt.UTC().Format(time.RFC3339),
			"finished_at": rec.FinishedAt.UTC().Format(time.RFC3339),
			"output":      string(outputJSON),
			"error":       rec.Error,
			"block_logs":  string(blockLogsJSON),
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build append log query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append log %q: %w", rec.ID, err)
	}
	return nil
}

func scheduleRowToRecord(row scheduleRow) (store.ScheduleRecord, error) {
	nextDueAt, err := time.Parse(time.RFC3339, row.NextDueAt)
	if err != nil {
		return store.ScheduleRecord{}, fmt.Errorf("parse schedule next_due_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return store.ScheduleRecord{}, fmt.Errorf("parse schedule created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return store.ScheduleRecord{}, fmt.Errorf("parse schedule updated_at: %w", err)
	}
	var lastRunAt *time.Time
	if row.LastRunAt != nil {
		t, err := time.Parse(time.RFC3339, *row.LastRunAt)
		if err != nil {
			return store.ScheduleRecord{}, fmt.Errorf("parse schedule last_run_at: %w", err)
		}
		lastRunAt = &t
	}

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
		NextDueAt:       nextDueAt,
		LastRunAt:       lastRunAt,
		FailureCount:    row.FailureCount,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}
