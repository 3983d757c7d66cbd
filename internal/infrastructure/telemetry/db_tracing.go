// Package telemetry provides OpenTelemetry integration for distributed tracing.
package telemetry

import (
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const queryStartKey = "telemetry:query_start"

// DBTracingConfig controls GORM query tracing
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL includes query parameters in spans. Leave off outside
	// development, parameters may contain user data.
	LogFullSQL bool
	// SlowQueryThresh marks queries above this duration on their span
	SlowQueryThresh time.Duration
}

// DefaultDBTracingConfig returns the secure defaults
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:         false,
		LogFullSQL:      false,
		SlowQueryThresh: 200 * time.Millisecond,
	}
}

// EnableDBTracing registers the otelgorm plugin plus callbacks that annotate
// query spans with row counts, table names and slow-query events.
func EnableDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = DefaultDBTracingConfig().SlowQueryThresh
	}

	var opts []otelgorm.Option
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := registerAnnotateCallbacks(db, annotateSpan(cfg.SlowQueryThresh)); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh))
	return nil
}

func markQueryStart(db *gorm.DB) {
	db.InstanceSet(queryStartKey, time.Now())
}

func registerAnnotateCallbacks(db *gorm.DB, after func(*gorm.DB)) error {
	if err := db.Callback().Create().Before("gorm:create").Register("telemetry:before_create", markQueryStart); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("gorm:query").Register("telemetry:before_query", markQueryStart); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("telemetry:before_update", markQueryStart); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("telemetry:before_delete", markQueryStart); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("telemetry:before_row", markQueryStart); err != nil {
		return err
	}
	if err := db.Callback().Raw().Before("gorm:raw").Register("telemetry:before_raw", markQueryStart); err != nil {
		return err
	}

	if err := db.Callback().Create().After("gorm:create").Register("telemetry:after_create", after); err != nil {
		return err
	}
	if err := db.Callback().Query().After("gorm:query").Register("telemetry:after_query", after); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("telemetry:after_update", after); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("telemetry:after_delete", after); err != nil {
		return err
	}
	if err := db.Callback().Row().After("gorm:row").Register("telemetry:after_row", after); err != nil {
		return err
	}
	if err := db.Callback().Raw().After("gorm:raw").Register("telemetry:after_raw", after); err != nil {
		return err
	}
	return nil
}

// annotateSpan returns the after-query callback. It runs inside the otelgorm
// span, so attributes land before the span ends.
func annotateSpan(slowThresh time.Duration) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}

		if db.Statement.RowsAffected >= 0 {
			span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		}
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}

		// ErrRecordNotFound is an expected outcome, not a failure
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, db.Error.Error())
			span.RecordError(db.Error)
		}

		if v, ok := db.InstanceGet(queryStartKey); ok {
			if startTime, ok := v.(time.Time); ok {
				elapsed := time.Since(startTime)
				if elapsed > slowThresh {
					span.SetAttributes(
						attribute.Bool("db.slow_query", true),
						attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
					)
					span.AddEvent("slow_query_warning", trace.WithAttributes(
						attribute.Int64("duration_ms", elapsed.Milliseconds()),
						attribute.Int64("threshold_ms", slowThresh.Milliseconds()),
					))
				}
			}
		}
	}
}
