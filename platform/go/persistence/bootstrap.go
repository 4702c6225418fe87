package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/dehesalabs/trazar/database"
)

// BootstrapCoreSchema applies the core DDL in a single transaction, in
// dependency order:
//  1. core/lots.sql
//  2. core/zones.sql
//  3. core/stays.sql
//  4. core/sensor_readings.sql
//  5. core/qr_snapshots.sql
//  6. core/lot_field_templates.sql
//
// SQL is embedded at build time so binaries stay self-contained. The helper
// is idempotent and intended for the bootstrap CLI and tests.
func BootstrapCoreSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap core schema: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.LotsSQL)...)
	statements = append(statements, splitStatements(sqlassets.ZonesSQL)...)
	statements = append(statements, splitStatements(sqlassets.StaysSQL)...)
	statements = append(statements, splitStatements(sqlassets.SensorReadingsSQL)...)
	statements = append(statements, splitStatements(sqlassets.QrSnapshotsSQL)...)
	statements = append(statements, splitStatements(sqlassets.LotFieldTemplatesSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks an embedded SQL asset into individual statements.
// The DDL files deliberately avoid semicolons inside statement bodies.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	statements := make([]string, 0, len(raw))
	for _, stmt := range raw {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
