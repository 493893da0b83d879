package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	chstore "github.com/5ou1e/CryptoStorage-sub000/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the archive database named in dsn, applies
// every embedded file and returns a connection to that database. Archive
// statements are written with IF NOT EXISTS, so files are re-run each time.
func RunClickhouseMigrations(ctx context.Context, dsn string, logger *zerolog.Logger) (*chstore.Conn, error) {
	logger = logging.OrGlobal(logger)
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	files, err := readFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	createErr := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName)
	if err := errors.Join(createErr, admin.Close()); err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	for _, f := range files {
		stmts, err := splitStatements(f.SQL)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migration %s: %w", f.Version, err)
		}
		// The driver runs one statement per Exec.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", f.Version, err)
			}
		}
		logger.Debug().Str("version", f.Version).Int("statements", len(stmts)).Msg("clickhouse migration applied")
	}
	return conn, nil
}

// splitStatements drops -- comment lines and splits on semicolons. A
// semicolon inside a single-quoted literal is rejected rather than split.
func splitStatements(input string) ([]string, error) {
	var lines []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, line)
	}
	body := strings.Join(lines, "\n")
	if err := checkQuotedSemicolons(body); err != nil {
		return nil, err
	}

	var stmts []string
	for _, part := range strings.Split(body, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

func checkQuotedSemicolons(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if quoted && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn missing database")
	}
	return db, nil
}
