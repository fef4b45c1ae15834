package sink

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/payload"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DRIVER_MYSQL  = "mysql"
	DRIVER_SQLITE = "sqlite3"

	DEFAULT_MYSQL_PORT = 3306
)

// SQLSink inserts one row per payload into the <type><modelNumber> table.
// Every send opens its own connection and closes it afterwards.
type SQLSink struct {
	driver  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewMySQLSink(timeout time.Duration, logger *zap.Logger) *SQLSink {
	return &SQLSink{
		driver:  DRIVER_MYSQL,
		timeout: timeout,
		logger:  logger.With(zap.String("sink", "mysql")),
	}
}

// NewSQLiteSink stores rows in the local database file named by the server's
// databasename (or path).
func NewSQLiteSink(timeout time.Duration, logger *zap.Logger) *SQLSink {
	return &SQLSink{
		driver:  DRIVER_SQLITE,
		timeout: timeout,
		logger:  logger.With(zap.String("sink", "sqlite")),
	}
}

func (s *SQLSink) DSN(server config.Server) (string, error) {
	switch s.driver {
	case DRIVER_SQLITE:
		file := server.DatabaseName
		if file == "" {
			file = server.Path
		}
		if file == "" {
			return "", fmt.Errorf("server %s: sqlite needs a databasename", server.Id)
		}
		return fmt.Sprintf("file:%s?_busy_timeout=%d", file, s.timeout.Milliseconds()), nil
	default:
		port := server.Port
		if port == 0 {
			port = DEFAULT_MYSQL_PORT
		}
		cfg := mysql.NewConfig()
		cfg.User = server.Username
		cfg.Passwd = server.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(server.Hostname, strconv.Itoa(int(port)))
		cfg.DBName = server.DatabaseName
		cfg.Timeout = s.timeout
		cfg.ReadTimeout = s.timeout
		cfg.WriteTimeout = s.timeout
		if server.Certificate != "" {
			tlsConfig, err := TLSConfig(server.Certificate)
			if err != nil {
				return "", err
			}
			name := "marshal_" + server.Id
			if err := mysql.RegisterTLSConfig(name, tlsConfig); err != nil {
				return "", err
			}
			cfg.TLSConfig = name
		} else {
			// TLS when the server offers it, unverified
			cfg.TLSConfig = "preferred"
		}
		return cfg.FormatDSN(), nil
	}
}

// QuoteIdentifier backtick-quotes a table or column name.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// BuildInsert renders the single-row insert for out: measurement columns in
// sorted order, every value bound as a parameter.
func BuildInsert(out payload.Outbound) (string, []any) {
	names := out.Names()
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(QuoteIdentifier(out.Table()))
	sb.WriteString(" (`isSynced`, `timestmp`")
	for _, name := range names {
		sb.WriteString(", ")
		sb.WriteString(QuoteIdentifier(name))
	}
	sb.WriteString(") VALUES (false, ?")
	args := make([]any, 0, len(names)+1)
	args = append(args, out.T)
	for _, name := range names {
		sb.WriteString(", ?")
		args = append(args, out.M[name])
	}
	sb.WriteString(")")
	return sb.String(), args
}

func (s *SQLSink) Send(ctx context.Context, server config.Server, out payload.Outbound) (payload.Reply, error) {
	dsn, err := s.DSN(server)
	if err != nil {
		return payload.Reply{}, transportError("server %s: %v", server.Id, err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	db, err := sqlx.ConnectContext(ctx, s.driver, dsn)
	if err != nil {
		return payload.Reply{}, transportError("server %s: connect: %v", server.Id, err)
	}
	defer db.Close()

	query, args := BuildInsert(out)
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return payload.Reply{}, transportError("server %s: begin: %v", server.Id, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		tx.Rollback()
		return payload.Reply{}, transportError("server %s: insert into %s: %v", server.Id, out.Table(), err)
	}
	if err := tx.Commit(); err != nil {
		return payload.Reply{}, transportError("server %s: commit: %v", server.Id, err)
	}

	s.logger.Debug("sink@sql: row stored", zap.String("table", out.Table()), zap.Int("columns", len(args)+1))
	return payload.Reply{}, nil
}
