// Package shards reports how travel plans are spread over the backend's
// Postgres shards. The shard list comes from the registry's shard_mapping table.
package shards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConnectTimeout bounds each shard connection
const DefaultConnectTimeout = 3 * time.Second

const (
	jdbcPrefix  = "jdbc:postgresql://"
	defaultPort = 5432

	// undefined_table
	codeUndefinedTable = "42P01"
)

// Status of a single shard
type Status string

const (
	StatusOK    Status = "OK"
	StatusEmpty Status = "EMPTY"
	StatusDown  Status = "DOWN"
)

// Target is where one shard lives
type Target struct {
	Key      string `json:"key" yaml:"key"`
	Host     string `json:"host" yaml:"host"`
	Port     uint16 `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
}

// Shard is the observed state of one shard
type Shard struct {
	Target `yaml:",inline"`
	Rows   int64  `json:"rows" yaml:"rows"`
	Size   string `json:"size" yaml:"size"`
	Status Status `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the result of Stats
type Report struct {
	Shards []Shard `json:"shards" yaml:"shards"`
	Total  int64   `json:"total" yaml:"total"`
}

// Options tunes Stats
type Options struct {
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// ParseJDBC reads a jdbc:postgresql://host[:port]/db URL
func ParseJDBC(raw string) (Target, error) {
	if !strings.HasPrefix(raw, jdbcPrefix) {
		return Target{}, fmt.Errorf("not a postgres JDBC URL: %q", raw)
	}
	rest := strings.TrimPrefix(raw, jdbcPrefix)
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}

	hostPort, db, ok := strings.Cut(rest, "/")
	if !ok || db == "" {
		return Target{}, fmt.Errorf("JDBC URL %q has no database", raw)
	}

	t := Target{Host: hostPort, Port: defaultPort, Database: db}
	if host, port, found := strings.Cut(hostPort, ":"); found {
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return Target{}, fmt.Errorf("invalid port in JDBC URL %q: %w", raw, err)
		}
		t.Host = host
		t.Port = uint16(p)
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("JDBC URL %q has no host", raw)
	}
	return t, nil
}

// Stats reads the shard registry at registryDSN and queries every shard in parallel.
// Shard credentials are taken from the registry DSN.
func Stats(ctx context.Context, registryDSN string, opts Options) (*Report, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	base, err := pgx.ParseConfig(registryDSN)
	if err != nil {
		return nil, fmt.Errorf("invalid registry DSN: %w", err)
	}
	base.ConnectTimeout = opts.ConnectTimeout

	targets, err := loadTargets(ctx, base)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("Loaded shard mapping", zap.Int("shards", len(targets)))

	shards := make([]Shard, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			shards[i] = inspect(gctx, base, t)
			if shards[i].Status == StatusDown {
				opts.Logger.Warn("Shard unreachable",
					zap.String("shard", t.Key),
					zap.String("host", t.Host),
					zap.String("error", shards[i].Error))
			}
			return nil
		})
	}
	_ = g.Wait()

	return newReport(shards), nil
}

func newReport(shards []Shard) *Report {
	r := &Report{Shards: shards}
	for _, s := range shards {
		r.Total += s.Rows
	}
	return r
}

func loadTargets(ctx context.Context, base *pgx.ConnConfig) ([]Target, error) {
	conn, err := pgx.ConnectConfig(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to shard registry: %w", err)
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, `SELECT shard_key, jdbc_url FROM shard_mapping ORDER BY shard_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard_mapping: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var key, url string
		if err := rows.Scan(&key, &url); err != nil {
			return nil, fmt.Errorf("failed to scan shard_mapping: %w", err)
		}
		t, err := ParseJDBC(url)
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", key, err)
		}
		t.Key = key
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read shard_mapping: %w", err)
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Key < targets[j].Key })
	return targets, nil
}

// shardConfig points a copy of the registry config at t
func shardConfig(base *pgx.ConnConfig, t Target) *pgx.ConnConfig {
	cfg := base.Copy()
	cfg.Host = t.Host
	cfg.Port = t.Port
	cfg.Database = t.Database
	cfg.Fallbacks = nil
	return cfg
}

func inspect(ctx context.Context, base *pgx.ConnConfig, t Target) Shard {
	s := Shard{Target: t, Size: "-", Status: StatusOK}

	conn, err := pgx.ConnectConfig(ctx, shardConfig(base, t))
	if err != nil {
		return down(s, err)
	}
	defer conn.Close(context.Background())

	if err := conn.QueryRow(ctx, `SELECT count(*) FROM travel_plans`).Scan(&s.Rows); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable {
			s.Rows = 0
			s.Size = "Empty"
			s.Status = StatusEmpty
			return s
		}
		return down(s, err)
	}

	if err := conn.QueryRow(ctx, `SELECT pg_size_pretty(pg_database_size(current_database()))`).Scan(&s.Size); err != nil {
		return down(s, err)
	}
	return s
}

func down(s Shard, err error) Shard {
	s.Rows = 0
	s.Size = "Unreachable"
	s.Status = StatusDown
	s.Error = err.Error()
	return s
}

// Write prints the report as a table
func Write(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tLOCATION\tDB NAME\tROWS\tSIZE\tSTATUS")
	for _, s := range r.Shards {
		fmt.Fprintf(tw, "%s\t%s:%d\t%s\t%d\t%s\t%s\n", s.Key, s.Host, s.Port, s.Database, s.Rows, s.Size, s.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTOTAL RECORDS IN CLUSTER: %d\n", r.Total)
	return err
}
