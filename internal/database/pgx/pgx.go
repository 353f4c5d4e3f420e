package pgx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"marketstats.shikanime.studio/internal/config"
)

// NewClientForConfig creates a pgxpool.Pool using DSN information from cfg.
func NewClientForConfig(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsnURL, err := cfg.GetDsn()
	if err != nil {
		return nil, err
	}
	if dsnURL.Scheme != "postgres" && dsnURL.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported database scheme %q", dsnURL.Scheme)
	}
	pcfg, err := pgxpool.ParseConfig(dsnURL.String())
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	return pgxpool.NewWithConfig(ctx, pcfg)
}
