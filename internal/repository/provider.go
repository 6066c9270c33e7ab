package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Provider hands out repositories bound to a single pooled connection
type Provider struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewProvider creates a new provider whose repositories use loc as the billing calendar
func NewProvider(pool *pgxpool.Pool, loc *time.Location) *Provider {
	return &Provider{pool: pool, loc: loc}
}

// Acquire returns a repository on a dedicated connection and the func that returns it to the pool
func (p *Provider) Acquire(ctx context.Context) (*Repository, func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return NewRepository(conn, p.loc), conn.Release, nil
}

// Shared returns a repository that draws a connection per statement
func (p *Provider) Shared() *Repository {
	return NewRepository(p.pool, p.loc)
}
