package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/cloudx-io/bidchain/core"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Postgres is a pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool, applies pending migrations and verifies
// the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := migrate(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const auctionColumns = `id, title, seller_id, start_price, current_price,
	start_time, end_time, status, highest_bidder, reject_reason, no_winner,
	winner_id, provision_ref, transfer_ref, created_at, settled_at`

func (p *Postgres) CreateAuction(ctx context.Context, a *core.Auction) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Title, a.SellerID, a.StartPrice, a.CurrentPrice,
		a.StartTime, a.EndTime, string(a.Status), a.HighestBidder, a.RejectReason,
		a.NoWinner, a.WinnerID, a.ProvisionRef, a.TransferRef, a.CreatedAt, settledAtParam(a))
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

func (p *Postgres) AuctionByID(ctx context.Context, id uuid.UUID) (*core.Auction, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select auction: %w", err)
	}
	return a, nil
}

func (p *Postgres) UpdateAuction(ctx context.Context, a *core.Auction) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE auctions SET
			title = $2, current_price = $3, start_time = $4, end_time = $5,
			status = $6, highest_bidder = $7, reject_reason = $8, no_winner = $9,
			winner_id = $10, provision_ref = $11, transfer_ref = $12, settled_at = $13
		WHERE id = $1`,
		a.ID, a.Title, a.CurrentPrice, a.StartTime, a.EndTime,
		string(a.Status), a.HighestBidder, a.RejectReason, a.NoWinner,
		a.WinnerID, a.ProvisionRef, a.TransferRef, settledAtParam(a))
	if err != nil {
		return fmt.Errorf("update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListAuctions(ctx context.Context, f Filter) ([]core.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions`
	args := []any{}
	if f.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*f.Status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	out := []core.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveBid(ctx context.Context, b *core.Bid) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, nonce, digest, signature, ts, accepted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, int64(b.Nonce),
		b.Digest, b.Signature, b.Timestamp, b.AcceptedAt, string(b.Status))
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateBidStatus(ctx context.Context, id uuid.UUID, status core.BidStatus) error {
	tag, err := p.pool.Exec(ctx, `UPDATE bids SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update bid status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *Postgres) BidsByAuction(ctx context.Context, auctionID uuid.UUID) ([]core.Bid, error) {
	return p.queryBids(ctx, `
		SELECT id, auction_id, bidder_id, amount, nonce, digest, signature, ts, accepted_at, status
		FROM bids WHERE auction_id = $1 ORDER BY accepted_at`, auctionID)
}

func (p *Postgres) AllBids(ctx context.Context) ([]core.Bid, error) {
	return p.queryBids(ctx, `
		SELECT id, auction_id, bidder_id, amount, nonce, digest, signature, ts, accepted_at, status
		FROM bids ORDER BY accepted_at`)
}

func (p *Postgres) queryBids(ctx context.Context, query string, args ...any) ([]core.Bid, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}
	defer rows.Close()

	out := []core.Bid{}
	for rows.Next() {
		var b core.Bid
		var nonce int64
		var status string
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &nonce,
			&b.Digest, &b.Signature, &b.Timestamp, &b.AcceptedAt, &status); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		b.Nonce = uint64(nonce)
		b.Status = core.BidStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*core.Auction, error) {
	var a core.Auction
	var status string
	var settledAt *time.Time
	err := row.Scan(&a.ID, &a.Title, &a.SellerID, &a.StartPrice, &a.CurrentPrice,
		&a.StartTime, &a.EndTime, &status, &a.HighestBidder, &a.RejectReason,
		&a.NoWinner, &a.WinnerID, &a.ProvisionRef, &a.TransferRef, &a.CreatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	a.Status = core.AuctionStatus(status)
	if settledAt != nil {
		a.SettledAt = *settledAt
	}
	return &a, nil
}

// settledAtParam maps the zero time to SQL NULL.
func settledAtParam(a *core.Auction) *time.Time {
	if a.SettledAt.IsZero() {
		return nil
	}
	return &a.SettledAt
}
