package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pilab-dev/shadow-authz/domain"
)

const clientColumns = `id, secret_hash, name, homepage_url, redirect_uris, scopes, status, created_at, updated_at`

// ClientRepository implements domain.ClientRepository on oauth_clients.
type ClientRepository struct {
	db DB
}

func NewClientRepository(db DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func scanClient(row pgx.Row) (*domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.ID, &c.SecretHash, &c.Name, &c.HomepageURL, &c.RedirectURIs, &c.Scopes,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClientRepository) CreateClient(ctx context.Context, c *domain.Client) error {
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO oauth_clients (`+clientColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.SecretHash, c.Name, c.HomepageURL, c.RedirectURIs, scopes, c.Status, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (r *ClientRepository) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	c, err := scanClient(r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM oauth_clients WHERE id = $1`, clientID))
	if err != nil {
		return nil, noRows(err)
	}
	return c, nil
}

func (r *ClientRepository) ListClients(ctx context.Context) ([]*domain.Client, error) {
	rows, err := r.db.Query(ctx, `SELECT `+clientColumns+` FROM oauth_clients ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ClientRepository) SetClientStatus(ctx context.Context, clientID string, status domain.ClientStatus, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE oauth_clients SET status = $2, updated_at = $3 WHERE id = $1`, clientID, status, at)
	if err != nil {
		return fmt.Errorf("update client status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_clients WHERE id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.ClientRepository = (*ClientRepository)(nil)
