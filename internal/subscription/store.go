// Package subscription manages per-tenant webhook subscriptions: the
// destination URL, the event types it wants, and the signing secret.
// Every operation goes through the tenant-scoped data layer, so one
// tenant's subscriptions are structurally invisible to another's.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/moorings/berthhook/internal/tenantdb"
)

var ErrNotFound = errors.New("subscription: not found")

// Subscription is the read form; the secret is always masked.
type Subscription struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	URL          string    `json:"url"`
	EventTypes   []string  `json:"event_types"`
	SecretMasked string    `json:"secret"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Created is returned once from Create and carries the full secret. It is
// not retrievable afterwards.
type Created struct {
	Subscription
	Secret string `json:"secret"`
}

// UpdateParams are the mutable subscription attributes. Nil fields are
// left unchanged. The tenant id and the secret are not updatable through
// this path.
type UpdateParams struct {
	URL        *string
	EventTypes *[]string
	Active     *bool
}

type Store struct {
	db *tenantdb.DB
}

func NewStore(db *tenantdb.DB) *Store {
	return &Store{db: db}
}

// Create registers a subscription for the tenant in scope. A caller
// supplied tenant id (claimedTenant) that conflicts with the scope is a
// violation; pass "" when the caller has no opinion.
func (s *Store) Create(ctx context.Context, claimedTenant, destURL string, eventTypes []string) (Created, error) {
	if destURL == "" || len(eventTypes) == 0 {
		return Created{}, errors.New("subscription: url and event types are required")
	}
	if _, err := url.ParseRequestURI(destURL); err != nil {
		return Created{}, fmt.Errorf("subscription: invalid url: %w", err)
	}

	conn, err := s.db.Scoped(ctx)
	if err != nil {
		return Created{}, err
	}
	tenantID, err := conn.Stamp(ctx, "subscription.create", claimedTenant)
	if err != nil {
		return Created{}, err
	}

	secret, err := NewSecret()
	if err != nil {
		return Created{}, err
	}
	id := "sub_" + uuid.NewString()

	var createdAt time.Time
	err = conn.QueryRow(ctx, `
		INSERT INTO berthhook.subscriptions (tenant_id, id, url, event_types, secret)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		id, destURL, eventTypes, secret,
	).Scan(&createdAt)
	if err != nil {
		return Created{}, fmt.Errorf("subscription: insert: %w", err)
	}

	return Created{
		Subscription: Subscription{
			ID:           id,
			TenantID:     tenantID,
			URL:          destURL,
			EventTypes:   eventTypes,
			SecretMasked: MaskSecret(secret),
			Active:       true,
			CreatedAt:    createdAt,
		},
		Secret: secret,
	}, nil
}

// Get returns one subscription of the tenant in scope. A foreign
// subscription id yields ErrNotFound, indistinguishable from absence.
func (s *Store) Get(ctx context.Context, id string) (Subscription, error) {
	conn, err := s.db.Scoped(ctx)
	if err != nil {
		return Subscription{}, err
	}
	var sub Subscription
	var secretPrefix string
	err = conn.QueryRow(ctx, `
		SELECT id, tenant_id, url, event_types, substr(secret, 1, 8), active, created_at
		FROM berthhook.subscriptions
		WHERE tenant_id = $1 AND id = $2`,
		id,
	).Scan(&sub.ID, &sub.TenantID, &sub.URL, &sub.EventTypes, &secretPrefix, &sub.Active, &sub.CreatedAt)
	if err != nil {
		return Subscription{}, ErrNotFound
	}
	sub.SecretMasked = secretPrefix + "..."
	return sub, nil
}

// List returns all subscriptions of the tenant in scope.
func (s *Store) List(ctx context.Context) ([]Subscription, error) {
	conn, err := s.db.Scoped(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, `
		SELECT id, tenant_id, url, event_types, substr(secret, 1, 8), active, created_at
		FROM berthhook.subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		var secretPrefix string
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.URL, &sub.EventTypes, &secretPrefix, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.SecretMasked = secretPrefix + "..."
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Update mutates url/event_types/active. The returned count is the rows
// affected; a cross-tenant target updates zero rows, which callers can
// observe without learning whether the id exists elsewhere.
func (s *Store) Update(ctx context.Context, id string, p UpdateParams) (int64, error) {
	conn, err := s.db.Scoped(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := conn.Exec(ctx, `
		UPDATE berthhook.subscriptions
		SET url         = COALESCE($3, url),
		    event_types = COALESCE($4, event_types),
		    active      = COALESCE($5, active),
		    updated_at  = now()
		WHERE tenant_id = $1 AND id = $2`,
		id, p.URL, p.EventTypes, p.Active)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Deactivate flips a subscription inactive. Deliveries already claimed by
// a worker still complete; pending ones stop being claimable and no new
// ones are fanned out. Subscriptions are never hard-deleted so delivery
// history stays attributable.
func (s *Store) Deactivate(ctx context.Context, id string) (int64, error) {
	conn, err := s.db.Scoped(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := conn.Exec(ctx, `
		UPDATE berthhook.subscriptions
		SET active = FALSE, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RotateSecret replaces the signing secret and returns the new value,
// shown this one time only.
func (s *Store) RotateSecret(ctx context.Context, id string) (string, error) {
	conn, err := s.db.Scoped(ctx)
	if err != nil {
		return "", err
	}
	secret, err := NewSecret()
	if err != nil {
		return "", err
	}
	tag, err := conn.Exec(ctx, `
		UPDATE berthhook.subscriptions
		SET secret = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		id, secret)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return secret, nil
}
