package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/breqdev/portal-bridge-go/internal/model"
)

type InvocationRepository interface {
	Record(ctx context.Context, params model.RecordInvocationParams) (*model.Invocation, error)
	FindByJobID(ctx context.Context, jobID string) (*model.Invocation, error)
	ListByPortal(ctx context.Context, portalID string, limit int) ([]model.Invocation, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type invocationRepo struct {
	db *sqlx.DB
}

func NewInvocationRepository(db *sqlx.DB) InvocationRepository {
	return &invocationRepo{db: db}
}

func (r *invocationRepo) Record(ctx context.Context, params model.RecordInvocationParams) (*model.Invocation, error) {
	var inv model.Invocation
	err := r.db.GetContext(ctx, &inv, `
		INSERT INTO invocations (job_id, portal_id, guild_id, caller_id, command, charged, outcome, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.JobID, params.PortalID, params.GuildID, params.CallerID,
		params.Command, params.Charged, params.Outcome, params.Latency.Milliseconds())
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invocationRepo) FindByJobID(ctx context.Context, jobID string) (*model.Invocation, error) {
	var inv model.Invocation
	err := r.db.GetContext(ctx, &inv, `SELECT * FROM invocations WHERE job_id = $1`, jobID)
	return HandleNotFound(&inv, err)
}

func (r *invocationRepo) ListByPortal(ctx context.Context, portalID string, limit int) ([]model.Invocation, error) {
	var invs []model.Invocation
	err := r.db.SelectContext(ctx, &invs, `
		SELECT * FROM invocations
		WHERE portal_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, portalID, limit)
	if err != nil {
		return nil, err
	}
	return invs, nil
}

func (r *invocationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM invocations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
