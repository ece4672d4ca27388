package model

import "time"

type InvocationOutcome string

const (
	InvocationResponded InvocationOutcome = "responded"
	InvocationTimedOut  InvocationOutcome = "timed_out"
)

// Invocation is one recorded portal session, kept in Postgres for the
// portal owner's history and for operator audits (charges are never
// refunded automatically, so the record is the paper trail).
type Invocation struct {
	ID        int64             `db:"id" json:"id"`
	JobID     string            `db:"job_id" json:"jobId"`
	PortalID  string            `db:"portal_id" json:"portalId"`
	GuildID   string            `db:"guild_id" json:"guildId"`
	CallerID  string            `db:"caller_id" json:"callerId"`
	Command   string            `db:"command" json:"command"`
	Charged   int64             `db:"charged" json:"charged"`
	Outcome   InvocationOutcome `db:"outcome" json:"outcome"`
	LatencyMS int64             `db:"latency_ms" json:"latencyMs"`
	CreatedAt time.Time         `db:"created_at" json:"createdAt"`
}

type RecordInvocationParams struct {
	JobID    string
	PortalID string
	GuildID  string
	CallerID string
	Command  string
	Charged  int64
	Outcome  InvocationOutcome
	Latency  time.Duration
}
