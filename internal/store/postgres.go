package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"guardwatch/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		severity TEXT NOT NULL,
		guard_id TEXT NOT NULL,
		guard_name TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_guard_created_idx ON alerts (guard_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		target_role TEXT,
		target_guard_id TEXT,
		read BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_guard_created_idx ON notifications (target_guard_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT,
		payload BYTEA NOT NULL,
		status TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_error TEXT,
		response_code INT,
		latency_ms INT,
		dedup_key TEXT NOT NULL,
		delivered_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (event_type, url, dedup_key)
	)`,
	`CREATE INDEX IF NOT EXISTS webhook_deliveries_due_idx ON webhook_deliveries (status, next_attempt_at)`,
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

func (p *Postgres) SaveAlert(ctx context.Context, a model.AlertEnvelope) error {
	var meta any
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode alert metadata: %w", err)
		}
		meta = b
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO alerts (id, type, message, severity, guard_id, guard_name, latitude, longitude, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Type, a.Message, string(a.Severity), a.GuardID, a.GuardName, nullFloat(a.Latitude), nullFloat(a.Longitude), meta, a.Timestamp)
	return err
}

func (p *Postgres) ListAlerts(ctx context.Context, guardID string, limit int) ([]model.AlertEnvelope, error) {
	q := `SELECT id, type, message, severity, guard_id, guard_name, latitude, longitude, metadata, created_at FROM alerts`
	args := []any{}
	if guardID != "" {
		q += ` WHERE guard_id=$1`
		args = append(args, guardID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, clampLimit(limit))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AlertEnvelope{}
	for rows.Next() {
		var a model.AlertEnvelope
		var sev string
		var lat, lng sql.NullFloat64
		var meta []byte
		if err := rows.Scan(&a.ID, &a.Type, &a.Message, &sev, &a.GuardID, &a.GuardName, &lat, &lng, &meta, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Severity = model.Severity(sev)
		a.Latitude = floatPtr(lat)
		a.Longitude = floatPtr(lng)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode alert %s metadata: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveNotification(ctx context.Context, n model.NotificationEnvelope) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO notifications (id, type, title, message, priority, target_role, target_guard_id, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT (id) DO NOTHING`,
		n.ID, n.Type, n.Title, n.Message, string(n.Priority), nullIfEmpty(n.TargetRole), nullIfEmpty(n.TargetGuardID), n.Read, n.Timestamp)
	return err
}

func (p *Postgres) ListNotifications(ctx context.Context, guardID string, limit int) ([]model.NotificationEnvelope, error) {
	q := `SELECT id, type, title, message, priority, COALESCE(target_role,''), COALESCE(target_guard_id,''), read, created_at FROM notifications`
	args := []any{}
	if guardID != "" {
		q += ` WHERE target_guard_id=$1 OR (target_guard_id IS NULL AND (target_role IS NULL OR target_role=$2))`
		args = append(args, guardID, model.RoleGuard)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, clampLimit(limit))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.NotificationEnvelope{}
	for rows.Next() {
		var n model.NotificationEnvelope
		var prio string
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &prio, &n.TargetRole, &n.TargetGuardID, &n.Read, &n.Timestamp); err != nil {
			return nil, err
		}
		n.Priority = model.Priority(prio)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) GetNotification(ctx context.Context, id string) (model.NotificationEnvelope, error) {
	var n model.NotificationEnvelope
	var prio string
	err := p.db.QueryRowContext(ctx, `SELECT id, type, title, message, priority, COALESCE(target_role,''), COALESCE(target_guard_id,''), read, created_at
		FROM notifications WHERE id=$1`, id).
		Scan(&n.ID, &n.Type, &n.Title, &n.Message, &prio, &n.TargetRole, &n.TargetGuardID, &n.Read, &n.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotificationEnvelope{}, ErrNotFound
	}
	if err != nil {
		return model.NotificationEnvelope{}, err
	}
	n.Priority = model.Priority(prio)
	return n, nil
}

func (p *Postgres) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE notifications SET read=true WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnqueueWebhook inserts a pending delivery. Duplicate payloads for the same event and URL are ignored.
func (p *Postgres) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	var got string
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,'pending',0,now(),$6)
		ON CONFLICT (event_type, url, dedup_key) DO UPDATE SET updated_at=webhook_deliveries.updated_at
		RETURNING id::text`, id, eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload)).Scan(&got)
	if err != nil {
		return "", err
	}
	return got, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
			id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

// computeDedupKey prefers the payload's "id" field and falls back to a short content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

var _ Store = (*Postgres)(nil)
var _ Store = (*Memory)(nil)

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
