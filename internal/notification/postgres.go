package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PostgresStore implements Store over database/sql with the lib/pq driver.
// Status updates are conditional on the status the row carried when it was
// loaded, which gives the per-row atomicity the dispatcher relies on when
// the normal and urgent loops race.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const notificationColumns = `id, tenant_id, type, severity, title, message, metadata, channels,
	status, scheduled_at, expires_at, sent_at, delivered_at, failed_at,
	related_entity_type, related_entity_id, user_id, retry_count, max_retries,
	created_at, updated_at`

// severityScoreSQL mirrors the severity base component of the priority
// score so the store can apply the urgent-pass floor row-locally.
const severityScoreSQL = `CASE severity
	WHEN 'critical' THEN 1000
	WHEN 'high' THEN 500
	WHEN 'medium' THEN 100
	ELSE 10 END`

func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = s.db.ExecContext(ctx, query,
		n.ID, n.TenantID, n.Type, n.Severity, n.Title, n.Message, metadata, channels,
		n.Status, n.ScheduledAt, n.ExpiresAt, n.SentAt, n.DeliveredAt, n.FailedAt,
		n.RelatedEntityType, n.RelatedEntityID, n.UserID, n.RetryCount, n.MaxRetries,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.loadedStatus = n.Status
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID, id string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE tenant_id = $1 AND id = $2`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return n, err
}

// Update persists the working copy. The WHERE clause pins the status the
// row had when loaded; zero rows affected means another writer got there
// first and the caller's copy is stale.
func (s *PostgresStore) Update(ctx context.Context, n *Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}

	query := `
		UPDATE notifications
		SET severity = $1, title = $2, message = $3, metadata = $4, channels = $5,
			status = $6, scheduled_at = $7, expires_at = $8, sent_at = $9,
			delivered_at = $10, failed_at = $11, retry_count = $12, max_retries = $13,
			updated_at = $14
		WHERE tenant_id = $15 AND id = $16
	`
	args := []any{
		n.Severity, n.Title, n.Message, metadata, channels,
		n.Status, n.ScheduledAt, n.ExpiresAt, n.SentAt,
		n.DeliveredAt, n.FailedAt, n.RetryCount, n.MaxRetries,
		n.UpdatedAt,
		n.TenantID, n.ID,
	}
	conditional := n.loadedStatus != ""
	if conditional {
		query += " AND status = $17"
		args = append(args, n.loadedStatus)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if affected == 0 {
		if conditional {
			return ErrConflict
		}
		return ErrNotFound
	}
	n.loadedStatus = n.Status
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindMany(ctx context.Context, tenantID string, f Filter, limit, offset int) ([]*Notification, error) {
	where, args := buildFilter(tenantID, f)
	query := `SELECT ` + notificationColumns + ` FROM notifications ` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *PostgresStore) Count(ctx context.Context, tenantID string, f Filter) (int, error) {
	where, args := buildFilter(tenantID, f)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) FindPendingForProcessing(ctx context.Context, tenantID string, limit, minPriority int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE tenant_id = $1
			AND status IN ('pending', 'scheduled')
			AND scheduled_at <= now()
			AND (expires_at IS NULL OR expires_at > now())
			AND (` + severityScoreSQL + `) >= $2
		ORDER BY (` + severityScoreSQL + `) DESC, scheduled_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, minPriority, limit)
	if err != nil {
		return nil, fmt.Errorf("find pending notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *PostgresStore) FindExpired(ctx context.Context, tenantID string) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE tenant_id = $1
			AND expires_at IS NOT NULL
			AND expires_at < now()
			AND status NOT IN ('expired', 'delivered')
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find expired notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// FindRequiringEscalation pre-filters candidates with the row-local parts of
// the escalation rules; ShouldEscalate makes the final call in memory.
// Already-escalated rows are excluded via the escalated_at metadata marker.
func (s *PostgresStore) FindRequiringEscalation(ctx context.Context, tenantID string) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE tenant_id = $1
			AND NOT (metadata ? 'escalated_at')
			AND (
				(severity = 'critical' AND status = 'failed' AND retry_count >= 2)
				OR (type LIKE 'system\_%' AND status = 'pending' AND scheduled_at <= now() - interval '15 minutes')
				OR (type LIKE 'security\_%' AND status = 'pending' AND scheduled_at <= now() - interval '5 minutes')
				OR (type LIKE 'field\_%' AND status = 'failed')
				OR (severity = 'critical' AND status = 'pending' AND scheduled_at <= now() - interval '15 minutes')
			)
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find escalation candidates: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// FindFailedForRetry returns failed rows inside the one-hour window with an
// attempt remaining. retry_count counts failures, so a row is eligible
// until it has failed max_retries+1 times (the original attempt plus the
// retry budget).
func (s *PostgresStore) FindFailedForRetry(ctx context.Context, tenantID string) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE tenant_id = $1
			AND status = 'failed'
			AND retry_count <= max_retries
			AND failed_at > now() - interval '1 hour'
			AND (expires_at IS NULL OR expires_at > now())
		ORDER BY failed_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find retry candidates: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func buildFilter(tenantID string, f Filter) (string, []any) {
	clauses := []string{"tenant_id = $1"}
	args := []any{tenantID}

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.TypePrefix != "" {
		add("type LIKE $%d", strings.ReplaceAll(f.TypePrefix, "_", `\_`)+"%")
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add("created_at < $%d", f.CreatedTo)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var metadata, channels []byte
	var expiresAt, sentAt, deliveredAt, failedAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.TenantID, &n.Type, &n.Severity, &n.Title, &n.Message, &metadata, &channels,
		&n.Status, &n.ScheduledAt, &expiresAt, &sentAt, &deliveredAt, &failedAt,
		&n.RelatedEntityType, &n.RelatedEntityID, &n.UserID, &n.RetryCount, &n.MaxRetries,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &n.Channels); err != nil {
			return nil, fmt.Errorf("decode channels: %w", err)
		}
	}
	n.ExpiresAt = timePtr(expiresAt)
	n.SentAt = timePtr(sentAt)
	n.DeliveredAt = timePtr(deliveredAt)
	n.FailedAt = timePtr(failedAt)
	n.loadedStatus = n.Status
	return &n, nil
}

func collectNotifications(rows *sql.Rows) ([]*Notification, error) {
	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// PostgresTenantRegistry derives the tenant set from the notifications
// table itself. A dedicated tenants service owns the authoritative list; for
// the engine, every tenant with notifications on file is a tenant to serve.
type PostgresTenantRegistry struct {
	db *sql.DB
}

func NewPostgresTenantRegistry(db *sql.DB) *PostgresTenantRegistry {
	return &PostgresTenantRegistry{db: db}
}

func (r *PostgresTenantRegistry) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM notifications ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
