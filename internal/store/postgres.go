package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectContactColumns = `
SELECT id, name, phone, preferred_channel, telegram_chat_id, metadata_json, active
FROM contacts
`

const insertNotification = `
INSERT INTO notifications (id, title, content, channel, status, sender_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`

const insertRecipient = `
INSERT INTO recipients (id, notification_id, contact_id, status)
VALUES ($1,$2,$3,$4)
`

const selectNotification = `
SELECT id, title, content, channel, status, sender_id, created_at, sent_at
FROM notifications
WHERE id = $1
`

const selectRecipients = `
SELECT id, notification_id, contact_id, status, error_message, sent_at
FROM recipients
WHERE notification_id = $1
ORDER BY id
`

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) GetContact(ctx context.Context, id string) (Contact, error) {
	row := s.pool.QueryRow(ctx, selectContactColumns+"WHERE id = $1", id)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (s *Postgres) ListActiveContactsByIDs(ctx context.Context, ids []string) ([]Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, selectContactColumns+"WHERE id = ANY($1) AND active", ids)
	if err != nil {
		return nil, fmt.Errorf("list contacts by ids: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Postgres) ListActiveContactsInGroups(ctx context.Context, groupIDs []string) ([]Contact, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := `
SELECT DISTINCT c.id, c.name, c.phone, c.preferred_channel, c.telegram_chat_id, c.metadata_json, c.active
FROM contacts c
JOIN contact_groups cg ON cg.contact_id = c.id
WHERE cg.group_id = ANY($1) AND c.active
`
	rows, err := s.pool.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("list contacts in groups: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// CreateNotification persists the notification and its recipient rows in one
// transaction. Recipients start out pending.
func (s *Postgres) CreateNotification(ctx context.Context, n Notification, recipients []Recipient) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertNotification,
		n.ID, n.Title, n.Content, string(n.Channel), string(n.Status), n.SenderID, n.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	for _, r := range recipients {
		if _, err := tx.Exec(ctx, insertRecipient, r.ID, r.NotificationID, r.ContactID, string(r.Status)); err != nil {
			return fmt.Errorf("insert recipient: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) GetNotification(ctx context.Context, id string) (Notification, error) {
	row := s.pool.QueryRow(ctx, selectNotification, id)

	var (
		n       Notification
		channel string
		status  string
	)
	err := row.Scan(&n.ID, &n.Title, &n.Content, &channel, &status, &n.SenderID, &n.CreatedAt, &n.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("get notification: %w", err)
	}
	n.Channel = Channel(channel)
	n.Status = NotificationStatus(status)
	return n, nil
}

// UpdateNotificationStatus moves the notification to the given status unless
// it already reached a terminal one. Terminal rows are never rewritten.
func (s *Postgres) UpdateNotificationStatus(ctx context.Context, id string, status NotificationStatus, sentAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE notifications
SET status = $2, sent_at = COALESCE($3, sent_at)
WHERE id = $1 AND status NOT IN ('sent','partial','failed')
`, id, string(status), sentAt)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *Postgres) ListRecipients(ctx context.Context, notificationID string) ([]Recipient, error) {
	rows, err := s.pool.Query(ctx, selectRecipients, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var (
			r      Recipient
			status string
		)
		if err := rows.Scan(&r.ID, &r.NotificationID, &r.ContactID, &status, &r.ErrorMessage, &r.SentAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.Status = RecipientStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkRecipientSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE recipients SET status = 'sent', sent_at = $2, error_message = NULL
WHERE id = $1 AND status = 'pending'
`, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark recipient sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *Postgres) MarkRecipientFailed(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE recipients SET status = 'failed', error_message = $2
WHERE id = $1 AND status = 'pending'
`, id, message)
	if err != nil {
		return fmt.Errorf("mark recipient failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkRecipientDelivered records a provider delivery confirmation. Only a
// recipient that was sent can become delivered.
func (s *Postgres) MarkRecipientDelivered(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE recipients SET status = 'delivered'
WHERE id = $1 AND status = 'sent'
`, id)
	if err != nil {
		return fmt.Errorf("mark recipient delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *Postgres) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, notification_id, contact_id, status, error_message, sent_at
FROM recipients
WHERE id = $1
`, id)

	var (
		r      Recipient
		status string
	)
	err := row.Scan(&r.ID, &r.NotificationID, &r.ContactID, &status, &r.ErrorMessage, &r.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipient{}, ErrNotFound
	}
	if err != nil {
		return Recipient{}, fmt.Errorf("get recipient: %w", err)
	}
	r.Status = RecipientStatus(status)
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		c            Contact
		channel      string
		metadataJSON []byte
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &channel, &c.TelegramChatID, &metadataJSON, &c.Active); err != nil {
		return Contact{}, err
	}
	c.PreferredChannel = Channel(channel)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			return Contact{}, fmt.Errorf("decode contact metadata: %w", err)
		}
	}
	return c, nil
}

func scanContacts(rows pgx.Rows) ([]Contact, error) {
	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
