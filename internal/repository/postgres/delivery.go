package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/service/reconcile"
)

// DeliveryRepo stores labels, delivery records, their events and content in
// PostgreSQL. It implements dispatch.Store, eligibility.HistoryRepository
// and reconcile.Store.
type DeliveryRepo struct{ db *sql.DB }

// NewDeliveryRepo creates a Postgres-backed delivery repository.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

const recordColumns = `
	id, email_from, email_to, message_id, profile, COALESCE(storage_url,''),
	owner_kind, owner_id, label_id, tags, created_at,
	has_accepted, has_rejected, has_delivered, has_failed, has_opened,
	has_clicked, has_unsubscribed, has_complained, has_stored`

func scanRecord(row interface{ Scan(...any) error }) (domain.DeliveryRecord, error) {
	var (
		rec     domain.DeliveryRecord
		labelID sql.NullInt64
		tags    []string
	)
	err := row.Scan(
		&rec.ID, &rec.EmailFrom, &rec.EmailTo, &rec.MessageID, &rec.Profile, &rec.StorageURL,
		&rec.Owner.Kind, &rec.Owner.ID, &labelID, pq.Array(&tags), &rec.CreatedAt,
		&rec.Flags.Accepted, &rec.Flags.Rejected, &rec.Flags.Delivered, &rec.Flags.Failed, &rec.Flags.Opened,
		&rec.Flags.Clicked, &rec.Flags.Unsubscribed, &rec.Flags.Complained, &rec.Flags.Stored,
	)
	if err != nil {
		return rec, err
	}
	if labelID.Valid {
		id := labelID.Int64
		rec.LabelID = &id
	}
	rec.Tags = tags
	return rec, nil
}

// SentOwners returns which of refs have a record under the label slug,
// created at or after since when since is set.
func (r *DeliveryRepo) SentOwners(ctx context.Context, label string, refs []domain.OwnerRef, since *time.Time) (map[domain.OwnerRef]bool, error) {
	out := make(map[domain.OwnerRef]bool)
	if len(refs) == 0 {
		return out, nil
	}

	want := make(map[domain.OwnerRef]bool, len(refs))
	kinds := make([]string, 0, len(refs))
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		want[ref] = true
		kinds = append(kinds, ref.Kind)
		ids = append(ids, ref.ID)
	}

	q := `
		SELECT DISTINCT m.owner_kind, m.owner_id
		FROM rebel_mails m
		JOIN rebel_mail_labels l ON l.id = m.label_id
		WHERE l.slug = $1 AND m.owner_kind = ANY($2) AND m.owner_id = ANY($3)`
	args := []interface{}{label, pq.Array(kinds), pq.Array(ids)}
	if since != nil {
		q += ` AND m.created_at >= $4`
		args = append(args, *since)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sent owners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref domain.OwnerRef
		if err := rows.Scan(&ref.Kind, &ref.ID); err != nil {
			return nil, fmt.Errorf("scan sent owner: %w", err)
		}
		// kinds and ids match independently, so drop cross pairs
		if want[ref] {
			out[ref] = true
		}
	}
	return out, rows.Err()
}

// SaveBatch gets or creates the label and inserts every record in one
// transaction.
func (r *DeliveryRepo) SaveBatch(ctx context.Context, labelSlug string, records []domain.DeliveryRecord) ([]domain.DeliveryRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// DO UPDATE instead of DO NOTHING so RETURNING yields the existing id.
	var labelID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO rebel_mail_labels (name, slug)
		VALUES ($1, $1)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id
	`, labelSlug).Scan(&labelID)
	if err != nil {
		return nil, fmt.Errorf("upsert label %s: %w", labelSlug, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rebel_mails (
			id, email_from, email_to, message_id, profile,
			owner_kind, owner_id, label_id, tags, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert mail: %w", err)
	}
	defer stmt.Close()

	saved := make([]domain.DeliveryRecord, len(records))
	for i, rec := range records {
		id := labelID
		rec.LabelID = &id
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.EmailFrom, rec.EmailTo, rec.MessageID, rec.Profile,
			rec.Owner.Kind, rec.Owner.ID, labelID, pq.Array(rec.Tags), rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("insert mail to %s: %w", rec.EmailTo, err)
		}
		saved[i] = rec
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mails: %w", err)
	}
	return saved, nil
}

func (r *DeliveryRepo) FindRecord(ctx context.Context, messageID, recipient string) (domain.DeliveryRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM rebel_mails
		WHERE message_id = $1 AND email_to = $2
	`, messageID, recipient))
	if err == sql.ErrNoRows {
		return rec, reconcile.ErrRecordNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("find mail: %w", err)
	}
	return rec, nil
}

func (r *DeliveryRepo) HasContent(ctx context.Context, mailID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rebel_mail_contents WHERE mail_id = $1)`, mailID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check mail content: %w", err)
	}
	return exists, nil
}

// lockRecord takes the row lock that serializes writes to one record.
func lockRecord(ctx context.Context, tx *sql.Tx, mailID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM rebel_mails WHERE id = $1 FOR UPDATE`, mailID).Scan(&id)
	if err == sql.ErrNoRows {
		return reconcile.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("lock mail %s: %w", mailID, err)
	}
	return nil
}

func (r *DeliveryRepo) AttachContent(ctx context.Context, mailID, storageURL string, content domain.DeliveryContent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockRecord(ctx, tx, mailID); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rebel_mail_contents (mail_id, subject, body_text, body_html, body_plain, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mail_id) DO NOTHING
	`, mailID, content.Subject, content.BodyText, content.BodyHTML, content.BodyPlain, content.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert mail content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert mail content: %w", err)
	}
	if n == 0 {
		// The first attached content owns storage_url.
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit mail content: %w", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE rebel_mails SET storage_url = $2, has_stored = TRUE WHERE id = $1`,
		mailID, storageURL,
	); err != nil {
		return false, fmt.Errorf("set storage url: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit mail content: %w", err)
	}
	return true, nil
}

func (r *DeliveryRepo) ApplyEvent(ctx context.Context, ev domain.Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: %q", reconcile.ErrUnknownEvent, ev.Kind)
	}

	var extra interface{}
	if ev.ExtraData != nil {
		b, err := json.Marshal(ev.ExtraData)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		extra = b
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockRecord(ctx, tx, ev.MailID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rebel_mail_events (mail_id, name, extra_data, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.MailID, string(ev.Kind), extra, ev.CreatedAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	// The column name comes from the validated enumeration.
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE rebel_mails SET %s = TRUE WHERE id = $1`, ev.Kind.FlagColumn()),
		ev.MailID,
	); err != nil {
		return fmt.Errorf("set %s: %w", ev.Kind.FlagColumn(), err)
	}

	return tx.Commit()
}

func (r *DeliveryRepo) GetContent(ctx context.Context, mailID string) (domain.DeliveryContent, error) {
	var c domain.DeliveryContent
	if _, err := uuid.Parse(mailID); err != nil {
		return c, reconcile.ErrRecordNotFound
	}

	var (
		contentMailID                          sql.NullString
		subject, bodyText, bodyHTML, bodyPlain sql.NullString
		createdAt                              sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT c.mail_id, c.subject, c.body_text, c.body_html, c.body_plain, c.created_at
		FROM rebel_mails m
		LEFT JOIN rebel_mail_contents c ON c.mail_id = m.id
		WHERE m.id = $1
	`, mailID).Scan(&contentMailID, &subject, &bodyText, &bodyHTML, &bodyPlain, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, reconcile.ErrRecordNotFound
	}
	if err != nil {
		return c, fmt.Errorf("get mail content: %w", err)
	}
	if !contentMailID.Valid {
		return c, reconcile.ErrContentNotFound
	}

	c.MailID = contentMailID.String
	c.Subject = subject.String
	c.BodyText = bodyText.String
	c.BodyHTML = bodyHTML.String
	c.BodyPlain = bodyPlain.String
	c.CreatedAt = createdAt.Time
	return c, nil
}
