package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db database.DBTX
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db database.DBTX) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, application_id, content, attachment_url, read, created_at`

func scanMessage(s scanner) (*model.Message, error) {
	m := &model.Message{}
	var applicationID, attachmentURL sql.NullString
	if err := s.Scan(
		&m.ID, &m.SenderID, &m.ReceiverID, &applicationID, &m.Content, &attachmentURL, &m.Read, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	m.ApplicationID = nullStringValue(applicationID)
	m.AttachmentURL = nullStringValue(attachmentURL)
	return m, nil
}

// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "メッセージの取得に失敗しました")
	}
	return m, nil
}

// ListForUser は送信または受信したメッセージを新しい順に返す。
func (r *PostgresMessageRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE sender_id = $1 OR receiver_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, wrapError(err, "メッセージ一覧の取得に失敗しました")
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("メッセージの読み取りに失敗しました: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Create はメッセージを作成する。
func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, application_id, content, attachment_url, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.SenderID, m.ReceiverID, nullString(m.ApplicationID), m.Content,
		nullString(m.AttachmentURL), m.Read, m.CreatedAt,
	)
	return wrapError(err, "メッセージの作成に失敗しました")
}

// MarkRead はメッセージを既読にする。
func (r *PostgresMessageRepo) MarkRead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET read = true WHERE id = $1`, id)
	return wrapError(err, "メッセージの既読化に失敗しました")
}

var _ MessageRepository = (*PostgresMessageRepo)(nil)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db database.DBTX
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db database.DBTX) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

const notificationColumns = `id, user_id, type, title, content, read, related_id, created_at`

func scanNotification(s scanner) (*model.Notification, error) {
	n := &model.Notification{}
	var relatedID sql.NullString
	if err := s.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &n.Read, &relatedID, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.RelatedID = nullStringValue(relatedID)
	return n, nil
}

// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "通知の取得に失敗しました")
	}
	return n, nil
}

// ListByUser はユーザーの通知を新しい順に返す。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR read = false)
		 ORDER BY created_at DESC LIMIT $3`,
		userID, unreadOnly, limit,
	)
	if err != nil {
		return nil, wrapError(err, "通知一覧の取得に失敗しました")
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗しました: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead は通知を既読にする。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	return wrapError(err, "通知の既読化に失敗しました")
}

var _ NotificationRepository = (*PostgresNotificationRepo)(nil)

// zeroUUID はキーセットページングの起点。
const zeroUUID = "00000000-0000-0000-0000-000000000000"

// PostgresOutboxRepo はファンアウトの書き込み先。
// Savepointを使うためトランザクションに束縛して使用する。
type PostgresOutboxRepo struct {
	db database.DBTX
}

// NewPostgresOutboxRepo はPostgresOutboxRepoを生成する。
func NewPostgresOutboxRepo(db database.DBTX) *PostgresOutboxRepo {
	return &PostgresOutboxRepo{db: db}
}

// Savepoint はfnをセーブポイントで囲んで実行する。
func (r *PostgresOutboxRepo) Savepoint(ctx context.Context, name string, fn func() error) error {
	return database.Savepoint(ctx, r.db, name, fn)
}

// InsertNotification は個別通知を挿入する。
func (r *PostgresOutboxRepo) InsertNotification(ctx context.Context, n *model.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, content, read, related_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Title, n.Content, n.Read, nullString(n.RelatedID), n.CreatedAt,
	)
	return wrapError(err, "通知の作成に失敗しました")
}

// BroadcastNotification は採用担当者以外のプロフィールへtmplの通知を一括挿入する。
// 対象者をlimit+1件まで取得し、超過分の有無で残りがあるかを判定する。
func (r *PostgresOutboxRepo) BroadcastNotification(ctx context.Context, tmpl *model.Notification, afterID string, limit int) ([]*model.Notification, bool, error) {
	if afterID == "" {
		afterID = zeroUUID
	}

	rows, err := r.db.QueryContext(ctx,
		`WITH candidates AS (
		     SELECT id FROM profiles
		     WHERE role <> 'hr' AND id > $1::uuid
		     ORDER BY id
		     LIMIT $2::int + 1
		 ), batch AS (
		     SELECT id FROM candidates ORDER BY id LIMIT $2::int
		 ), ins AS (
		     INSERT INTO notifications (user_id, type, title, content, related_id, created_at)
		     SELECT id, $3, $4, $5, $6, $7 FROM batch
		     RETURNING id, user_id
		 )
		 SELECT id::text, user_id::text, (SELECT count(*) FROM candidates) > $2::int FROM ins
		 ORDER BY user_id`,
		afterID, limit, tmpl.Type, tmpl.Title, tmpl.Content, nullString(tmpl.RelatedID), tmpl.CreatedAt,
	)
	if err != nil {
		return nil, false, wrapError(err, "一斉通知の作成に失敗しました")
	}
	defer rows.Close()

	var created []*model.Notification
	more := false
	for rows.Next() {
		n := *tmpl
		if err := rows.Scan(&n.ID, &n.UserID, &more); err != nil {
			return nil, false, fmt.Errorf("一斉通知の読み取りに失敗しました: %w", err)
		}
		created = append(created, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, false, wrapError(err, "一斉通知の作成に失敗しました")
	}
	return created, more, nil
}

// QueueEmail はメール送信キューに追加する。NextAttemptAtが未設定の場合は作成時刻から送信対象にする。
func (r *PostgresOutboxRepo) QueueEmail(ctx context.Context, e *model.EmailNotification) error {
	next := e.NextAttemptAt
	if next.IsZero() {
		next = e.CreatedAt
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_notifications (id, user_id, type, recipient, subject, content, status, attempts, created_at, next_attempt_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, nullString(e.UserID), e.Type, e.Recipient, e.Subject, e.Content, e.Status, e.Attempts, e.CreatedAt, next,
	)
	return wrapError(err, "メール送信キューへの追加に失敗しました")
}

// RecipientEmail はプロフィールのメールアドレスを返す。プロフィールがない場合は空文字列を返す。
func (r *PostgresOutboxRepo) RecipientEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx, `SELECT email FROM profiles WHERE id = $1`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapError(err, "メールアドレスの取得に失敗しました")
	}
	return email, nil
}

var _ OutboxRepository = (*PostgresOutboxRepo)(nil)

// PostgresEmailRepo はPostgreSQLを使用したメール送信キューリポジトリ。
type PostgresEmailRepo struct {
	db database.DBTX
}

// NewPostgresEmailRepo はPostgresEmailRepoを生成する。
func NewPostgresEmailRepo(db database.DBTX) *PostgresEmailRepo {
	return &PostgresEmailRepo{db: db}
}

const emailColumns = `id, user_id, type, recipient, subject, content, status,
	error_message, attempts, created_at, next_attempt_at, sent_at`

func scanEmail(s scanner) (*model.EmailNotification, error) {
	e := &model.EmailNotification{}
	var userID, errorMessage sql.NullString
	var sentAt sql.NullTime
	if err := s.Scan(
		&e.ID, &userID, &e.Type, &e.Recipient, &e.Subject, &e.Content, &e.Status,
		&errorMessage, &e.Attempts, &e.CreatedAt, &e.NextAttemptAt, &sentAt,
	); err != nil {
		return nil, err
	}
	e.UserID = nullStringValue(userID)
	e.ErrorMessage = nullStringValue(errorMessage)
	e.SentAt = nullTimeValue(sentAt)
	return e, nil
}

func (r *PostgresEmailRepo) query(ctx context.Context, query string, args ...any) ([]*model.EmailNotification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, "メール送信キューの取得に失敗しました")
	}
	defer rows.Close()

	var emails []*model.EmailNotification
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("メール送信キューの読み取りに失敗しました: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// ClaimPending はnow時点で送信対象になっている送信待ちのメールを、次回送信時刻の古い順に排他的に取得する。
func (r *PostgresEmailRepo) ClaimPending(ctx context.Context, now time.Time, limit int) ([]*model.EmailNotification, error) {
	return r.query(ctx,
		`SELECT `+emailColumns+` FROM email_notifications
		 WHERE status = 'pending' AND next_attempt_at <= $1
		 ORDER BY next_attempt_at, created_at
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		now, limit,
	)
}

// List はメール送信キューを新しい順に返す。
func (r *PostgresEmailRepo) List(ctx context.Context, limit int) ([]*model.EmailNotification, error) {
	return r.query(ctx,
		`SELECT `+emailColumns+` FROM email_notifications ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
}

// MarkSent は送信済みにする。
func (r *PostgresEmailRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_notifications
		 SET status = 'sent', sent_at = $2, attempts = attempts + 1, error_message = NULL
		 WHERE id = $1`,
		id, at,
	)
	return wrapError(err, "メール送信状態の更新に失敗しました")
}

// MarkRetry は一時的な送信失敗を記録し、nextAttemptAtまで送信対象から外す。
func (r *PostgresEmailRepo) MarkRetry(ctx context.Context, id, message string, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_notifications
		 SET error_message = $2, attempts = attempts + 1, next_attempt_at = $3
		 WHERE id = $1`,
		id, message, nextAttemptAt,
	)
	return wrapError(err, "メール送信状態の更新に失敗しました")
}

// MarkFailed は送信を打ち切り、failedにする。
func (r *PostgresEmailRepo) MarkFailed(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_notifications
		 SET status = 'failed', error_message = $2, attempts = attempts + 1
		 WHERE id = $1`,
		id, message,
	)
	return wrapError(err, "メール送信状態の更新に失敗しました")
}

var _ EmailRepository = (*PostgresEmailRepo)(nil)
