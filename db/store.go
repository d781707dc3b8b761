package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/ytlivechat/livechat"
)

// LiveSession is one archived broadcast the poller followed.
type LiveSession struct {
	LiveID    string     `json:"live_id"`
	Selector  string     `json:"selector"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// UpsertLiveSession records that polling of liveID began. Re-opening a known
// session keeps its original start time and clears any previous end.
func (s *Store) UpsertLiveSession(ctx context.Context, liveID, selector string, startedAt time.Time) error {
	q := s.rebind(`INSERT INTO live_sessions (live_id, selector, started_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (live_id) DO UPDATE SET
			selector = excluded.selector,
			ended_at = NULL,
			end_reason = NULL,
			updated_at = excluded.updated_at`)
	ts := s.timeArg(startedAt)
	if _, err := s.DB.ExecContext(ctx, q, liveID, selector, ts, ts); err != nil {
		return fmt.Errorf("upsert live session %s: %w", liveID, err)
	}
	return nil
}

// EndLiveSession stamps the end time and reason on an open session.
func (s *Store) EndLiveSession(ctx context.Context, liveID, reason string, at time.Time) error {
	q := s.rebind(`UPDATE live_sessions SET ended_at = ?, end_reason = ?, updated_at = ? WHERE live_id = ?`)
	ts := s.timeArg(at)
	if _, err := s.DB.ExecContext(ctx, q, ts, reason, ts, liveID); err != nil {
		return fmt.Errorf("end live session %s: %w", liveID, err)
	}
	return nil
}

// InsertChatMessage archives one chat item. Duplicate message ids are ignored
// and reported with inserted=false.
func (s *Store) InsertChatMessage(ctx context.Context, item livechat.ChatItem) (inserted bool, err error) {
	if item.ID == "" || item.LiveID == "" {
		return false, errors.New("chat message requires id and live id")
	}
	var amount, currency sql.NullString
	var micros sql.NullInt64
	if sc := item.SuperChat; sc != nil {
		amount = sql.NullString{String: sc.Amount, Valid: true}
		currency = sql.NullString{String: sc.Currency, Valid: true}
		micros = sql.NullInt64{Int64: int64(sc.AmountMicros), Valid: true} //nolint:gosec // G115: micros fit comfortably in int64
	}
	q := s.rebind(`INSERT INTO chat_messages (
			live_id, message_id, kind, author_channel_id, author_name, message,
			is_owner, is_moderator, is_member, is_verified,
			super_chat_amount, super_chat_currency, super_chat_micros, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`)
	res, err := s.DB.ExecContext(ctx, q,
		item.LiveID, item.ID, item.Kind, item.Author.ChannelID, item.Author.Name, item.Message,
		item.Author.IsOwner, item.Author.IsModerator, item.Author.IsMember, item.Author.IsVerified,
		amount, currency, micros, s.timeArg(item.Timestamp))
	if err != nil {
		return false, fmt.Errorf("insert chat message %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListChatMessages returns the archived chat of liveID ordered by publish time.
// A zero since returns from the beginning; limit <= 0 defaults to 500.
func (s *Store) ListChatMessages(ctx context.Context, liveID string, since time.Time, limit int) ([]livechat.ChatItem, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT message_id, live_id, COALESCE(kind,''), COALESCE(author_channel_id,''), COALESCE(author_name,''),
			COALESCE(message,''), is_owner, is_moderator, is_member, is_verified,
			super_chat_amount, super_chat_currency, super_chat_micros, published_at
		FROM chat_messages WHERE live_id = ?`
	args := []any{liveID}
	if !since.IsZero() {
		q += ` AND published_at >= ?`
		args = append(args, s.timeArg(since))
	}
	q += ` ORDER BY published_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list chat messages for %s: %w", liveID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []livechat.ChatItem
	for rows.Next() {
		var (
			it       livechat.ChatItem
			amount   sql.NullString
			currency sql.NullString
			micros   sql.NullInt64
			ts       nullTime
		)
		if err := rows.Scan(&it.ID, &it.LiveID, &it.Kind, &it.Author.ChannelID, &it.Author.Name,
			&it.Message, &it.Author.IsOwner, &it.Author.IsModerator, &it.Author.IsMember, &it.Author.IsVerified,
			&amount, &currency, &micros, &ts); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if amount.Valid || currency.Valid {
			it.SuperChat = &livechat.SuperChat{Amount: amount.String, Currency: currency.String, AmountMicros: uint64(micros.Int64)} //nolint:gosec // G115: stored from uint64
		}
		if ts.Valid {
			it.Timestamp = ts.Time
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListLiveSessions returns the most recently started sessions first.
func (s *Store) ListLiveSessions(ctx context.Context, limit int) ([]LiveSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT live_id, COALESCE(selector,''), started_at, ended_at, COALESCE(end_reason,'')
		FROM live_sessions ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []LiveSession
	for rows.Next() {
		var (
			ls             LiveSession
			started, ended nullTime
		)
		if err := rows.Scan(&ls.LiveID, &ls.Selector, &started, &ended, &ls.EndReason); err != nil {
			return nil, fmt.Errorf("scan live session: %w", err)
		}
		ls.StartedAt = started.Time
		if ended.Valid {
			t := ended.Time
			ls.EndedAt = &t
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}
