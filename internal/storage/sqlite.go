package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists campaign state in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements CampaignStore
var _ CampaignStore = (*SQLiteStore)(nil)

// OpenSQLite opens (and migrates) the database at path. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logrus.Infof("Opened campaign database at %s", path)
	return s, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS campaigns (
	  id TEXT PRIMARY KEY,
	  name TEXT NOT NULL,
	  description TEXT NOT NULL DEFAULT '',
	  status TEXT NOT NULL,
	  seed_users TEXT NOT NULL,
	  top_n_users INTEGER NOT NULL,
	  lookback_days INTEGER NOT NULL,
	  keywords TEXT NOT NULL,
	  reply_template TEXT NOT NULL,
	  target_url TEXT NOT NULL,
	  short_url TEXT NOT NULL DEFAULT '',
	  ai_provider TEXT NOT NULL,
	  reply_model TEXT NOT NULL DEFAULT '',
	  use_grok_filter INTEGER NOT NULL DEFAULT 0,
	  daily_reply_limit INTEGER NOT NULL,
	  dry_run INTEGER NOT NULL DEFAULT 0,
	  total_replies INTEGER NOT NULL DEFAULT 0,
	  total_clicks INTEGER NOT NULL DEFAULT 0,
	  total_matched_posts INTEGER NOT NULL DEFAULT 0,
	  analysis_completed INTEGER NOT NULL DEFAULT 0,
	  analysis_error TEXT NOT NULL DEFAULT '',
	  created_at INTEGER NOT NULL,
	  updated_at INTEGER NOT NULL,
	  started_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
	CREATE TABLE IF NOT EXISTS interaction_maps (
	  campaign_id TEXT NOT NULL,
	  rank INTEGER NOT NULL,
	  username TEXT NOT NULL,
	  score INTEGER NOT NULL,
	  last_interaction INTEGER NOT NULL,
	  analyzed_at INTEGER NOT NULL,
	  PRIMARY KEY (campaign_id, rank)
	);
	CREATE TABLE IF NOT EXISTS matched_posts (
	  seq INTEGER PRIMARY KEY AUTOINCREMENT,
	  campaign_id TEXT NOT NULL,
	  tweet_id TEXT NOT NULL,
	  source_username TEXT NOT NULL,
	  text TEXT NOT NULL,
	  matched_keywords TEXT NOT NULL,
	  likes INTEGER NOT NULL DEFAULT 0,
	  retweets INTEGER NOT NULL DEFAULT 0,
	  replies INTEGER NOT NULL DEFAULT 0,
	  posted_at INTEGER NOT NULL,
	  ai_approved INTEGER NOT NULL DEFAULT 0,
	  ai_reason TEXT NOT NULL DEFAULT '',
	  reply_status TEXT NOT NULL,
	  status_reason TEXT NOT NULL DEFAULT '',
	  found_at INTEGER NOT NULL,
	  UNIQUE (campaign_id, tweet_id)
	);
	CREATE INDEX IF NOT EXISTS idx_matched_posts_status ON matched_posts(campaign_id, reply_status, seq);
	CREATE TABLE IF NOT EXISTS campaign_replies (
	  id TEXT PRIMARY KEY,
	  campaign_id TEXT NOT NULL,
	  target_username TEXT NOT NULL,
	  target_tweet_id TEXT NOT NULL,
	  target_tweet_text TEXT NOT NULL,
	  reply_text TEXT NOT NULL,
	  reply_tweet_id TEXT,
	  short_url TEXT NOT NULL DEFAULT '',
	  status TEXT NOT NULL,
	  error_message TEXT,
	  dry_run INTEGER NOT NULL DEFAULT 0,
	  posted_at INTEGER,
	  created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_replies_ledger ON campaign_replies(campaign_id, status, dry_run, posted_at);
	CREATE INDEX IF NOT EXISTS idx_replies_target ON campaign_replies(campaign_id, target_tweet_id);
	CREATE TABLE IF NOT EXISTS short_links (
	  code TEXT PRIMARY KEY,
	  campaign_id TEXT NOT NULL,
	  target_url TEXT NOT NULL,
	  short_url TEXT NOT NULL,
	  clicks INTEGER NOT NULL DEFAULT 0,
	  created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS click_events (
	  id TEXT PRIMARY KEY,
	  code TEXT NOT NULL,
	  campaign_id TEXT NOT NULL,
	  ip_address TEXT NOT NULL DEFAULT '',
	  user_agent TEXT NOT NULL DEFAULT '',
	  referrer TEXT NOT NULL DEFAULT '',
	  clicked_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clicks_campaign ON click_events(campaign_id, clicked_at);
	`)
	return err
}

const campaignColumns = `id, name, description, status, seed_users, top_n_users, lookback_days, keywords,
	reply_template, target_url, short_url, ai_provider, reply_model, use_grok_filter, daily_reply_limit, dry_run,
	total_replies, total_clicks, total_matched_posts, analysis_completed, analysis_error, created_at, updated_at, started_at`

// CreateCampaign inserts a new campaign
func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	seeds, _ := json.Marshal(c.SeedUsers)
	keywords, _ := json.Marshal(c.Keywords)

	_, err := s.db.ExecContext(ctx, `INSERT INTO campaigns(`+campaignColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Description, string(c.Status), string(seeds), c.TopNUsers, c.LookbackDays, string(keywords),
		c.ReplyTemplate, c.TargetURL, c.ShortURL, string(c.AIProvider), c.ReplyModel, c.UseGrokFilter, c.DailyReplyLimit, c.DryRun,
		c.TotalReplies, c.TotalClicks, c.TotalMatchedPosts, c.AnalysisCompleted, c.AnalysisError,
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt), toNullMillis(c.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to insert campaign %s: %w", c.ID, err)
	}
	return nil
}

// GetCampaign loads a campaign by id
func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign %s: %w", id, err)
	}
	return c, nil
}

// ListCampaigns returns campaigns in creation order, optionally filtered by status
func (s *SQLiteStore) ListCampaigns(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at, id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status=? ORDER BY created_at, id`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionCampaign moves a campaign from one status to another. The write only applies while the
// stored status is still from; otherwise ErrStatusConflict is returned. A nil startedAt keeps the
// stored start time.
func (s *SQLiteStore) TransitionCampaign(ctx context.Context, id string, from, to models.CampaignStatus, at time.Time, startedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET status=?, updated_at=?, started_at=COALESCE(?, started_at)
		WHERE id=? AND status=?`,
		string(to), toMillis(at), toNullMillis(startedAt), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update status of campaign %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	if _, err := s.GetCampaign(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// SetShortURL stores the tracked link of a campaign
func (s *SQLiteStore) SetShortURL(ctx context.Context, id, shortURL string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET short_url=?, updated_at=? WHERE id=?`,
		shortURL, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set short url of campaign %s: %w", id, err)
	}
	return requireAffected(res)
}

// RecordAnalysisResult marks the analysis of a campaign completed. Status is left untouched.
func (s *SQLiteStore) RecordAnalysisResult(ctx context.Context, id string, totalMatched int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET analysis_completed=1, analysis_error='', total_matched_posts=?,
		updated_at=? WHERE id=?`, totalMatched, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to record analysis of campaign %s: %w", id, err)
	}
	return requireAffected(res)
}

// RecordAnalysisError stores why the last analysis of a campaign failed. Status is left untouched.
func (s *SQLiteStore) RecordAnalysisError(ctx context.Context, id, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET analysis_error=?, updated_at=? WHERE id=?`,
		message, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to record analysis error of campaign %s: %w", id, err)
	}
	return requireAffected(res)
}

// IncrementCampaignCounter atomically adds delta to a campaign counter
func (s *SQLiteStore) IncrementCampaignCounter(ctx context.Context, id string, counter CampaignCounter, delta int) error {
	var column string
	switch counter {
	case CounterReplies, CounterClicks:
		column = string(counter)
	default:
		return fmt.Errorf("unknown campaign counter %q", counter)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET `+column+`=`+column+`+?, updated_at=? WHERE id=?`,
		delta, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to increment %s for campaign %s: %w", column, id, err)
	}
	return requireAffected(res)
}

// SaveInteractionMap replaces the stored interaction ranking of a campaign
func (s *SQLiteStore) SaveInteractionMap(ctx context.Context, campaignID string, scores []models.InteractionScore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM interaction_maps WHERE campaign_id=?`, campaignID); err != nil {
		return fmt.Errorf("failed to clear interaction map: %w", err)
	}

	now := toMillis(time.Now())
	for i, sc := range scores {
		if _, err := tx.ExecContext(ctx, `INSERT INTO interaction_maps(campaign_id, rank, username, score, last_interaction, analyzed_at)
			VALUES(?,?,?,?,?,?)`, campaignID, i+1, sc.Username, sc.Score, toMillis(sc.LastInteraction), now); err != nil {
			return fmt.Errorf("failed to insert interaction score for %s: %w", sc.Username, err)
		}
	}
	return tx.Commit()
}

// GetInteractionMap returns the stored ranking of a campaign
func (s *SQLiteStore) GetInteractionMap(ctx context.Context, campaignID string) ([]models.InteractionScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, score, last_interaction FROM interaction_maps
		WHERE campaign_id=? ORDER BY rank`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction map: %w", err)
	}
	defer rows.Close()

	var out []models.InteractionScore
	for rows.Next() {
		var sc models.InteractionScore
		var last int64
		if err := rows.Scan(&sc.Username, &sc.Score, &last); err != nil {
			return nil, err
		}
		sc.LastInteraction = fromMillis(last)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// InsertMatchedPosts appends matched posts, ignoring posts already recorded for the campaign.
// It returns the number of newly inserted posts.
func (s *SQLiteStore) InsertMatchedPosts(ctx context.Context, posts []models.MatchedPost) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range posts {
		keywords, _ := json.Marshal(p.MatchedKeywords)
		status := p.ReplyStatus
		if status == "" {
			status = models.ReplyPending
		}
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO matched_posts(campaign_id, tweet_id, source_username, text,
			matched_keywords, likes, retweets, replies, posted_at, ai_approved, ai_reason, reply_status, status_reason, found_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.CampaignID, p.TweetID, p.SourceUsername, p.Text, string(keywords),
			p.Engagement.Likes, p.Engagement.Retweets, p.Engagement.Replies, toMillis(p.PostedAt),
			p.AIApproved, p.AIReason, string(status), p.StatusReason, toMillis(p.FoundAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert matched post %s: %w", p.TweetID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// NextPendingPost returns the earliest discovered pending post, or nil when none remain
func (s *SQLiteStore) NextPendingPost(ctx context.Context, campaignID string) (*models.MatchedPost, error) {
	row := s.db.QueryRowContext(ctx, `SELECT campaign_id, tweet_id, source_username, text, matched_keywords, likes, retweets,
		replies, posted_at, ai_approved, ai_reason, reply_status, status_reason, found_at
		FROM matched_posts WHERE campaign_id=? AND reply_status=? ORDER BY seq LIMIT 1`, campaignID, string(models.ReplyPending))

	var (
		p                 models.MatchedPost
		keywords, status  string
		postedAt, foundAt int64
	)
	err := row.Scan(&p.CampaignID, &p.TweetID, &p.SourceUsername, &p.Text, &keywords, &p.Engagement.Likes,
		&p.Engagement.Retweets, &p.Engagement.Replies, &postedAt, &p.AIApproved, &p.AIReason, &status, &p.StatusReason, &foundAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending post: %w", err)
	}

	_ = json.Unmarshal([]byte(keywords), &p.MatchedKeywords)
	p.ReplyStatus = models.ReplyStatus(status)
	p.PostedAt = fromMillis(postedAt)
	p.FoundAt = fromMillis(foundAt)
	return &p, nil
}

// UpdateMatchedPostStatus moves a matched post out of pending
func (s *SQLiteStore) UpdateMatchedPostStatus(ctx context.Context, campaignID, tweetID string, status models.ReplyStatus, reason string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE matched_posts SET reply_status=?, status_reason=? WHERE campaign_id=? AND tweet_id=?`,
		string(status), reason, campaignID, tweetID)
	if err != nil {
		return fmt.Errorf("failed to update matched post %s: %w", tweetID, err)
	}
	return requireAffected(res)
}

// CountMatchedPosts counts a campaign's matched posts, optionally by status
func (s *SQLiteStore) CountMatchedPosts(ctx context.Context, campaignID string, status models.ReplyStatus) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matched_posts WHERE campaign_id=?`, campaignID).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matched_posts WHERE campaign_id=? AND reply_status=?`,
			campaignID, string(status)).Scan(&n)
	}
	return n, err
}

// InsertReply appends a reply attempt to the ledger
func (s *SQLiteStore) InsertReply(ctx context.Context, r *models.CampaignReply) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO campaign_replies(id, campaign_id, target_username, target_tweet_id,
		target_tweet_text, reply_text, reply_tweet_id, short_url, status, error_message, dry_run, posted_at, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.CampaignID, r.TargetUsername, r.TargetTweetID, r.TargetTweetText, r.ReplyText, r.ReplyTweetID,
		r.ShortURL, string(r.Status), r.ErrorMessage, r.DryRun, toNullMillis(r.PostedAt), toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reply %s: %w", r.ID, err)
	}
	return nil
}

// HasPostedReply reports whether the campaign already has a posted reply to the target post
func (s *SQLiteStore) HasPostedReply(ctx context.Context, campaignID, targetTweetID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_replies WHERE campaign_id=? AND target_tweet_id=? AND status=?`,
		campaignID, targetTweetID, string(models.ReplyPosted)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate reply: %w", err)
	}
	return n > 0, nil
}

// CountReplies counts ledger rows matching q. Rows are windowed by posted_at, or created_at when unposted.
func (s *SQLiteStore) CountReplies(ctx context.Context, q ReplyQuery) (int, error) {
	query := `SELECT COUNT(*) FROM campaign_replies WHERE campaign_id=?`
	args := []interface{}{q.CampaignID}

	if q.Status != "" {
		query += ` AND status=?`
		args = append(args, string(q.Status))
	}
	if !q.IncludeDryRun {
		query += ` AND dry_run=0`
	}
	if !q.Since.IsZero() {
		query += ` AND COALESCE(posted_at, created_at)>=?`
		args = append(args, toMillis(q.Since))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count replies: %w", err)
	}
	return n, nil
}

// LastPostedReplyAt returns the time of the latest posted, non-dry-run reply
func (s *SQLiteStore) LastPostedReplyAt(ctx context.Context, campaignID string) (*time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(posted_at) FROM campaign_replies WHERE campaign_id=? AND status=? AND dry_run=0`,
		campaignID, string(models.ReplyPosted)).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to load last reply time: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := fromMillis(last.Int64)
	return &t, nil
}

// ListReplies returns the reply ledger of a campaign in creation order
func (s *SQLiteStore) ListReplies(ctx context.Context, campaignID string) ([]models.CampaignReply, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, campaign_id, target_username, target_tweet_id, target_tweet_text, reply_text,
		reply_tweet_id, short_url, status, error_message, dry_run, posted_at, created_at
		FROM campaign_replies WHERE campaign_id=? ORDER BY created_at, rowid`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	defer rows.Close()

	var out []models.CampaignReply
	for rows.Next() {
		var (
			r               models.CampaignReply
			replyID, errMsg sql.NullString
			status          string
			postedAt        sql.NullInt64
			createdAt       int64
		)
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.TargetUsername, &r.TargetTweetID, &r.TargetTweetText, &r.ReplyText,
			&replyID, &r.ShortURL, &status, &errMsg, &r.DryRun, &postedAt, &createdAt); err != nil {
			return nil, err
		}
		r.Status = models.ReplyStatus(status)
		if replyID.Valid {
			r.ReplyTweetID = &replyID.String
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		if postedAt.Valid {
			t := fromMillis(postedAt.Int64)
			r.PostedAt = &t
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateShortLink stores a tracked link
func (s *SQLiteStore) CreateShortLink(ctx context.Context, link *models.ShortLink) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO short_links(code, campaign_id, target_url, short_url, clicks, created_at)
		VALUES(?,?,?,?,?,?)`, link.Code, link.CampaignID, link.TargetURL, link.ShortURL, link.Clicks, toMillis(link.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert short link %s: %w", link.Code, err)
	}
	return nil
}

// GetShortLink loads a tracked link by code
func (s *SQLiteStore) GetShortLink(ctx context.Context, code string) (*models.ShortLink, error) {
	var (
		link      models.ShortLink
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT code, campaign_id, target_url, short_url, clicks, created_at FROM short_links WHERE code=?`, code).
		Scan(&link.Code, &link.CampaignID, &link.TargetURL, &link.ShortURL, &link.Clicks, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load short link %s: %w", code, err)
	}
	link.CreatedAt = fromMillis(createdAt)
	return &link, nil
}

// RecordClick stores a click and bumps the link and campaign click counters in one transaction
func (s *SQLiteStore) RecordClick(ctx context.Context, click *models.ClickEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO click_events(id, code, campaign_id, ip_address, user_agent, referrer, clicked_at)
		VALUES(?,?,?,?,?,?,?)`, click.ID, click.Code, click.CampaignID, click.IPAddress, click.UserAgent, click.Referrer,
		toMillis(click.ClickedAt)); err != nil {
		return fmt.Errorf("failed to insert click: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE short_links SET clicks=clicks+1 WHERE code=?`, click.Code); err != nil {
		return fmt.Errorf("failed to update link clicks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET total_clicks=total_clicks+1 WHERE id=?`, click.CampaignID); err != nil {
		return fmt.Errorf("failed to update campaign clicks: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		c                             models.Campaign
		status, seeds, keywords, prov string
		createdAt, updatedAt          int64
		startedAt                     sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &status, &seeds, &c.TopNUsers, &c.LookbackDays, &keywords,
		&c.ReplyTemplate, &c.TargetURL, &c.ShortURL, &prov, &c.ReplyModel, &c.UseGrokFilter, &c.DailyReplyLimit, &c.DryRun,
		&c.TotalReplies, &c.TotalClicks, &c.TotalMatchedPosts, &c.AnalysisCompleted, &c.AnalysisError,
		&createdAt, &updatedAt, &startedAt); err != nil {
		return nil, err
	}

	c.Status = models.CampaignStatus(status)
	c.AIProvider = models.AIProvider(prov)
	if err := json.Unmarshal([]byte(seeds), &c.SeedUsers); err != nil {
		return nil, fmt.Errorf("corrupt seed_users: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
		return nil, fmt.Errorf("corrupt keywords: %w", err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	if startedAt.Valid {
		t := fromMillis(startedAt.Int64)
		c.StartedAt = &t
	}
	return &c, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func toNullMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
