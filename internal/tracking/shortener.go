package tracking

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/metrics"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	codeLength   = 6
	codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts = 3

	defaultBitlyURL = "https://api-ssl.bitly.com/v4/shorten"
)

// Shortener issues tracked links for campaigns. Bitly is used when a token is configured; otherwise,
// or when Bitly fails, a local code is served from BASE_URL/r/{code}.
type Shortener struct {
	store      storage.CampaignStore
	client     *resty.Client
	bitlyToken string
	bitlyURL   string
	baseURL    string
	now        func() time.Time
}

// ClickInfo describes the visitor of a tracked link
type ClickInfo struct {
	IPAddress string
	UserAgent string
	Referrer  string
}

type bitlyRequest struct {
	LongURL string `json:"long_url"`
}

type bitlyResponse struct {
	Link string `json:"link"`
}

// NewShortener creates a new link shortener
func NewShortener(cfg *config.Config, store storage.CampaignStore) *Shortener {
	return &Shortener{
		store:      store,
		client:     resty.NewWithClient(robustHTTPClient()),
		bitlyToken: cfg.BitlyAccessToken,
		bitlyURL:   defaultBitlyURL,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		now:        time.Now,
	}
}

// Shorten returns the tracked link for targetURL
func (s *Shortener) Shorten(ctx context.Context, campaignID, targetURL string) (string, error) {
	if s.bitlyToken != "" {
		link, err := s.shortenWithBitly(ctx, targetURL)
		if err == nil {
			logrus.Infof("Shortened %s with Bitly: %s", targetURL, link)
			return link, nil
		}
		logrus.Warnf("Bitly shortening failed, falling back to local link: %v", err)
	}

	var lastErr error
	for i := 0; i < codeAttempts; i++ {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		link := &models.ShortLink{
			Code:       code,
			CampaignID: campaignID,
			TargetURL:  targetURL,
			ShortURL:   fmt.Sprintf("%s/r/%s", s.baseURL, code),
			CreatedAt:  s.now().UTC(),
		}
		if lastErr = s.store.CreateShortLink(ctx, link); lastErr == nil {
			return link.ShortURL, nil
		}
	}
	return "", fmt.Errorf("failed to create short link: %w", lastErr)
}

func (s *Shortener) shortenWithBitly(ctx context.Context, targetURL string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.bitlyToken).
		SetHeader("Content-Type", "application/json").
		SetBody(bitlyRequest{LongURL: targetURL}).
		Post(s.bitlyURL)
	if err != nil {
		return "", fmt.Errorf("bitly request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("bitly returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var out bitlyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("failed to parse bitly response: %w", err)
	}
	if out.Link == "" {
		return "", fmt.Errorf("bitly returned no link")
	}
	return out.Link, nil
}

// Resolve records a click on a local tracked link and returns its target
func (s *Shortener) Resolve(ctx context.Context, code string, info ClickInfo) (string, error) {
	link, err := s.store.GetShortLink(ctx, code)
	if err != nil {
		return "", err
	}

	click := &models.ClickEvent{
		ID:         uuid.NewString(),
		Code:       link.Code,
		CampaignID: link.CampaignID,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
		Referrer:   info.Referrer,
		ClickedAt:  s.now().UTC(),
	}
	if err := s.store.RecordClick(ctx, click); err != nil {
		// The visitor is still redirected
		logrus.Errorf("Failed to record click on %s: %v", code, err)
	} else {
		metrics.LinkClicks.Inc()
	}

	return link.TargetURL, nil
}

func newCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate link code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// robustHTTPClient retries connection errors, 5xx (except 501) and 429 responses
func robustHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledLogrus{})
	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}

type leveledLogrus struct{}

func (leveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(fields(keysAndValues)).Warn(msg)
}

func (leveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(fields(keysAndValues)).Warn(msg)
}

func (leveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(fields(keysAndValues)).Info(msg)
}

func (leveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(fields(keysAndValues)).Debug(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
