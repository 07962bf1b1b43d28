package provider

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"
	"cleanup_worker/pkg/metrics"
	"cleanup_worker/pkg/ratelimit"
	"cleanup_worker/pkg/resilience"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const gmailService = "gmail"

// gmailMetadataHeaders are the headers the rule engine scores.
var gmailMetadataHeaders = []string{
	"From", "Subject", "Date",
	"List-Unsubscribe", // RFC 2369
	"List-Id",          // RFC 2919
	"Precedence",
	"Auto-Submitted", // RFC 3834
	"Feedback-ID",
	"X-Mailer",
}

// Gmail categories the cleaner targets by default.
const (
	CategorySpam       = "SPAM"
	CategoryPromotions = "CATEGORY_PROMOTIONS"
	CategorySocial     = "CATEGORY_SOCIAL"
	CategoryUpdates    = "CATEGORY_UPDATES"
	CategoryForums     = "CATEGORY_FORUMS"
)

// Delete modes.
const (
	DeleteModeTrash     = "trash"
	DeleteModePermanent = "delete"
)

// =============================================================================
// Configuration
// =============================================================================

type GmailConfig struct {
	// Categories restricts listing to these Gmail system labels.
	Categories []string
	// Query is appended to the category filter with AND semantics.
	Query string
	// DeleteMode is "trash" (reversible, default) or "delete" (permanent).
	DeleteMode string
	PageSize   int64
	// FetchConcurrency bounds parallel metadata fetches per page.
	FetchConcurrency int
}

func DefaultGmailConfig() GmailConfig {
	return GmailConfig{
		Categories:       []string{CategorySpam, CategoryPromotions, CategorySocial},
		DeleteMode:       DeleteModeTrash,
		PageSize:         100,
		FetchConcurrency: 10,
	}
}

func (c GmailConfig) Validate() error {
	switch c.DeleteMode {
	case DeleteModeTrash, DeleteModePermanent:
	default:
		return apperr.ConfigErrorf("gmail delete mode %q must be %q or %q", c.DeleteMode, DeleteModeTrash, DeleteModePermanent)
	}
	if c.PageSize <= 0 || c.PageSize > 500 {
		return apperr.ConfigErrorf("gmail page size %d must be in (0, 500]", c.PageSize)
	}
	if c.FetchConcurrency <= 0 {
		return apperr.ConfigErrorf("gmail fetch concurrency %d must be > 0", c.FetchConcurrency)
	}
	return nil
}

// BuildGmailQuery turns category labels into a Gmail search expression.
func BuildGmailQuery(categories []string, extra string) string {
	var terms []string
	for _, c := range categories {
		switch strings.ToUpper(c) {
		case CategorySpam:
			terms = append(terms, "in:spam")
		case CategoryPromotions:
			terms = append(terms, "category:promotions")
		case CategorySocial:
			terms = append(terms, "category:social")
		case CategoryUpdates:
			terms = append(terms, "category:updates")
		case CategoryForums:
			terms = append(terms, "category:forums")
		}
	}

	var q string
	switch len(terms) {
	case 0:
	case 1:
		q = terms[0]
	default:
		q = "{" + strings.Join(terms, " ") + "}"
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		if q != "" {
			q += " "
		}
		q += extra
	}
	return q
}

func includesSpam(categories []string) bool {
	for _, c := range categories {
		if strings.EqualFold(c, CategorySpam) {
			return true
		}
	}
	return false
}

// =============================================================================
// GmailSource
// =============================================================================

// GmailSource implements out.EmailSource over the Gmail API.
type GmailSource struct {
	svc     *gmail.Service
	cfg     GmailConfig
	query   string
	cb      *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
	log     zerolog.Logger
}

var _ out.EmailSource = (*GmailSource)(nil)

func NewGmailSource(ctx context.Context, ts oauth2.TokenSource, cfg GmailConfig, limiter ratelimit.Limiter) (*GmailSource, error) {
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(authorizedClient(ctx, ts)))
	if err != nil {
		return nil, apperr.ConfigErrorf("create gmail service: %v", err)
	}
	return NewGmailSourceWithService(svc, cfg, limiter)
}

// NewGmailSourceWithService wraps an existing client, e.g. one pointed at a test server.
func NewGmailSourceWithService(svc *gmail.Service, cfg GmailConfig, limiter ratelimit.Limiter) (*GmailSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &GmailSource{
		svc:     svc,
		cfg:     cfg,
		query:   BuildGmailQuery(cfg.Categories, cfg.Query),
		cb:      resilience.NewCircuitBreaker("gmail-api"),
		limiter: limiter,
		log:     logger.Component("gmail"),
	}, nil
}

func (s *GmailSource) ListMessages(ctx context.Context, cursor string) (*out.EmailPage, error) {
	var resp *gmail.ListMessagesResponse
	err := s.call(ctx, "list", "", func() error {
		req := s.svc.Users.Messages.List("me").MaxResults(s.cfg.PageSize)
		if s.query != "" {
			req = req.Q(s.query)
		}
		if includesSpam(s.cfg.Categories) {
			req = req.IncludeSpamTrash(true)
		}
		if cursor != "" {
			req = req.PageToken(cursor)
		}
		var err error
		resp, err = req.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	messages, err := s.fetchMetadata(ctx, resp.Messages)
	if err != nil {
		return nil, err
	}
	return &out.EmailPage{Messages: messages, NextCursor: resp.NextPageToken}, nil
}

// fetchMetadata loads headers for one page in parallel, preserving listing order.
// Messages that vanished between list and get are dropped.
func (s *GmailSource) fetchMetadata(ctx context.Context, refs []*gmail.Message) ([]domain.EmailMessage, error) {
	results := make([]*domain.EmailMessage, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			var msg *gmail.Message
			err := s.call(gctx, "get", ref.Id, func() error {
				var err error
				msg, err = s.svc.Users.Messages.Get("me", ref.Id).
					Format("metadata").
					MetadataHeaders(gmailMetadataHeaders...).
					Context(gctx).Do()
				return err
			})
			if apperr.IsPermanentRemote(err) {
				s.log.Debug().Str("message_id", ref.Id).Msg("message disappeared before fetch")
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = convertGmailMessage(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]domain.EmailMessage, 0, len(refs))
	for _, m := range results {
		if m != nil {
			messages = append(messages, *m)
		}
	}
	return messages, nil
}

func (s *GmailSource) DeleteMessage(ctx context.Context, messageID string) error {
	return s.callWrite(ctx, s.cfg.DeleteMode, messageID, func() error {
		if s.cfg.DeleteMode == DeleteModePermanent {
			return s.svc.Users.Messages.Delete("me", messageID).Context(ctx).Do()
		}
		_, err := s.svc.Users.Messages.Trash("me", messageID).Context(ctx).Do()
		return err
	})
}

// call rate-limits a read and runs it through the breaker.
func (s *GmailSource) call(ctx context.Context, op, itemID string, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.callWrite(ctx, op, itemID, fn)
}

// callWrite is unthrottled; the execution coordinator paces deletions.
func (s *GmailSource) callWrite(_ context.Context, op, itemID string, fn func() error) error {
	start := time.Now()
	err := classifyError(gmailService, itemID, resilience.Execute(s.cb, fn, tripsBreaker))
	metrics.ObserveRemoteCall(gmailService, op, start, err)
	return err
}

// =============================================================================
// Conversion
// =============================================================================

func convertGmailMessage(msg *gmail.Message) *domain.EmailMessage {
	m := &domain.EmailMessage{
		ID:          msg.Id,
		ThreadID:    msg.ThreadId,
		BodyExcerpt: msg.Snippet,
		LabelHints:  msg.LabelIds,
		SizeBytes:   msg.SizeEstimate,
	}
	if msg.InternalDate > 0 {
		m.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return m
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			m.Sender = h.Value
		case "subject":
			m.Subject = h.Value
		case "date":
			if m.ReceivedAt.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					m.ReceivedAt = t.UTC()
				}
			}
		case "list-unsubscribe":
			m.Headers.ListUnsubscribe = h.Value
		case "list-id":
			m.Headers.ListID = h.Value
		case "precedence":
			m.Headers.Precedence = h.Value
		case "auto-submitted":
			m.Headers.AutoSubmitted = h.Value
		case "feedback-id":
			m.Headers.FeedbackID = h.Value
		case "x-mailer":
			m.Headers.XMailer = h.Value
		}
	}
	return m
}
