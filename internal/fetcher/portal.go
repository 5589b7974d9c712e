// Package fetcher downloads lead exports from a portal and parses them into
// raw lead records.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/resilience"
)

// Fetcher returns the raw lead rows a portal credential currently exposes.
type Fetcher interface {
	Fetch(ctx context.Context, cred model.PortalCredential) ([]model.RawLeadRecord, error)
}

// Options configures the portal fetcher.
type Options struct {
	Session           SessionOptions
	MaxBodyBytes      int64   // default 64 MiB
	NoRecordsText     string  // default "No records found"
	RequestsPerSecond float64 // default 2
	Retry             resilience.RetryConfig
	Logger            *zap.Logger
	Now               func() time.Time
}

// PortalFetcher logs in to a portal, downloads the export for the
// credential's window and parses it.
type PortalFetcher struct {
	opts      Options
	log       *zap.Logger
	limiter   *AdaptiveLimiter
	providers func(model.SessionStrategy, SessionOptions) (SessionProvider, error)
}

// NewPortalFetcher creates a PortalFetcher with the given options.
func NewPortalFetcher(opts Options) *PortalFetcher {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	if opts.NoRecordsText == "" {
		opts.NoRecordsText = "No records found"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Session.Logger = opts.Logger
	opts.Session = opts.Session.withDefaults()

	return &PortalFetcher{
		opts:      opts,
		log:       opts.Logger,
		limiter:   NewAdaptiveLimiter(rate.Limit(opts.RequestsPerSecond), 1, opts.Logger),
		providers: NewSessionProvider,
	}
}

// Fetch implements Fetcher. A "no records" response yields an empty slice.
func (f *PortalFetcher) Fetch(ctx context.Context, cred model.PortalCredential) ([]model.RawLeadRecord, error) {
	payload, err := f.Download(ctx, cred)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return []model.RawLeadRecord{}, nil
	}

	recs, err := f.parse(cred, payload)
	if err != nil {
		// The marker only counts once the body has proven not to be a table.
		if containsFold(payload, f.opts.NoRecordsText) {
			f.log.Info("portal reported no records", zap.String("credential", cred.Name))
			return []model.RawLeadRecord{}, nil
		}
		return nil, err
	}
	return recs, nil
}

func (f *PortalFetcher) parse(cred model.PortalCredential, payload []byte) ([]model.RawLeadRecord, error) {
	table, err := ParseTabular(payload)
	if err != nil {
		return nil, err
	}
	f.log.Debug("portal payload parsed",
		zap.String("credential", cred.Name),
		zap.String("format", table.Format),
		zap.Int("rows", len(table.Rows)),
	)
	return ToRecords(table)
}

// Download opens a session and returns the raw export body. It returns a nil
// payload when the portal answers with its "no records" page instead of data.
func (f *PortalFetcher) Download(ctx context.Context, cred model.PortalCredential) ([]byte, error) {
	cred.ApplyDefaults()

	provider, err := f.providers(cred.SessionStrategy, f.opts.Session)
	if err != nil {
		return nil, err
	}
	sess, err := provider.Open(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	dataURL, err := f.windowURL(cred)
	if err != nil {
		return nil, err
	}

	retry := f.opts.Retry
	retry.ShouldRetry = retryableFetchError
	retry.OnRetry = resilience.RetryLogger(f.log, "portal.download")

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, sess.Client, dataURL)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case looksLikeHTML(body):
		if !htmlContains(body, f.opts.NoRecordsText) {
			return nil, &TransportError{Reason: "portal returned an html page instead of data"}
		}
	case !isMarkerOnly(body, f.opts.NoRecordsText):
		return body, nil
	}
	f.log.Info("portal reported no records", zap.String("credential", cred.Name))
	return nil, nil
}

func (f *PortalFetcher) windowURL(cred model.PortalCredential) (string, error) {
	u, err := url.Parse(cred.DataURL)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse data url")
	}
	from, to := cred.Window(f.opts.Now())
	q := u.Query()
	q.Set("from", from)
	q.Set("to", to)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *PortalFetcher) get(ctx context.Context, client *http.Client, dataURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dataURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create download request")
	}
	req.Header.Set("User-Agent", f.opts.Session.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Reason: "download", Err: redactURLError(err)}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthenticationError{Reason: "download rejected with http " + http.StatusText(resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		f.limiter.OnRateLimit()
		return nil, &TransportError{StatusCode: resp.StatusCode, Reason: "download"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransportError{StatusCode: resp.StatusCode, Reason: "download"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, &TransportError{Reason: "read download body", Err: err}
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, &TransportError{Reason: "download exceeds max body size"}
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "text/html") && !htmlContains(body, f.opts.NoRecordsText) {
		return nil, &TransportError{StatusCode: resp.StatusCode, Reason: "unexpected content type " + ct}
	}

	f.limiter.OnSuccess()
	return body, nil
}

// retryableFetchError retries network failures, 429 and 5xx. Authentication,
// content and parse problems are never retried.
func retryableFetchError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) && !isClientTimeout(err) {
		return false
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	if te.StatusCode != 0 {
		return resilience.IsTransientHTTPStatus(te.StatusCode)
	}
	return te.Err != nil
}

func isClientTimeout(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue) && ue.Timeout()
}

func containsFold(body []byte, marker string) bool {
	if marker == "" {
		return false
	}
	return bytes.Contains(bytes.ToLower(body), bytes.ToLower([]byte(marker)))
}

// isMarkerOnly reports whether the whole body, tags stripped, is the marker.
func isMarkerOnly(body []byte, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.EqualFold(collapseSpace(htmlText(body)), collapseSpace(marker))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func htmlContains(body []byte, marker string) bool {
	return containsFold([]byte(htmlText(body)), marker)
}

// htmlText returns the text content of body with markup removed. Plain text
// passes through unchanged.
func htmlText(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenElement(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenElement(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isHiddenElement(tag []byte) bool {
	return string(tag) == "script" || string(tag) == "style"
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<html"))
}
