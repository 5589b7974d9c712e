package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/lead-sync/internal/model"
)

// loginBodyLimit caps how much of a login response is inspected.
const loginBodyLimit = 1 << 20

// SessionOptions configures portal login.
type SessionOptions struct {
	UserAgent        string
	Timeout          time.Duration
	UsernameField    string // default "inputUsrNme"
	PasswordField    string // default "inputPassword"
	CSRFField        string // default "csrf_token"
	InvalidLoginText string // body marker of a rejected login; empty disables the check
	QuotePassword    bool   // URL-escape the secret before form encoding
	Logger           *zap.Logger
}

// password returns the secret as it is posted in the login form.
func (o SessionOptions) password(cred model.PortalCredential) string {
	if o.QuotePassword {
		return url.QueryEscape(cred.Secret)
	}
	return cred.Secret
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.UserAgent == "" {
		o.UserAgent = "lead-sync/1.0"
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.UsernameField == "" {
		o.UsernameField = "inputUsrNme"
	}
	if o.PasswordField == "" {
		o.PasswordField = "inputPassword"
	}
	if o.CSRFField == "" {
		o.CSRFField = "csrf_token"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Session is an authenticated portal session. It must be closed by the caller.
type Session struct {
	Client *http.Client
}

// Close releases idle connections and discards the session cookies.
func (s *Session) Close() {
	if s == nil || s.Client == nil {
		return
	}
	s.Client.CloseIdleConnections()
	s.Client.Jar = nil
}

// SessionProvider opens an authenticated session for a credential.
type SessionProvider interface {
	Open(ctx context.Context, cred model.PortalCredential) (*Session, error)
}

// NewSessionProvider returns the provider for the given login strategy.
func NewSessionProvider(strategy model.SessionStrategy, opts SessionOptions) (SessionProvider, error) {
	opts = opts.withDefaults()
	switch strategy {
	case model.SessionStrategyForm, "":
		return &FormProvider{opts: opts}, nil
	case model.SessionStrategyCSRF:
		return &CSRFProvider{opts: opts}, nil
	case model.SessionStrategyBasic:
		return &BasicProvider{opts: opts}, nil
	default:
		return nil, eris.Errorf("fetcher: unknown session strategy %q", strategy)
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
}

func newJarClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create cookie jar")
	}
	return &http.Client{
		Timeout:   timeout,
		Jar:       jar,
		Transport: newTransport(),
	}, nil
}

// FormProvider logs in by posting the portal's login form and keeps the
// resulting session cookie.
type FormProvider struct {
	opts SessionOptions
}

// Open implements SessionProvider.
func (p *FormProvider) Open(ctx context.Context, cred model.PortalCredential) (*Session, error) {
	client, err := newJarClient(p.opts.Timeout)
	if err != nil {
		return nil, err
	}
	sess := &Session{Client: client}

	form := url.Values{}
	form.Set(p.opts.UsernameField, cred.Username)
	form.Set(p.opts.PasswordField, p.opts.password(cred))

	if err := postLogin(ctx, client, cred.LoginURL, form, p.opts); err != nil {
		sess.Close()
		return nil, err
	}
	p.opts.Logger.Debug("portal session opened", zap.String("credential", cred.Name), zap.String("strategy", "form"))
	return sess, nil
}

// CSRFProvider fetches the login page first and submits its anti-forgery
// token along with the form.
type CSRFProvider struct {
	opts SessionOptions
}

// Open implements SessionProvider.
func (p *CSRFProvider) Open(ctx context.Context, cred model.PortalCredential) (*Session, error) {
	client, err := newJarClient(p.opts.Timeout)
	if err != nil {
		return nil, err
	}
	sess := &Session{Client: client}

	token, err := p.fetchToken(ctx, client, cred.LoginURL)
	if err != nil {
		sess.Close()
		return nil, err
	}

	form := url.Values{}
	form.Set(p.opts.UsernameField, cred.Username)
	form.Set(p.opts.PasswordField, p.opts.password(cred))
	form.Set(p.opts.CSRFField, token)

	if err := postLogin(ctx, client, cred.LoginURL, form, p.opts); err != nil {
		sess.Close()
		return nil, err
	}
	p.opts.Logger.Debug("portal session opened", zap.String("credential", cred.Name), zap.String("strategy", "csrf"))
	return sess, nil
}

func (p *CSRFProvider) fetchToken(ctx context.Context, client *http.Client, loginURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create login page request")
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", &TransportError{Reason: "load login page", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TransportError{StatusCode: resp.StatusCode, Reason: "load login page"}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, loginBodyLimit))
	if err != nil {
		return "", &TransportError{Reason: "parse login page", Err: err}
	}

	token, ok := findHiddenInput(doc, p.opts.CSRFField)
	if !ok {
		return "", &AuthenticationError{Reason: "login page has no " + p.opts.CSRFField + " field"}
	}
	return token, nil
}

// findHiddenInput returns the value of the first hidden input named name.
func findHiddenInput(n *html.Node, name string) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "input" {
		var typ, nm, val string
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "type":
				typ = strings.ToLower(a.Val)
			case "name":
				nm = a.Val
			case "value":
				val = a.Val
			}
		}
		if typ == "hidden" && nm == name {
			return val, true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v, ok := findHiddenInput(c, name); ok {
			return v, true
		}
	}
	return "", false
}

// BasicProvider sends HTTP basic credentials on every request.
type BasicProvider struct {
	opts SessionOptions
}

// Open implements SessionProvider.
func (p *BasicProvider) Open(_ context.Context, cred model.PortalCredential) (*Session, error) {
	if cred.Username == "" {
		return nil, &AuthenticationError{Reason: "basic auth requires a username"}
	}
	return &Session{Client: &http.Client{
		Timeout: p.opts.Timeout,
		Transport: &basicAuthTransport{
			base:     newTransport(),
			username: cred.Username,
			password: cred.Secret,
		},
	}}, nil
}

type basicAuthTransport struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(r)
}

func (t *basicAuthTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func postLogin(ctx context.Context, client *http.Client, loginURL string, form url.Values, opts SessionOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "fetcher: create login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return &TransportError{Reason: "login request", Err: redactURLError(err)}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthenticationError{Reason: "login rejected with http " + http.StatusText(resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &TransportError{StatusCode: resp.StatusCode, Reason: "login request"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, loginBodyLimit))
	if err != nil {
		return &TransportError{Reason: "read login response", Err: err}
	}
	if opts.InvalidLoginText != "" &&
		strings.Contains(strings.ToLower(string(body)), strings.ToLower(opts.InvalidLoginText)) {
		return &AuthenticationError{Reason: "portal reported invalid credentials"}
	}

	u, err := url.Parse(loginURL)
	if err != nil {
		return eris.Wrap(err, "fetcher: parse login url")
	}
	if len(client.Jar.Cookies(u)) == 0 {
		return &AuthenticationError{Reason: "portal did not issue a session cookie"}
	}
	return nil
}

// redactURLError strips query strings from url errors so nothing sent to the
// portal leaks into logs.
func redactURLError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	if u, perr := url.Parse(ue.URL); perr == nil {
		u.RawQuery = ""
		u.User = nil
		return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
	}
	return err
}
