package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/sells-group/lead-sync/internal/model"
)

func testCredential(loginURL, dataURL string) model.PortalCredential {
	return model.PortalCredential{
		ID:              1,
		Name:            "cindrebay",
		LoginURL:        loginURL,
		DataURL:         dataURL,
		Username:        "agent",
		Secret:          "s3cret!",
		DaysToSync:      7,
		Active:          true,
		SessionStrategy: model.SessionStrategyForm,
	}
}

func loginHandler(t *testing.T, invalid bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "agent", r.PostForm.Get("inputUsrNme"))
		assert.Equal(t, "s3cret!", r.PostForm.Get("inputPassword"))
		if invalid {
			_, _ = w.Write([]byte("<p>Invalid username or password</p>"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte("welcome"))
	}
}

func TestFormProvider_QuotePassword(t *testing.T) {
	var posted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = r.PostForm.Get("inputPassword")
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte("welcome"))
	}))
	defer srv.Close()

	cred := testCredential(srv.URL+"/action.php", "")
	cred.Secret = "p@ss word&1"

	for _, quote := range []bool{false, true} {
		p, err := NewSessionProvider(model.SessionStrategyForm, SessionOptions{QuotePassword: quote})
		require.NoError(t, err)
		sess, err := p.Open(context.Background(), cred)
		require.NoError(t, err)
		sess.Close()

		if quote {
			assert.Equal(t, "p%40ss+word%261", posted)
		} else {
			assert.Equal(t, "p@ss word&1", posted)
		}
	}
}

func TestFormProvider_Success(t *testing.T) {
	srv := httptest.NewServer(loginHandler(t, false))
	defer srv.Close()

	p, err := NewSessionProvider(model.SessionStrategyForm, SessionOptions{InvalidLoginText: "invalid username or password"})
	require.NoError(t, err)

	sess, err := p.Open(context.Background(), testCredential(srv.URL+"/action.php", ""))
	require.NoError(t, err)
	defer sess.Close()
	assert.NotNil(t, sess.Client.Jar)
}

func TestFormProvider_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(loginHandler(t, true))
	defer srv.Close()

	p, err := NewSessionProvider(model.SessionStrategyForm, SessionOptions{InvalidLoginText: "invalid username or password"})
	require.NoError(t, err)

	_, err = p.Open(context.Background(), testCredential(srv.URL, ""))
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.NotContains(t, err.Error(), "s3cret!")
}

func TestFormProvider_NoCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := NewSessionProvider(model.SessionStrategyForm, SessionOptions{})
	require.NoError(t, err)

	_, err = p.Open(context.Background(), testCredential(srv.URL, ""))
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "session cookie")
}

func TestFormProvider_Rejected401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := NewSessionProvider(model.SessionStrategyForm, SessionOptions{})
	_, err := p.Open(context.Background(), testCredential(srv.URL, ""))
	var authErr *AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestFormProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := NewSessionProvider(model.SessionStrategyForm, SessionOptions{})
	_, err := p.Open(context.Background(), testCredential(srv.URL, ""))
	var transErr *TransportError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, http.StatusBadGateway, transErr.StatusCode)
}

func TestFormProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := NewSessionProvider(model.SessionStrategyForm, SessionOptions{})
	_, err := p.Open(context.Background(), testCredential(url, ""))
	var transErr *TransportError
	assert.ErrorAs(t, err, &transErr)
}

func TestCSRFProvider_SubmitsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`<html><body><form>
				<input type="text" name="inputUsrNme">
				<input type="hidden" name="csrf_token" value="tok-123">
			</form></body></html>`))
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("csrf_token") != "tok-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/"})
	}))
	defer srv.Close()

	cred := testCredential(srv.URL, "")
	cred.SessionStrategy = model.SessionStrategyCSRF
	p, err := NewSessionProvider(cred.SessionStrategy, SessionOptions{})
	require.NoError(t, err)

	sess, err := p.Open(context.Background(), cred)
	require.NoError(t, err)
	sess.Close()
}

func TestCSRFProvider_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><form><input name="inputUsrNme"></form></html>`))
	}))
	defer srv.Close()

	p, _ := NewSessionProvider(model.SessionStrategyCSRF, SessionOptions{})
	_, err := p.Open(context.Background(), testCredential(srv.URL, ""))
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "csrf_token")
}

func TestBasicProvider_SetsAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "agent" || pass != "s3cret!" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, _ := NewSessionProvider(model.SessionStrategyBasic, SessionOptions{})
	sess, err := p.Open(context.Background(), testCredential("", srv.URL))
	require.NoError(t, err)
	defer sess.Close()

	resp, err := sess.Client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBasicProvider_RequiresUsername(t *testing.T) {
	p, _ := NewSessionProvider(model.SessionStrategyBasic, SessionOptions{})
	cred := testCredential("", "")
	cred.Username = ""
	_, err := p.Open(context.Background(), cred)
	var authErr *AuthenticationError
	assert.True(t, errors.As(err, &authErr))
}

func TestNewSessionProvider_Unknown(t *testing.T) {
	_, err := NewSessionProvider("oauth", SessionOptions{})
	assert.Error(t, err)
}

func TestFindHiddenInput(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<div><input type="HIDDEN" name="token" value="x"><input type="hidden" name="token" value="y"></div>`))
	require.NoError(t, err)

	v, ok := findHiddenInput(doc, "token")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = findHiddenInput(doc, "other")
	assert.False(t, ok)
}

func TestSessionClose_Nil(t *testing.T) {
	var s *Session
	s.Close()
}
