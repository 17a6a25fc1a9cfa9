package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"newsagent/api/internal/apixml"
	"newsagent/api/internal/auth"
	"newsagent/api/internal/store"
	"newsagent/api/internal/webapi"
)

func postForm(t *testing.T, handler http.Handler, path string, form url.Values, cookie *http.Cookie) (*httptest.ResponseRecorder, *apixml.Document) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	doc, err := apixml.Decode(strings.NewReader(rr.Body.String()))
	if err != nil {
		t.Fatalf("decode %s response %q: %v", path, rr.Body.String(), err)
	}
	return rr, doc
}

func loginCookie(t *testing.T, handler http.Handler, username, password string) *http.Cookie {
	t.Helper()
	rr, doc := postForm(t, handler, "/login/api/login", url.Values{"username": {username}, "password": {password}}, nil)
	if !doc.Login.IsLoggedIn() {
		t.Fatalf("login failed: %s", rr.Body.String())
	}
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == auth.CookieName {
			return cookie
		}
	}
	t.Fatalf("no session cookie in %v", rr.Header())
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["ok"] != true {
		t.Fatalf("expected ok=true, got %v", response["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	fs := newFakeStore()
	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	server := NewHTTPServer(newTestService(fs))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", response["status"])
	}
}

func TestLoginFlow(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "usr_1", "avery", "author", "correct horse")
	handler := NewHTTPServer(newTestService(fs)).Handler()

	_, doc := postForm(t, handler, "/login/api/check", nil, nil)
	if doc.Login == nil || doc.Login.IsLoggedIn() {
		t.Fatalf("anonymous check should report loggedin=no, got %+v", doc.Login)
	}

	rr, doc := postForm(t, handler, "/login/api/login", url.Values{"username": {"avery"}, "password": {"wrong"}}, nil)
	if rr.Code != http.StatusOK || doc.Login.IsLoggedIn() {
		t.Fatalf("bad password: code %d body %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(doc.Login.Message, "incorrect username or password") {
		t.Fatalf("unexpected refusal message %q", doc.Login.Message)
	}

	rr, doc = postForm(t, handler, "/login/api/login", url.Values{"username": {"avery"}, "password": {"correct horse"}}, nil)
	if !doc.Login.IsLoggedIn() {
		t.Fatalf("expected login, got %s", rr.Body.String())
	}
	if doc.Cookies == nil || len(doc.Cookies.Cookie) != 1 || doc.Cookies.Cookie[0].Name != auth.CookieName {
		t.Fatalf("expected session cookie in body, got %+v", doc.Cookies)
	}
	cookie := loginCookie(t, handler, "avery", "correct horse")

	_, doc = postForm(t, handler, "/login/api/check", nil, cookie)
	if !doc.Login.IsLoggedIn() {
		t.Fatal("check with cookie should report loggedin=yes")
	}

	rr, _ = postForm(t, handler, "/login/api/logout", nil, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status %d", rr.Code)
	}
	_, doc = postForm(t, handler, "/login/api/check", nil, cookie)
	if doc.Login.IsLoggedIn() {
		t.Fatal("session should be revoked after logout")
	}
}

func TestProtectedOperationsRequireSession(t *testing.T) {
	handler := NewHTTPServer(newTestService(newFakeStore())).Handler()

	rr, doc := postForm(t, handler, "/webapi/api/auto.check", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if doc.Error == nil || doc.Error.Info != "You must be logged in to do that" {
		t.Fatalf("unexpected error element %+v", doc.Error)
	}

	bogus := &http.Cookie{Name: auth.CookieName, Value: "not.a.token"}
	rr, _ = postForm(t, handler, "/webapi/api/auto.check", nil, bogus)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus cookie, got %d", rr.Code)
	}
}

func TestRoutingErrors(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "usr_1", "avery", "author", "correct horse")
	handler := NewHTTPServer(newTestService(fs)).Handler()
	cookie := loginCookie(t, handler, "avery", "correct horse")

	req := httptest.NewRequest(http.MethodGet, "/webapi/api/auto.check", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rr.Code)
	}

	rr, doc := postForm(t, handler, "/webapi/api/auto.nope", nil, cookie)
	if rr.Code != http.StatusNotFound || doc.Error == nil {
		t.Fatalf("expected 404 error document, got %d %s", rr.Code, rr.Body.String())
	}

	rr, _ = postForm(t, handler, "/not-an-api-path", nil, cookie)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non api path, got %d", rr.Code)
	}
}

func TestViewerCannotWrite(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "usr_1", "reader", "viewer", "correct horse")
	handler := NewHTTPServer(newTestService(fs)).Handler()
	cookie := loginCookie(t, handler, "reader", "correct horse")

	rr, doc := postForm(t, handler, "/webapi/api/auto.save", url.Values{"comp-title": {"x"}}, cookie)
	if rr.Code != http.StatusForbidden || doc.Error == nil {
		t.Fatalf("expected 403 error document, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAutosaveOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "usr_1", "avery", "author", "correct horse")
	handler := NewHTTPServer(newTestService(fs)).Handler()
	cookie := loginCookie(t, handler, "avery", "correct horse")

	_, doc := postForm(t, handler, "/webapi/api/auto.check", nil, cookie)
	if doc.Result.Attr("autosave") != apixml.AutosaveNone {
		t.Fatalf("expected no autosave, got %+v", doc.Result)
	}

	_, doc = postForm(t, handler, "/webapi/api/auto.save", url.Values{
		"comp-title": {"Budget"},
		"comp-desc":  {"<p>Hi</p><script>x()</script>"},
	}, cookie)
	if doc.Result.Attr("autosave") != apixml.AutosaveAvailable {
		t.Fatalf("save should report available, got %+v", doc.Result)
	}
	if len(doc.Result.Fields) != 0 {
		t.Fatalf("save must not echo fields, got %+v", doc.Result.Fields)
	}

	_, doc = postForm(t, handler, "/webapi/api/auto.load", nil, cookie)
	values := doc.Result.FieldValues()
	if values["comp-title"] != "Budget" || values["comp-desc"] != "<p>Hi</p>" {
		t.Fatalf("unexpected loaded fields %v", values)
	}
}

func TestNewsletterAndQueueOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "usr_1", "eddie", "editor", "correct horse")
	fs.issues["iss_1"] = store.Issue{ID: "iss_1"}
	fs.contributors["iss_1"] = []store.Contributor{{UserID: "usr_1", Name: "Eddie", Ready: true}}
	fs.messages["msg_1"] = store.Message{ID: "msg_1", SectionID: "sec_1", Status: store.MessageQueued}
	handler := NewHTTPServer(newTestService(fs)).Handler()
	cookie := loginCookie(t, handler, "eddie", "correct horse")

	_, doc := postForm(t, handler, "/newsletter/api/sortorder", url.Values{"sortorder": {"sec_1_msg_1"}}, cookie)
	if doc.Result.Attr("desc") != "Sort order saved (1 messages)" {
		t.Fatalf("unexpected sortorder result %+v", doc.Result)
	}
	if fs.sortOrder[0].SectionID != "sec" || fs.sortOrder[0].MessageID != "1_msg_1" {
		t.Fatalf("pairs split at the first underscore, got %+v", fs.sortOrder[0])
	}

	_, doc = postForm(t, handler, "/newsletter/api/toggleready", url.Values{"issue": {"iss_1"}}, cookie)
	if doc.Result.Attr("ready") != apixml.Yes {
		t.Fatalf("unexpected toggleready result %+v", doc.Result)
	}

	_, doc = postForm(t, handler, "/newsletter/api/contributors", url.Values{"issue": {"iss_1"}}, cookie)
	if len(doc.Result.Contributors) != 1 || doc.Result.Contributors[0].Ready != apixml.Yes {
		t.Fatalf("unexpected contributors %+v", doc.Result.Contributors)
	}

	_, doc = postForm(t, handler, "/newsagent/queue/api/publish", url.Values{"id": {"msg_1"}}, cookie)
	if doc.Result.Attr("desc") != "Message published" {
		t.Fatalf("prefixed queue publish failed: %+v", doc)
	}

	rr, doc := postForm(t, handler, "/queue/api/reject", url.Values{"id": {"msg_1"}}, cookie)
	if rr.Code != http.StatusConflict || doc.Error == nil {
		t.Fatalf("expected conflict, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestWebAPIClientAgainstServer(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "usr_1", "avery", "author", "correct horse")
	fs.counts = []store.RecipientCount{{MethodID: "email", Name: "Email", Count: 40}}
	fs.articles["art_1"] = store.Article{ID: "art_1", AuthorID: "usr_1", State: store.ArticleVisible}
	ts := httptest.NewServer(NewHTTPServer(newTestService(fs)).Handler())
	defer ts.Close()

	client, err := webapi.New(webapi.Options{BaseURL: ts.URL + "/newsagent"})
	if err != nil {
		t.Fatalf("webapi.New() error = %v", err)
	}
	ctx := t.Context()

	if _, err := client.AutoCheck(ctx); !errors.Is(err, webapi.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired before login, got %v", err)
	}

	ok, message, err := client.Login(ctx, webapi.Credentials{Username: "avery", Password: "correct horse"})
	if err != nil || !ok {
		t.Fatalf("Login() = %v, %q, %v", ok, message, err)
	}
	if loggedIn, err := client.CheckLogin(ctx); err != nil || !loggedIn {
		t.Fatalf("CheckLogin() = %v, %v", loggedIn, err)
	}

	if _, err := client.AutoSave(ctx, map[string]string{"comp-title": "Budget"}); err != nil {
		t.Fatalf("AutoSave() error = %v", err)
	}
	loaded, err := client.AutoLoad(ctx)
	if err != nil {
		t.Fatalf("AutoLoad() error = %v", err)
	}
	if !loaded.Available || loaded.Fields["comp-title"] != "Budget" {
		t.Fatalf("unexpected autoload %+v", loaded)
	}

	recipients, err := client.RecipientCount(ctx, "2026", []string{"email", "sms"})
	if err != nil {
		t.Fatalf("RecipientCount() error = %v", err)
	}
	if len(recipients) != 1 || recipients[0].Count != 40 {
		t.Fatalf("unexpected recipients %+v", recipients)
	}

	state, err := client.ArticleAction(ctx, webapi.ArticleHide, "art_1")
	if err != nil || state != store.ArticleHidden {
		t.Fatalf("ArticleAction() = %q, %v", state, err)
	}

	if _, err := client.QueueAction(ctx, webapi.QueuePublish, "msg_1", ""); err == nil {
		t.Fatal("author publish should be refused")
	}
}
