package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"newsagent/api/internal/apixml"
	"newsagent/api/internal/auth"
	"newsagent/api/internal/authpw"
	"newsagent/api/internal/rbac"
	"newsagent/api/internal/util"
)

type HTTPServer struct {
	service *Service
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{service: service}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

type operation func(w http.ResponseWriter, r *http.Request, session Session)

type route struct {
	action rbac.Action
	handle operation
}

func (s *HTTPServer) routes() map[string]route {
	write := func(h operation) route { return route{action: rbac.ActionWrite, handle: h} }
	return map[string]route{
		"webapi/auto.save":        write(s.handleAutoSave),
		"webapi/auto.check":       write(s.handleAutoCheck),
		"webapi/auto.load":        write(s.handleAutoLoad),
		"webapi/rcount":           write(s.handleRecipientCount),
		"newsletter/sortorder":    write(s.handleSortOrder),
		"newsletter/toggleready":  write(s.handleToggleReady),
		"newsletter/contributors": write(s.handleContributors),
		"queue/move":              write(s.queueHandler("move")),
		"queue/delete":            write(s.queueHandler("delete")),
		"queue/reject":            write(s.queueHandler("reject")),
		"queue/publish":           write(s.queueHandler("publish")),
		"articlelist/delete":      write(s.articleHandler("delete")),
		"articlelist/undelete":    write(s.articleHandler("undelete")),
		"articlelist/hide":        write(s.articleHandler("hide")),
		"articlelist/unhide":      write(s.articleHandler("unhide")),
		"articlelist/publish":     write(s.articleHandler("publish")),
	}
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	block, op, ok := apiOperation(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	switch block + "/" + op {
	case "login/check":
		_, loggedIn := s.optionalSession(r)
		writeXML(w, http.StatusOK, &apixml.Document{Login: &apixml.Login{LoggedIn: apixml.Bool(loggedIn)}})
		return
	case "login/login":
		s.handleLogin(w, r)
		return
	case "login/logout":
		s.handleLogout(w, r)
		return
	}

	rt, found := s.routes()[block+"/"+op]
	if !found {
		writeError(w, http.StatusNotFound, "Unknown operation "+block+"/"+op)
		return
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !s.service.Can(session.Role, rt.action) {
		s.forbid(w, r, session, string(rt.action))
		return
	}
	rt.handle(w, r, session)
}

// apiOperation extracts block and operation from .../{block}/api/{op}, so the
// API can sit under any base path.
func apiOperation(path string) (block, op string, ok bool) {
	parts := splitPath(path)
	n := len(parts)
	if n < 3 || parts[n-2] != "api" || parts[n-3] == "" || parts[n-1] == "" {
		return "", "", false
	}
	return parts[n-3], parts[n-1], true
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action string) {
	log.Printf(`{"event":"forbidden","request_id":"%s","user_id":"%s","role":"%s","action":"%s","path":"%s"}`,
		requestIDFrom(r.Context()), session.UserID, session.Role, action, r.URL.Path)
	writeError(w, errForbidden.Status, errForbidden.Message)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")

	session, err := s.service.Login(r.Context(), username, password)
	if err != nil {
		message := "Login failed"
		switch {
		case errors.Is(err, authpw.ErrInvalidCredentials):
			message = "Login failed: incorrect username or password"
		case errors.Is(err, authpw.ErrDeactivated):
			message = "Login failed: this account has been deactivated"
		default:
			status, _, msg := mapError(err)
			writeError(w, status, msg)
			return
		}
		writeXML(w, http.StatusOK, &apixml.Document{Login: &apixml.Login{LoggedIn: apixml.No, Message: message}})
		return
	}

	cookie := s.service.signer.Cookie(session.Token, session.ExpiresAt)
	http.SetCookie(w, cookie)
	writeXML(w, http.StatusOK, &apixml.Document{
		Login: &apixml.Login{LoggedIn: apixml.Yes},
		Cookies: &apixml.Cookies{Cookie: []apixml.Cookie{{
			Name:    cookie.Name,
			Expires: cookie.Expires.UTC().Format(http.TimeFormat),
			Path:    cookie.Path,
			Value:   cookie.Value,
		}}},
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if session, ok := s.optionalSession(r); ok {
		if err := s.service.Logout(r.Context(), session); err != nil {
			status, _, message := mapError(err)
			writeError(w, status, message)
			return
		}
	}
	http.SetCookie(w, s.service.signer.Cookie("", time.Time{}))
	writeXML(w, http.StatusOK, &apixml.Document{Login: &apixml.Login{LoggedIn: apixml.No}})
}

func (s *HTTPServer) handleAutoSave(w http.ResponseWriter, r *http.Request, session Session) {
	fields := make(map[string]string, len(r.PostForm))
	for id, values := range r.PostForm {
		if len(values) > 0 {
			fields[id] = values[0]
		}
	}
	status, err := s.service.SaveAutosave(r.Context(), session, fields)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, autosaveResult(status, false))
}

func (s *HTTPServer) handleAutoCheck(w http.ResponseWriter, r *http.Request, session Session) {
	status, err := s.service.CheckAutosave(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, autosaveResult(status, false))
}

func (s *HTTPServer) handleAutoLoad(w http.ResponseWriter, r *http.Request, session Session) {
	status, err := s.service.LoadAutosave(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, autosaveResult(status, true))
}

func autosaveResult(status AutosaveStatus, withFields bool) *apixml.Result {
	availability := apixml.AutosaveNone
	if status.Available {
		availability = apixml.AutosaveAvailable
	}
	result := apixml.NewResult("autosave", availability, "desc", status.Desc)
	if withFields {
		for _, id := range SortedKeys(status.Fields) {
			result.Fields = append(result.Fields, apixml.Field{ID: id, Value: status.Fields[id]})
		}
	}
	return result
}

func (s *HTTPServer) handleRecipientCount(w http.ResponseWriter, r *http.Request, _ Session) {
	counts, err := s.service.RecipientCounts(r.Context(), r.PostForm.Get("yearid"), r.PostForm.Get("matrix"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result := apixml.NewResult("yearid", r.PostForm.Get("yearid"))
	for _, count := range counts {
		result.Recipients = append(result.Recipients, apixml.Recipient{ID: count.MethodID, Name: count.Name, Count: count.Count})
	}
	writeResult(w, result)
}

func (s *HTTPServer) handleSortOrder(w http.ResponseWriter, r *http.Request, _ Session) {
	desc, err := s.service.SaveSortOrder(r.Context(), r.PostForm.Get("sortorder"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, apixml.NewResult("desc", desc))
}

func (s *HTTPServer) handleToggleReady(w http.ResponseWriter, r *http.Request, session Session) {
	ready, err := s.service.ToggleReady(r.Context(), session, r.PostForm.Get("issue"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	desc := "Marked as not ready"
	if ready {
		desc = "Marked as ready"
	}
	writeResult(w, apixml.NewResult("ready", apixml.Bool(ready), "desc", desc))
}

func (s *HTTPServer) handleContributors(w http.ResponseWriter, r *http.Request, _ Session) {
	contributors, err := s.service.Contributors(r.Context(), r.PostForm.Get("issue"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result := apixml.NewResult("issue", r.PostForm.Get("issue"))
	for _, c := range contributors {
		result.Contributors = append(result.Contributors, apixml.Contributor{Name: c.Name, Ready: apixml.Bool(c.Ready)})
	}
	writeResult(w, result)
}

func (s *HTTPServer) queueHandler(op string) operation {
	return func(w http.ResponseWriter, r *http.Request, session Session) {
		desc, err := s.service.QueueAction(r.Context(), session, op, r.PostForm.Get("id"), r.PostForm.Get("section"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeResult(w, apixml.NewResult("id", r.PostForm.Get("id"), "desc", desc))
	}
}

func (s *HTTPServer) articleHandler(op string) operation {
	return func(w http.ResponseWriter, r *http.Request, session Session) {
		state, err := s.service.ArticleAction(r.Context(), session, op, r.PostForm.Get("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeResult(w, apixml.NewResult("id", r.PostForm.Get("id"), "state", state))
	}
}

func (s *HTTPServer) optionalSession(r *http.Request) (Session, bool) {
	token := sessionToken(r)
	if token == "" {
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := sessionToken(r)
	if token == "" {
		writeError(w, errLoginRequired.Status, errLoginRequired.Message)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, errLoginRequired.Status, errLoginRequired.Message)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "Session lookup failed")
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeXML(w http.ResponseWriter, status int, doc *apixml.Document) {
	w.Header().Set("Content-Type", apixml.ContentType)
	w.WriteHeader(status)
	if err := apixml.Encode(w, doc); err != nil {
		log.Printf(`{"event":"encode_failed","error":"%s"}`, err)
	}
}

func writeResult(w http.ResponseWriter, result *apixml.Result) {
	writeXML(w, http.StatusOK, apixml.ResultDocument(result))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeXML(w, status, apixml.ErrorDocument(message))
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf(`{"event":"service_error","code":"%s","error":%q}`, code, err.Error())
	}
	writeError(w, status, message)
}

func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func SortedKeys(input map[string]string) []string {
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
