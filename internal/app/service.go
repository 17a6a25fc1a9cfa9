package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"newsagent/api/internal/auth"
	"newsagent/api/internal/authpw"
	"newsagent/api/internal/config"
	"newsagent/api/internal/rbac"
	"newsagent/api/internal/session"
	"newsagent/api/internal/store"
	"newsagent/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	Username  string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// AutosaveStatus describes the caller's server-held draft.
type AutosaveStatus struct {
	Available bool
	Desc      string
	Fields    map[string]string
}

type dataStore interface {
	authpw.UserStore
	SaveAutosave(context.Context, string, map[string]string) (time.Time, error)
	GetAutosave(context.Context, string) (store.Autosave, error)
	GetIssue(context.Context, string) (store.Issue, error)
	ToggleReady(context.Context, string, string) (bool, error)
	ListContributors(context.Context, string) ([]store.Contributor, error)
	ApplySortOrder(context.Context, []store.SortEntry) error
	GetMessage(context.Context, string) (store.Message, error)
	MoveMessage(context.Context, string, string) error
	SetMessageStatus(context.Context, string, string) error
	GetArticle(context.Context, string) (store.Article, error)
	UpdateArticleState(context.Context, string, string, string) error
	RecipientCounts(context.Context, string, []string) ([]store.RecipientCount, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveSession(context.Context, string, store.User, time.Time) error
	LookupSession(context.Context, string) (store.User, error)
	RevokeSession(context.Context, string) error
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	signer     *auth.Signer
	passwords  *authpw.Service
	sanitizer  *bluemonday.Policy
	richFields map[string]bool
	logger     *slog.Logger
	now        func() time.Time
}

// New keeps login sessions in Postgres.
func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return newService(cfg, dataStore, dataStore)
}

// NewWithSessionStore keeps login sessions in Redis.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore) *Service {
	return newService(cfg, dataStore, sessions)
}

func newService(cfg config.Config, data dataStore, sessions sessionStore) *Service {
	rich := make(map[string]bool, len(cfg.RichFields))
	for _, id := range cfg.RichFields {
		rich[id] = true
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Service{
		cfg:        cfg,
		store:      data,
		sessions:   sessions,
		signer:     auth.NewSigner(cfg.TokenSecret),
		passwords:  authpw.NewService(data),
		sanitizer:  bluemonday.UGCPolicy(),
		richFields: rich,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) CreateUser(ctx context.Context, req authpw.CreateUserRequest) (store.User, error) {
	return s.passwords.CreateUser(ctx, req)
}

// Login checks credentials and opens a session. Refused credentials come
// back as authpw.ErrInvalidCredentials or authpw.ErrDeactivated.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Username: username, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("ses")
	token, claims, err := s.signer.Issue(auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
	}, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveSession(ctx, auth.HashToken(jti), user, claims.ExpiresAt()); err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       jti,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

// SessionFromToken resolves a cookie token. Revoked sessions and deactivated
// users report auth.ErrInvalidToken.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.sessions.LookupSession(ctx, auth.HashToken(claims.JTI)); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if store.IsNotFound(err) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.JTI == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, auth.HashToken(sess.JTI))
}

// SaveAutosave replaces the caller's autosave with fields. Rich text fields
// are sanitised before they are stored.
func (s *Service) SaveAutosave(ctx context.Context, sess Session, fields map[string]string) (AutosaveStatus, error) {
	if len(fields) == 0 {
		return AutosaveStatus{}, validationError("No fields to save")
	}
	clean := make(map[string]string, len(fields))
	for id, value := range fields {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if s.richFields[id] {
			value = s.sanitizer.Sanitize(value)
		}
		clean[id] = value
	}
	if len(clean) == 0 {
		return AutosaveStatus{}, validationError("No fields to save")
	}

	savedAt, err := s.store.SaveAutosave(ctx, sess.UserID, clean)
	if err != nil {
		return AutosaveStatus{}, err
	}
	s.logger.Debug("autosave stored", "user", sess.UserID, "fields", len(clean))
	return AutosaveStatus{
		Available: true,
		Desc:      "Autosave stored at " + savedAt.Local().Format("15:04:05"),
	}, nil
}

func (s *Service) CheckAutosave(ctx context.Context, sess Session) (AutosaveStatus, error) {
	status, err := s.LoadAutosave(ctx, sess)
	status.Fields = nil
	return status, err
}

func (s *Service) LoadAutosave(ctx context.Context, sess Session) (AutosaveStatus, error) {
	saved, err := s.store.GetAutosave(ctx, sess.UserID)
	if store.IsNotFound(err) {
		return AutosaveStatus{Desc: "No autosave available"}, nil
	}
	if err != nil {
		return AutosaveStatus{}, err
	}
	return AutosaveStatus{
		Available: true,
		Desc:      "Autosave from " + saved.SavedAt.Local().Format("2 Jan 2006 15:04"),
		Fields:    saved.Fields,
	}, nil
}

// ParseSortOrder turns a comma separated list of section_message pairs into
// positioned entries. Section ids must not contain underscores; message ids
// may.
func ParseSortOrder(raw string) ([]store.SortEntry, error) {
	positions := map[string]int{}
	seen := map[string]bool{}
	var entries []store.SortEntry
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		section, message, ok := strings.Cut(pair, "_")
		if !ok || section == "" || message == "" {
			return nil, validationError("Malformed sort order entry " + pair)
		}
		if seen[message] {
			return nil, validationError("Message " + message + " appears more than once")
		}
		seen[message] = true
		entries = append(entries, store.SortEntry{SectionID: section, MessageID: message, Position: positions[section]})
		positions[section]++
	}
	if len(entries) == 0 {
		return nil, validationError("No sort order supplied")
	}
	return entries, nil
}

func (s *Service) SaveSortOrder(ctx context.Context, raw string) (string, error) {
	entries, err := ParseSortOrder(raw)
	if err != nil {
		return "", err
	}
	if err := s.store.ApplySortOrder(ctx, entries); err != nil {
		if store.IsNotFound(err) {
			return "", notFound("Section or message")
		}
		return "", err
	}
	return fmt.Sprintf("Sort order saved (%d messages)", len(entries)), nil
}

func (s *Service) ToggleReady(ctx context.Context, sess Session, issueID string) (bool, error) {
	if strings.TrimSpace(issueID) == "" {
		return false, validationError("No issue specified")
	}
	if _, err := s.store.GetIssue(ctx, issueID); err != nil {
		if store.IsNotFound(err) {
			return false, notFound("Issue")
		}
		return false, err
	}
	return s.store.ToggleReady(ctx, issueID, sess.UserID)
}

func (s *Service) Contributors(ctx context.Context, issueID string) ([]store.Contributor, error) {
	if strings.TrimSpace(issueID) == "" {
		return nil, validationError("No issue specified")
	}
	if _, err := s.store.GetIssue(ctx, issueID); err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Issue")
		}
		return nil, err
	}
	return s.store.ListContributors(ctx, issueID)
}

// QueueAction applies a queue operation to a message and returns a status
// description.
func (s *Service) QueueAction(ctx context.Context, sess Session, op, messageID, sectionID string) (string, error) {
	if strings.TrimSpace(messageID) == "" {
		return "", validationError("No message specified")
	}
	if op == "publish" && !s.Can(sess.Role, rbac.ActionPublish) {
		return "", errForbidden
	}

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if store.IsNotFound(err) {
			return "", notFound("Message")
		}
		return "", err
	}
	if message.Status == store.MessageDeleted {
		return "", conflict("Message has been deleted")
	}

	switch op {
	case "move":
		if strings.TrimSpace(sectionID) == "" {
			return "", validationError("No destination section specified")
		}
		if err := s.store.MoveMessage(ctx, messageID, sectionID); err != nil {
			if store.IsNotFound(err) {
				return "", notFound("Section")
			}
			return "", err
		}
		return "Message moved", nil
	case "delete":
		return "Message deleted", s.store.SetMessageStatus(ctx, messageID, store.MessageDeleted)
	case "reject":
		if message.Status == store.MessagePublished {
			return "", conflict("Published messages cannot be rejected")
		}
		return "Message rejected", s.store.SetMessageStatus(ctx, messageID, store.MessageRejected)
	case "publish":
		return "Message published", s.store.SetMessageStatus(ctx, messageID, store.MessagePublished)
	default:
		return "", notFound("Operation")
	}
}

// ArticleAction moves an article between list states and returns the new
// state. Authors may only change their own articles unless they can publish.
func (s *Service) ArticleAction(ctx context.Context, sess Session, op, articleID string) (string, error) {
	if strings.TrimSpace(articleID) == "" {
		return "", validationError("No article specified")
	}
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNotFound(err) {
			return "", notFound("Article")
		}
		return "", err
	}
	canPublish := s.Can(sess.Role, rbac.ActionPublish)
	if article.AuthorID != sess.UserID && !canPublish {
		return "", errForbidden
	}

	next, prior, err := nextArticleState(op, article, canPublish)
	if err != nil {
		return "", err
	}
	if next == article.State {
		return next, nil
	}
	if err := s.store.UpdateArticleState(ctx, articleID, next, prior); err != nil {
		return "", err
	}
	return next, nil
}

func nextArticleState(op string, article store.Article, canPublish bool) (state, prior string, err error) {
	current := article.State
	switch op {
	case "delete":
		if current == store.ArticleDeleted {
			return current, article.PriorState, nil
		}
		return store.ArticleDeleted, current, nil
	case "undelete":
		if current != store.ArticleDeleted {
			return "", "", conflict("Article is not deleted")
		}
		restored := article.PriorState
		if restored == "" {
			restored = store.ArticleVisible
		}
		return restored, "", nil
	case "hide":
		if current == store.ArticleDeleted {
			return "", "", conflict("Deleted articles cannot be hidden")
		}
		return store.ArticleHidden, "", nil
	case "unhide":
		if current != store.ArticleHidden {
			return current, "", nil
		}
		return store.ArticleVisible, "", nil
	case "publish":
		if !canPublish {
			return "", "", errForbidden
		}
		if current == store.ArticleDeleted {
			return "", "", conflict("Deleted articles cannot be published")
		}
		return store.ArticlePublished, "", nil
	default:
		return "", "", notFound("Operation")
	}
}

// RecipientCounts parses the comma separated method list and returns counts
// for yearID, ordered by method id.
func (s *Service) RecipientCounts(ctx context.Context, yearID, matrix string) ([]store.RecipientCount, error) {
	if strings.TrimSpace(yearID) == "" {
		return nil, validationError("No academic year specified")
	}
	unique := map[string]bool{}
	for _, id := range strings.Split(matrix, ",") {
		if id = strings.TrimSpace(id); id != "" {
			unique[id] = true
		}
	}
	if len(unique) == 0 {
		return nil, validationError("No recipients selected")
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return s.store.RecipientCounts(ctx, yearID, ids)
}
