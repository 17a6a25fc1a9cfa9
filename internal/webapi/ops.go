package webapi

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"newsagent/api/internal/apixml"
)

// AutosaveResult is the server's view of the caller's autosave.
type AutosaveResult struct {
	Available bool
	Desc      string
	// Fields is only populated by AutoLoad.
	Fields map[string]string
}

func autosaveResult(doc *apixml.Document) *AutosaveResult {
	return &AutosaveResult{
		Available: doc.Result.Attr("autosave") == apixml.AutosaveAvailable,
		Desc:      doc.Result.Attr("desc"),
		Fields:    doc.Result.FieldValues(),
	}
}

func (c *Client) AutoLoad(ctx context.Context) (*AutosaveResult, error) {
	doc, err := c.Call(ctx, "webapi", "auto.load", nil)
	if err != nil {
		return nil, err
	}
	return autosaveResult(doc), nil
}

func (c *Client) AutoCheck(ctx context.Context) (*AutosaveResult, error) {
	doc, err := c.Call(ctx, "webapi", "auto.check", nil)
	if err != nil {
		return nil, err
	}
	res := autosaveResult(doc)
	res.Fields = nil
	return res, nil
}

// AutoSave posts each field as a form value named after its id.
func (c *Client) AutoSave(ctx context.Context, values map[string]string) (*AutosaveResult, error) {
	if len(values) == 0 {
		return nil, &ValidationError{Message: "no fields to save"}
	}
	payload := url.Values{}
	for id, value := range values {
		payload.Set(id, value)
	}
	doc, err := c.Call(ctx, "webapi", "auto.save", payload)
	if err != nil {
		return nil, err
	}
	res := autosaveResult(doc)
	res.Fields = nil
	return res, nil
}

// SortOrder persists the full order of the newsletter sections as
// "section_message" pairs. The server splits each pair at its first
// underscore, so both halves must be non-empty and a comma would split the
// pair itself.
func (c *Client) SortOrder(ctx context.Context, pairs []string) (string, error) {
	for _, pair := range pairs {
		section, message, ok := strings.Cut(pair, "_")
		if !ok || section == "" || message == "" || strings.Contains(pair, ",") {
			return "", &ValidationError{Field: "sortorder", Message: "malformed pair " + pair}
		}
	}
	doc, err := c.Call(ctx, "newsletter", "sortorder", url.Values{
		"sortorder": {strings.Join(pairs, ",")},
	})
	if err != nil {
		return "", err
	}
	return doc.Result.Attr("desc"), nil
}

// ToggleReady flips the caller's readiness for a newsletter issue and returns
// the new state.
func (c *Client) ToggleReady(ctx context.Context, issueID string) (bool, string, error) {
	if strings.TrimSpace(issueID) == "" {
		return false, "", &ValidationError{Field: "issue", Message: "issue is required"}
	}
	doc, err := c.Call(ctx, "newsletter", "toggleready", url.Values{"issue": {issueID}})
	if err != nil {
		return false, "", err
	}
	return doc.Result.Attr("ready") == apixml.Yes, doc.Result.Attr("desc"), nil
}

func (c *Client) Contributors(ctx context.Context, issueID string) ([]apixml.Contributor, error) {
	if strings.TrimSpace(issueID) == "" {
		return nil, &ValidationError{Field: "issue", Message: "issue is required"}
	}
	doc, err := c.Call(ctx, "newsletter", "contributors", url.Values{"issue": {issueID}})
	if err != nil {
		return nil, err
	}
	return doc.Result.Contributors, nil
}

type QueueOp string

const (
	QueueMove    QueueOp = "move"
	QueueDelete  QueueOp = "delete"
	QueueReject  QueueOp = "reject"
	QueuePublish QueueOp = "publish"
)

// QueueAction applies op to a queued message. section is only used by move.
func (c *Client) QueueAction(ctx context.Context, op QueueOp, messageID, section string) (string, error) {
	switch op {
	case QueueMove:
		if strings.TrimSpace(section) == "" {
			return "", &ValidationError{Field: "section", Message: "a destination section is required"}
		}
	case QueueDelete, QueueReject, QueuePublish:
	default:
		return "", &ValidationError{Field: "op", Message: "unknown queue operation " + string(op)}
	}
	if strings.TrimSpace(messageID) == "" {
		return "", &ValidationError{Field: "id", Message: "message id is required"}
	}
	payload := url.Values{"id": {messageID}}
	if op == QueueMove {
		payload.Set("section", section)
	}
	doc, err := c.Call(ctx, "queue", string(op), payload)
	if err != nil {
		return "", err
	}
	return doc.Result.Attr("desc"), nil
}

type ArticleOp string

const (
	ArticleDelete   ArticleOp = "delete"
	ArticleUndelete ArticleOp = "undelete"
	ArticleHide     ArticleOp = "hide"
	ArticleUnhide   ArticleOp = "unhide"
	ArticlePublish  ArticleOp = "publish"
)

// ArticleAction changes an article's state and returns the resulting state.
func (c *Client) ArticleAction(ctx context.Context, op ArticleOp, articleID string) (string, error) {
	switch op {
	case ArticleDelete, ArticleUndelete, ArticleHide, ArticleUnhide, ArticlePublish:
	default:
		return "", &ValidationError{Field: "op", Message: "unknown article operation " + string(op)}
	}
	if strings.TrimSpace(articleID) == "" {
		return "", &ValidationError{Field: "id", Message: "article id is required"}
	}
	doc, err := c.Call(ctx, "articlelist", string(op), url.Values{"id": {articleID}})
	if err != nil {
		return "", err
	}
	return doc.Result.Attr("state"), nil
}

// RecipientCount asks how many people each notification method would reach
// for the given academic year.
func (c *Client) RecipientCount(ctx context.Context, yearID string, methodIDs []string) ([]apixml.Recipient, error) {
	if len(methodIDs) == 0 {
		return nil, &ValidationError{Field: "matrix", Message: "no recipients selected"}
	}
	ids := append([]string(nil), methodIDs...)
	sort.Strings(ids)
	doc, err := c.Call(ctx, "webapi", "rcount", url.Values{
		"yearid": {yearID},
		"matrix": {strings.Join(ids, ",")},
	})
	if err != nil {
		return nil, err
	}
	return doc.Result.Recipients, nil
}
