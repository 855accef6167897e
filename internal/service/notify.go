package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/httpx"
)

const telegramAPIBase = "https://api.telegram.org"

// DefaultTemplate is the completion message used until an operator saves a
// custom one. Placeholders are substituted with the finished unit's fields.
const DefaultTemplate = "Work on \"{{issue_title}}\" ({{repo_name}}) finished with status {{status}} at {{completed_at}}.\n\n{{result}}"

// SettingStore reads and writes operator-editable settings.
type SettingStore interface {
	Get(ctx context.Context, key, fallback string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Notifier sends work completion messages to Telegram. The message template
// and chat id are read from settings on every send so operator edits take
// effect immediately. It implements CompletionNotifier.
type Notifier struct {
	client   *httpx.Client
	settings SettingStore
	botToken string
	// defaultChatID is the fallback when no chat id setting is stored.
	defaultChatID string
}

// NewNotifier creates a Telegram notifier. With an empty bot token every
// notification becomes a no-op.
func NewNotifier(client *httpx.Client, settings SettingStore, botToken, defaultChatID string) *Notifier {
	return &Notifier{
		client:        client,
		settings:      settings,
		botToken:      botToken,
		defaultChatID: defaultChatID,
	}
}

// NotifyCompletion renders the completion template for the finished unit and
// sends it to the configured chat.
func (n *Notifier) NotifyCompletion(ctx context.Context, unit *domain.WorkUnit, issue *domain.Issue) error {
	if n.botToken == "" {
		return nil
	}

	chatID, err := n.settings.Get(ctx, domain.SettingTelegramChatID, n.defaultChatID)
	if err != nil {
		return fmt.Errorf("load chat id: %w", err)
	}
	if chatID == "" {
		return nil
	}

	template, err := n.settings.Get(ctx, domain.SettingTelegramTemplate, DefaultTemplate)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	return n.send(ctx, chatID, RenderTemplate(template, unit, issue))
}

// SendTest sends an arbitrary message to the configured chat so operators
// can verify their Telegram settings.
func (n *Notifier) SendTest(ctx context.Context, text string) error {
	if n.botToken == "" {
		return fmt.Errorf("%w: telegram bot token not configured", domain.ErrPreconditionFailed)
	}

	chatID, err := n.settings.Get(ctx, domain.SettingTelegramChatID, n.defaultChatID)
	if err != nil {
		return fmt.Errorf("load chat id: %w", err)
	}
	if chatID == "" {
		return fmt.Errorf("%w: telegram chat id not configured", domain.ErrPreconditionFailed)
	}

	return n.send(ctx, chatID, text)
}

func (n *Notifier) send(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, n.botToken)
	resp, err := n.client.DoJSON(ctx, http.MethodPost, endpoint,
		func() io.Reader { return bytes.NewReader(payload) }, nil)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := httpx.ReadBody(resp)
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, body)
	}
	resp.Body.Close()
	return nil
}

// RenderTemplate substitutes the completion placeholders into template.
// Unknown placeholders are left as-is.
func RenderTemplate(template string, unit *domain.WorkUnit, issue *domain.Issue) string {
	repoName := "-"
	title := ""
	if issue != nil {
		title = issue.Title
		if issue.RepoFullName != nil {
			repoName = *issue.RepoFullName
		}
	}

	completedAt := ""
	if unit.CompletedAt != nil {
		completedAt = unit.CompletedAt.Format(time.RFC3339)
	}
	result := ""
	if unit.Result != nil {
		result = *unit.Result
	}

	r := strings.NewReplacer(
		"{{issue_title}}", title,
		"{{repo_name}}", repoName,
		"{{status}}", string(unit.Status),
		"{{completed_at}}", completedAt,
		"{{result}}", result,
	)
	return r.Replace(template)
}
