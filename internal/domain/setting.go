package domain

// Setting is a persisted key-value configuration entry, used for
// operator-editable values such as the notification template and chat id.
type Setting struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// Setting keys used by the notifier.
const (
	SettingTelegramTemplate = "telegram_template"
	SettingTelegramChatID   = "telegram_chat_id"
)
