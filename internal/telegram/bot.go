package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"recipe-assistant/internal/agent"
	"recipe-assistant/internal/config"
	"recipe-assistant/internal/conversation"
	"recipe-assistant/internal/inventory"
	"recipe-assistant/internal/metrics"
	"recipe-assistant/internal/recipe"
	"recipe-assistant/internal/tools"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// Telegram rejects messages above 4096 characters.
	maxMessageLength = 4000
	maxTurns         = 20
	runTimeout       = 2 * time.Minute
)

// Sender is the part of the Telegram API the bot talks to, e.g. *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// ChatRunner answers a conversation, e.g. *agent.Loop.
type ChatRunner interface {
	Run(ctx context.Context, conv *conversation.Conversation, emit func(agent.Event) error) (agent.Result, error)
}

// SessionStore keeps one conversation per chat.
type SessionStore interface {
	Load(ctx context.Context, chatID int64) (*conversation.Conversation, error)
	Save(ctx context.Context, chatID int64, conv *conversation.Conversation) error
	Delete(ctx context.Context, chatID int64) error
}

// UsageReporter backs the admin /metrics report.
type UsageReporter interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
	GetAgentUsage(ctx context.Context, days int) ([]metrics.AgentUsage, error)
}

// Deps are the collaborators of the bot.
type Deps struct {
	Chat     ChatRunner
	Sessions SessionStore
	Shopping *inventory.Service
	Pantry   *inventory.Service
	Usage    UsageReporter
	// DataPath is measured for the health report.
	DataPath string
}

// Bot wraps the Telegram API and the recipe assistant.
type Bot struct {
	api      Sender
	deps     Deps
	allowed  map[int64]bool
	adminID  int64
	editStep time.Duration
	log      *log.Logger

	// One lock per chat so session load, run and save never interleave.
	// Entries are never removed; the allow list bounds them.
	chatMu    sync.Mutex
	chatLocks map[int64]*sync.Mutex
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, deps Deps) (*Bot, error) {
	if err := cfg.RequireTelegram(); err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Printf("Authorized on account %s", api.Self.UserName)

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook config: %w", err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	log.Printf("Webhook set response: %s", resp.Description)

	return newBot(api, deps, cfg.TelegramAllowedUserIDs, cfg.AdminTelegramID), nil
}

func newBot(api Sender, deps Deps, allowed []int64, adminID int64) *Bot {
	b := &Bot{
		api:      api,
		deps:     deps,
		allowed:   make(map[int64]bool, len(allowed)),
		adminID:   adminID,
		editStep:  time.Second,
		log:       log.New(log.Writer(), "[TELEGRAM] ", log.LstdFlags),
		chatLocks: make(map[int64]*sync.Mutex),
	}
	for _, id := range allowed {
		b.allowed[id] = true
	}
	return b
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.log.Printf("Error parsing update: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	if update.Message == nil || update.Message.From == nil {
		return
	}
	go b.HandleMessage(context.Background(), update.Message)
}

// lockChat blocks until no other message of chatID touches its session and
// returns the unlock func.
func (b *Bot) lockChat(chatID int64) func() {
	b.chatMu.Lock()
	mu, ok := b.chatLocks[chatID]
	if !ok {
		mu = &sync.Mutex{}
		b.chatLocks[chatID] = mu
	}
	b.chatMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// HandleMessage answers one incoming message. Messages from users outside the
// allow list are dropped.
func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !b.allowed[msg.From.ID] {
		b.log.Printf("⚠️ Unauthorized access attempt from UserID: %d (@%s)", msg.From.ID, msg.From.UserName)
		return
	}

	chatID := msg.Chat.ID
	switch strings.TrimSpace(msg.Text) {
	case "":
		return
	case "/start", "/help":
		b.reply(chatID, helpText)
	case "/reset":
		unlock := b.lockChat(chatID)
		defer unlock()
		if err := b.deps.Sessions.Delete(ctx, chatID); err != nil {
			b.log.Printf("Failed to reset session for chat %d: %v", chatID, err)
		}
		b.reply(chatID, "🧹 Conversation cleared.")
	case "/list":
		b.replyInventory(ctx, chatID, b.deps.Shopping)
	case "/pantry":
		b.replyInventory(ctx, chatID, b.deps.Pantry)
	case "/metrics":
		if msg.From.ID != b.adminID {
			b.reply(chatID, "⛔ *Access Denied*: Admin only.")
			return
		}
		b.handleMetricsCommand(ctx, chatID)
	default:
		b.handleChat(ctx, chatID, msg.Text)
	}
}

const helpText = "🧑‍🍳 *Recipe Assistant*\n\n" +
	"Ask for recipe ideas or tell me what to put on your shopping list or in your pantry.\n\n" +
	"/list shows the shopping list\n/pantry shows the pantry\n/reset starts a new conversation"

func (b *Bot) replyInventory(ctx context.Context, chatID int64, svc *inventory.Service) {
	if svc == nil {
		b.reply(chatID, "Not available.")
		return
	}
	icon := "🛒"
	if svc.Kind() == inventory.Pantry {
		icon = "🥫"
	}
	b.reply(chatID, fmt.Sprintf("%s *%s*\n\n%s", icon, svc.Kind().Title(), inventory.FormatList(svc.List(ctx))))
}

// streamer edits the placeholder message as text arrives, at most once per step.
type streamer struct {
	bot       *Bot
	chatID    int64
	messageID int
	text      strings.Builder
	lastSent  string
	lastEdit  time.Time
	recipes   []recipe.Match
	seen      map[string]bool
}

func (s *streamer) handle(ev agent.Event) error {
	switch ev.Type {
	case agent.EventTextDelta:
		s.text.WriteString(ev.Text)
		if time.Since(s.lastEdit) >= s.bot.editStep {
			s.flush(false)
		}
	case agent.EventToolResult:
		s.collectRecipes(ev.Result)
	}
	return nil
}

func (s *streamer) collectRecipes(res *conversation.ToolResult) {
	if res == nil || res.IsError || res.Name != tools.SearchRecipesTool {
		return
	}
	var out tools.SearchOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		s.bot.log.Printf("Failed to decode search result: %v", err)
		return
	}
	for _, m := range out.Recipes {
		if s.seen[m.ID] {
			continue
		}
		s.seen[m.ID] = true
		s.recipes = append(s.recipes, m)
	}
}

// flush pushes the current text. The final edit is sent as Markdown and falls
// back to plain text when Telegram rejects the formatting.
func (s *streamer) flush(final bool) {
	text := truncate(s.text.String())
	if strings.TrimSpace(text) == "" || (!final && text == s.lastSent) {
		return
	}
	s.lastEdit = time.Now()
	edit := tgbotapi.NewEditMessageText(s.chatID, s.messageID, text)
	if final {
		edit.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := s.bot.api.Send(edit); err != nil {
		if !final {
			s.bot.log.Printf("Failed to edit message: %v", err)
			return
		}
		edit.ParseMode = ""
		if _, err := s.bot.api.Send(edit); err != nil {
			s.bot.log.Printf("Failed to send final answer: %v", err)
			return
		}
	}
	s.lastSent = text
}

func (b *Bot) handleChat(ctx context.Context, chatID int64, text string) {
	placeholder := tgbotapi.NewMessage(chatID, "🧑‍🍳 *Thinking...*")
	placeholder.ParseMode = tgbotapi.ModeMarkdown
	sent, err := b.api.Send(placeholder)
	if err != nil {
		b.log.Printf("Failed to send initial reply: %v", err)
		return
	}

	unlock := b.lockChat(chatID)
	defer unlock()

	conv, err := b.deps.Sessions.Load(ctx, chatID)
	if err != nil {
		b.log.Printf("Failed to load session for chat %d, starting fresh: %v", chatID, err)
	}
	if conv == nil {
		conv = conversation.New()
	}
	conv.Append(conversation.UserTurn(text))
	conv.Trim(maxTurns)

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	s := &streamer{bot: b, chatID: chatID, messageID: sent.MessageID, seen: map[string]bool{}}
	result, err := b.deps.Chat.Run(runCtx, conv, s.handle)
	if err != nil {
		b.log.Printf("Error answering chat %d: %v", chatID, err)
		if s.text.Len() == 0 {
			safeErr := strings.ReplaceAll(err.Error(), "`", "'")
			s.text.WriteString(fmt.Sprintf("❌ *Something went wrong:*\n```\n%v\n```", safeErr))
		}
	}
	if result.Finish == agent.FinishStepLimit && s.text.Len() == 0 {
		s.text.WriteString("⏳ I ran out of steps before finishing. Please try a simpler request.")
	}
	if s.text.Len() == 0 {
		s.text.WriteString("🤷 I have nothing to add.")
	}
	s.flush(true)

	if len(s.recipes) > 0 {
		b.reply(chatID, formatRecipeCards(s.recipes))
	}

	if err == nil {
		if err := b.deps.Sessions.Save(ctx, chatID, conv); err != nil {
			b.log.Printf("Failed to save session for chat %d: %v", chatID, err)
		}
	}
}

// formatRecipeCards renders the recipes found during a run as one message.
func formatRecipeCards(matches []recipe.Match) string {
	var sb strings.Builder
	sb.WriteString("📖 *Recipes*\n")
	for i, m := range matches {
		sb.WriteString(fmt.Sprintf("\n*%d. %s*", i+1, m.Name))
		if m.IsFavourite {
			sb.WriteString(" ❤️")
		}
		if m.Rating > 0 {
			sb.WriteString(" " + strings.Repeat("⭐", m.Rating))
		}
		sb.WriteString("\n")

		var facts []string
		if m.Calories != nil {
			facts = append(facts, fmt.Sprintf("🔥 %.0f kcal", *m.Calories))
		}
		if total := totalMinutes(m); total > 0 {
			facts = append(facts, fmt.Sprintf("⏱ %d min", total))
		}
		if m.Protein != nil {
			facts = append(facts, fmt.Sprintf("💪 %.0fg protein", *m.Protein))
		}
		if len(facts) > 0 {
			sb.WriteString(strings.Join(facts, " · ") + "\n")
		}
		if len(m.PhotoURLs) > 0 {
			sb.WriteString(fmt.Sprintf("[Photo](%s)\n", m.PhotoURLs[0]))
		}
	}
	return sb.String()
}

func totalMinutes(m recipe.Match) int {
	total := 0
	if m.PrepTimeMinutes != nil {
		total += *m.PrepTimeMinutes
	}
	if m.CookTimeMinutes != nil {
		total += *m.CookTimeMinutes
	}
	return total
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageLength {
		return text
	}
	return string(r[:maxMessageLength]) + "…"
}

func (b *Bot) handleMetricsCommand(ctx context.Context, chatID int64) {
	if b.deps.Usage == nil {
		b.reply(chatID, "❌ Metrics are not available.")
		return
	}
	usage, err := b.deps.Usage.GetDailyUsage(ctx, 7)
	if err != nil {
		b.log.Printf("Failed to fetch daily usage: %v", err)
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}
	agents, err := b.deps.Usage.GetAgentUsage(ctx, 7)
	if err != nil {
		b.log.Printf("Failed to fetch agent usage: %v", err)
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}

	b.reply(chatID, formatMetricsReport(usage, agents, metrics.GetSysHealth(b.deps.DataPath)))
}

func formatMetricsReport(usage []metrics.DailyUsage, agents []metrics.AgentUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	if len(agents) > 0 {
		sb.WriteString("\n🤖 *By Agent*\n")
		for _, a := range agents {
			sb.WriteString(fmt.Sprintf("• %s: %d tokens in %d calls (avg %dms)\n", a.AgentName, a.TotalTokens, a.Calls, a.AvgLatencyMS))
		}
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Uptime: %s\n", health.Uptime))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", health.DataDiskSize))
	return sb.String()
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		b.log.Printf("Failed to send message to chat %d: %v", chatID, err)
	}
}
