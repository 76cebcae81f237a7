package telegram

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"go.uber.org/zap"

	"github.com/AlibekAbdunasimov/remindo/internal/delivery"
	"github.com/AlibekAbdunasimov/remindo/internal/engine"
	"github.com/AlibekAbdunasimov/remindo/internal/store"
	"github.com/AlibekAbdunasimov/remindo/internal/tz"
)

// Pending state kinds used in conversational flows.
const (
	pendingTZ   = "await_tz_text"
	pendingEdit = "await_edit_text"
)

type pendingKey struct {
	chatID int64
	userID int64
}

type pendingState struct {
	kind       string
	reminderID int64  // pendingEdit only
	topicID    *int64 // topic the flow started in, replies go back there
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot    *tgbotapi.BotAPI
	log    *zap.Logger
	engine *engine.Engine
	repo   store.Repo
	tz     *tz.Resolver
	when   *when.Parser

	state map[pendingKey]pendingState
	mu    sync.RWMutex
}

// NewRouter creates a new Telegram router.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, eng *engine.Engine, repo store.Repo, resolver *tz.Resolver) *Router {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Router{
		bot:    bot,
		log:    log,
		engine: eng,
		repo:   repo,
		tz:     resolver,
		when:   w,
		state:  make(map[pendingKey]pendingState),
	}
}

// setPending sets a pending state for a (chat, user) pair (non-persistent, in-memory).
func (r *Router) setPending(k pendingKey, s pendingState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[k] = s
}

// getPending returns the current pending state for a (chat, user) pair.
func (r *Router) getPending(k pendingKey) (pendingState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.state[k]
	return s, ok
}

// clearPending clears a pending state for a (chat, user) pair.
func (r *Router) clearPending(k pendingKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, k)
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd Update) {
	if upd.Message != nil {
		r.handleMessage(ctx, upd.Message)
		return
	}
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, upd.CallbackQuery)
		return
	}
}

func (r *Router) handleMessage(ctx context.Context, m *Message) {
	if m.From == nil || m.Chat == nil {
		return
	}

	if m.IsCommand() {
		switch m.Command() {
		case "start", "help":
			r.handleHelp(m)
		case "remind":
			r.handleRemind(ctx, m)
		case "list":
			r.handleList(ctx, m)
		case "delete":
			r.handleDelete(ctx, m)
		case "edit":
			r.handleEdit(ctx, m)
		case "settimezone":
			r.handleSetTimezone(ctx, m)
		case "note":
			r.handleNote(ctx, m)
		case "notes":
			r.handleNotes(ctx, m)
		case "delnote":
			r.handleDelNote(ctx, m)
		case "admin_list":
			r.handleAdminList(ctx, m)
		case "admin_delete":
			r.handleAdminDelete(ctx, m)
		default:
			// Unknown command, ignore. Group chats see every slash command.
		}
		return
	}

	// Free-form text only matters inside a pending flow.
	r.handleFreeForm(ctx, m)
}

func (r *Router) handleCallback(ctx context.Context, cb *CallbackQuery) {
	data := cb.Data
	if cb.Message == nil || cb.Message.Chat == nil || cb.From == nil {
		return
	}

	switch {
	case data == "tz:custom":
		r.askCustomTZ(ctx, cb)
	case strings.HasPrefix(data, "tz:"):
		r.handleTZCallback(ctx, cb, strings.TrimPrefix(data, "tz:"))
	default:
		// Unknown callback, answer to stop the spinner and move on.
		_ = r.answerCallback(cb.ID, "")
	}
}

var _ delivery.Sender = (*Router)(nil)
