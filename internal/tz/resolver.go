package tz

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AlibekAbdunasimov/remindo/internal/domain"
)

// PrefStore is the slice of the repository the resolver needs.
type PrefStore interface {
	Timezone(ctx context.Context, entityID int64, kind domain.EntityKind) (string, error)
	AllTimezones(ctx context.Context) ([]domain.TimezonePref, error)
}

// Resolver computes the effective IANA timezone for a (user, chat) pair.
//
// Precedence: an explicitly-set personal timezone wins everywhere, including
// groups; otherwise groups fall back to the chat's configured timezone or the
// chat default; private chats fall back to the user default. A stored value
// equal to the default sentinel counts as unset, so callers who need to know
// whether a user ever configured anything must ask the store, not this cache.
//
// The caches live for the process lifetime and are read and written from the
// primary loop only; default values are never cached so that a later explicit
// choice of the default value is not masked.
type Resolver struct {
	store         PrefStore
	log           *zap.Logger
	defaultUserTZ string
	defaultChatTZ string

	userCache map[int64]string
	chatCache map[int64]string
}

// New creates a Resolver with empty caches.
func New(store PrefStore, log *zap.Logger, defaultUserTZ, defaultChatTZ string) *Resolver {
	return &Resolver{
		store:         store,
		log:           log,
		defaultUserTZ: defaultUserTZ,
		defaultChatTZ: defaultChatTZ,
		userCache:     make(map[int64]string),
		chatCache:     make(map[int64]string),
	}
}

// Warm preloads the caches from the store. Called once at startup.
func (r *Resolver) Warm(ctx context.Context) error {
	prefs, err := r.store.AllTimezones(ctx)
	if err != nil {
		return err
	}
	for _, p := range prefs {
		switch p.Kind {
		case domain.EntityUser:
			if p.Timezone != r.defaultUserTZ {
				r.userCache[p.EntityID] = p.Timezone
			}
		case domain.EntityChat:
			if p.Timezone != r.defaultChatTZ {
				r.chatCache[p.EntityID] = p.Timezone
			}
		}
	}
	return nil
}

// Invalidate drops a cached entry after a preference changes.
func (r *Resolver) Invalidate(entityID int64, kind domain.EntityKind) {
	switch kind {
	case domain.EntityUser:
		delete(r.userCache, entityID)
	case domain.EntityChat:
		delete(r.chatCache, entityID)
	}
}

// Resolve returns the effective timezone for userID acting in the given chat.
// chatType is the Telegram chat type ("private", "group", "supergroup", ...).
// Resolution never fails: unreadable or unparseable values degrade to UTC.
func (r *Resolver) Resolve(ctx context.Context, userID int64, chatType string, chatID int64) string {
	userTZ := r.lookup(ctx, userID, domain.EntityUser, r.userCache, r.defaultUserTZ)
	if userTZ != "" && userTZ != r.defaultUserTZ {
		return r.validated(userTZ)
	}

	if chatType == "group" || chatType == "supergroup" {
		chatTZ := r.lookup(ctx, chatID, domain.EntityChat, r.chatCache, r.defaultChatTZ)
		if chatTZ != "" {
			return r.validated(chatTZ)
		}
		return r.defaultChatTZ
	}

	return r.defaultUserTZ
}

func (r *Resolver) lookup(ctx context.Context, id int64, kind domain.EntityKind, cache map[int64]string, def string) string {
	if v, ok := cache[id]; ok {
		return v
	}
	v, err := r.store.Timezone(ctx, id, kind)
	if err != nil {
		r.log.Error("timezone lookup failed",
			zap.Error(err), zap.Int64("entityID", id), zap.String("kind", string(kind)))
		return ""
	}
	if v != "" && v != def {
		cache[id] = v
	}
	return v
}

func (r *Resolver) validated(tzName string) string {
	if _, err := time.LoadLocation(tzName); err != nil {
		r.log.Warn("stored timezone is unparseable, using UTC",
			zap.String("tz", tzName), zap.Error(err))
		return "UTC"
	}
	return tzName
}
