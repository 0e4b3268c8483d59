// Package profile runs the two-step profile update: upload the avatar
// first, then write the identity fields. A failure at either step
// aborts the whole operation; previous values stay in effect and the
// user sees a transient banner message.
package profile

import (
	"context"
	"sync"
	"time"

	"rownak/pkg/auth"
	"rownak/pkg/blob"
	"rownak/pkg/logger"
	"rownak/pkg/session"
	"rownak/pkg/store"
)

const defaultBannerTTL = 3 * time.Second

// BannerFn shows a transient status line; an empty string clears it.
type BannerFn func(msg string)

// Updater orchestrates profile updates.
type Updater struct {
	authc    *auth.Client
	blobc    *blob.Client
	sessions *session.Manager
	banner   BannerFn
	ttl      time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewUpdater builds an updater. banner may be nil.
func NewUpdater(authc *auth.Client, blobc *blob.Client, sessions *session.Manager, banner BannerFn) *Updater {
	return &Updater{authc: authc, blobc: blobc, sessions: sessions, banner: banner, ttl: defaultBannerTTL}
}

// show displays msg and schedules its auto-dismissal.
func (u *Updater) show(msg string) {
	if u.banner == nil {
		return
	}
	u.banner(msg)
	u.mu.Lock()
	if u.timer != nil {
		u.timer.Stop()
	}
	u.timer = time.AfterFunc(u.ttl, func() { u.banner("") })
	u.mu.Unlock()
}

// Update applies displayName and, when avatar is non-nil, a new avatar
// image. The upload must complete before the field write is issued.
func (u *Updater) Update(ctx context.Context, displayName string, avatar []byte, avatarName string) error {
	sess := u.sessions.Session()
	if sess == nil {
		return auth.ErrNoSession
	}

	avatarURL := sess.Identity.AvatarURL
	if avatar != nil {
		path := store.Join("avatars", sess.Identity.UID, avatarName)
		h, err := u.blobc.Upload(ctx, path, avatar)
		if err != nil {
			logger.Error("avatar_upload_failed", "uid", sess.Identity.UID, "error", err)
			u.show("Failed to update profile.")
			return err
		}
		avatarURL = u.blobc.PublicURL(h)
	}

	id, err := u.authc.Update(ctx, sess, displayName, avatarURL)
	if err != nil {
		logger.Error("profile_update_failed", "uid", sess.Identity.UID, "error", err)
		u.show("Failed to update profile.")
		return err
	}
	u.sessions.Apply(id)
	u.show("Profile updated successfully!")
	logger.Info("profile_updated", "uid", id.UID)
	return nil
}
