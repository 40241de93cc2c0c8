// Package presence manages who is online. Going online arms a liveness marker that a heartbeat keeps
// alive; a Reaper running next to the backing store marks users offline once their marker disappears.
package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/auth"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/liveness"
	"github.com/chatgenie/chatgenie/metrics"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/store"
)

const (
	DefaultTTL               = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// Service is the identity and presence service of one client.
type Service struct {
	Auth     *auth.Provider
	Store    *store.Store
	Liveness liveness.Registry
	Broker   feed.Broker
	Logger   logrus.FieldLogger

	// TTL is how long the liveness marker survives without a heartbeat. If zero, DefaultTTL is used.
	TTL time.Duration

	// HeartbeatInterval is how often the marker is refreshed. If zero, DefaultHeartbeatInterval is used.
	HeartbeatInterval time.Duration

	mutex     sync.Mutex
	heartbeat *heartbeat
}

type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *heartbeat) stop() {
	h.cancel()
	<-h.done
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

func (s *Service) ttl() time.Duration {
	if s.TTL == 0 {
		return DefaultTTL
	}
	return s.TTL
}

func (s *Service) heartbeatInterval() time.Duration {
	if s.HeartbeatInterval == 0 {
		return DefaultHeartbeatInterval
	}
	return s.HeartbeatInterval
}

func livenessKey(userId model.Id) string {
	return string(userId)
}

// Register creates an account, gives it a display name, and marks it online. The presence record exists
// by the time Register returns.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*model.User, error) {
	user, err := s.Auth.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if displayName = strings.TrimSpace(displayName); displayName != "" {
		updated, err := s.Auth.UpdateDisplayName(ctx, displayName)
		if err != nil {
			return nil, s.abandonSession(ctx, user.Id, err)
		}
		user = updated
	}

	if err := s.goOnline(ctx, user.Id, "register"); err != nil {
		return nil, s.abandonSession(ctx, user.Id, err)
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.Auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.goOnline(ctx, user.Id, "login"); err != nil {
		return nil, s.abandonSession(ctx, user.Id, err)
	}
	return user, nil
}

// Resume restores a previous session and marks it online.
func (s *Service) Resume(ctx context.Context, token string) (*model.User, error) {
	user, err := s.Auth.Resume(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.goOnline(ctx, user.Id, "resume"); err != nil {
		return nil, s.abandonSession(ctx, user.Id, err)
	}
	return user, nil
}

// Logout marks the user offline and then ends the session. The session is ended even if the presence
// write fails, in which case the write's error is returned.
func (s *Service) Logout(ctx context.Context) error {
	var firstErr error

	if user := s.Auth.Current(); user != nil {
		s.stopHeartbeat()

		if _, err := s.Store.SetPresence(user.Id, false); err != nil {
			firstErr = errors.Wrap(err, "error marking user offline")
		} else {
			metrics.PresenceTransitions.WithLabelValues("offline", "logout").Inc()
		}

		if err := s.Liveness.Disarm(ctx, livenessKey(user.Id)); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "error disarming liveness marker")
		}
	}

	if err := s.Auth.SignOut(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Current returns the signed-in user or nil.
func (s *Service) Current() *model.User {
	return s.Auth.Current()
}

// OnSessionChange registers f to be invoked synchronously whenever the signed-in identity changes.
func (s *Service) OnSessionChange(f func(*model.User)) (unsubscribe func()) {
	return s.Auth.OnSessionChange(f)
}

// WatchRoster delivers the users that are online, other than the current user, initially and after
// every presence change.
func (s *Service) WatchRoster(ctx context.Context, onChange func([]*model.OnlineUser), onError func(error)) (*feed.Watcher, error) {
	self := s.Auth.Current()
	if self == nil {
		return nil, apperr.Authentication("You must be signed in.", nil)
	}

	return feed.Watch(ctx, s.Broker, []string{store.UsersTopic}, func(ctx context.Context) ([]*model.OnlineUser, error) {
		users, err := s.Store.GetOnlineUsers()
		if err != nil {
			return nil, apperr.Subscription(store.UsersTopic, err)
		}
		ret := make([]*model.OnlineUser, 0, len(users))
		for _, user := range users {
			if user.Id != self.Id {
				ret = append(ret, user)
			}
		}
		return ret, nil
	}, onChange, onError)
}

// Close stops the heartbeat without changing presence, as an abrupt disconnect would.
func (s *Service) Close() {
	s.stopHeartbeat()
}

// abandonSession ends a session whose sign-in could not be completed and returns err.
func (s *Service) abandonSession(ctx context.Context, userId model.Id, err error) error {
	s.stopHeartbeat()
	if signOutErr := s.Auth.SignOut(ctx); signOutErr != nil {
		s.logger().WithField("user_id", userId).WithError(signOutErr).Warn("unable to end abandoned session")
	}
	return err
}

func (s *Service) goOnline(ctx context.Context, userId model.Id, cause string) error {
	if err := s.Liveness.Arm(ctx, livenessKey(userId), s.ttl()); err != nil {
		return errors.Wrap(err, "error arming liveness marker")
	}
	if _, err := s.Store.SetPresence(userId, true); err != nil {
		if disarmErr := s.Liveness.Disarm(ctx, livenessKey(userId)); disarmErr != nil {
			s.logger().WithField("user_id", userId).WithError(disarmErr).Warn("unable to disarm liveness marker")
		}
		return errors.Wrap(err, "error marking user online")
	}
	metrics.PresenceTransitions.WithLabelValues("online", cause).Inc()
	s.startHeartbeat(userId)
	return nil
}

func (s *Service) startHeartbeat(userId model.Id) {
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mutex.Lock()
	prev := s.heartbeat
	s.heartbeat = hb
	s.mutex.Unlock()

	if prev != nil {
		prev.stop()
	}

	go s.runHeartbeat(ctx, hb.done, userId)
}

func (s *Service) stopHeartbeat() {
	s.mutex.Lock()
	hb := s.heartbeat
	s.heartbeat = nil
	s.mutex.Unlock()

	if hb != nil {
		hb.stop()
	}
}

func (s *Service) runHeartbeat(ctx context.Context, done chan struct{}, userId model.Id) {
	defer close(done)

	logger := s.logger().WithField("user_id", userId)
	ticker := time.NewTicker(s.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.Liveness.Refresh(ctx, livenessKey(userId), s.ttl())
			if err == liveness.ErrNotArmed {
				logger.Warn("liveness marker expired, rearming")
				err = s.rearm(ctx, userId)
			}
			if err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("unable to refresh liveness marker")
			}
		}
	}
}

// rearm restores a marker that expired while the session was still alive, and with it the online flag
// in case a reaper got there first.
func (s *Service) rearm(ctx context.Context, userId model.Id) error {
	if err := s.Liveness.Arm(ctx, livenessKey(userId), s.ttl()); err != nil {
		return errors.Wrap(err, "error rearming liveness marker")
	}
	if _, err := s.Store.SetPresence(userId, true); err != nil {
		return errors.Wrap(err, "error marking user online")
	}
	metrics.PresenceTransitions.WithLabelValues("online", "rearm").Inc()
	return nil
}
