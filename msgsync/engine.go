package msgsync

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/attachment"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/metrics"
	"github.com/chatgenie/chatgenie/model"
)

// Engine maintains the message list of one conversation view. Attaching it to a new target tears down
// the previous subscription before the new one is made, and snapshots that arrive for a target that is
// no longer active are dropped.
type Engine struct {
	Source   Source
	Broker   feed.Broker
	Uploader *attachment.Uploader
	Logger   logrus.FieldLogger

	mutex           sync.Mutex
	target          Target
	generation      uint64
	watcher         *feed.Watcher
	messages        []Entry
	changeListeners map[int]func([]Entry)
	errorListeners  map[int]func(error)
	nextListener    int
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// SetTarget attaches the engine to a conversation. The message list is rebuilt from the new target's
// initial snapshot, which has been applied by the time SetTarget returns successfully. If the
// subscription can't be established, the list is left empty and the error is also passed to the error
// listeners.
func (e *Engine) SetTarget(ctx context.Context, target Target) error {
	if target.IsZero() {
		e.ClearTarget()
		return nil
	}

	generation, hadMessages := e.reset(target)
	if hadMessages {
		e.emitChange(generation, nil)
	}

	w, err := Subscribe(ctx, e.Source, e.Broker, target, func(entries []Entry) {
		e.applySnapshot(generation, entries)
	}, func(err error) {
		e.logger().WithError(err).WithField("target", target.Key()).Warn("message subscription error")
		e.emitError(generation, err)
	})
	if err != nil {
		e.emitError(generation, err)
		return err
	}

	e.mutex.Lock()
	if e.generation != generation {
		e.mutex.Unlock()
		w.Stop()
		return nil
	}
	e.watcher = w
	e.mutex.Unlock()
	return nil
}

// ClearTarget detaches the engine from its conversation and empties the message list.
func (e *Engine) ClearTarget() {
	generation, hadMessages := e.reset(Target{})
	if hadMessages {
		e.emitChange(generation, nil)
	}
}

// reset makes target the active one and stops the previous watch. It returns the new generation.
func (e *Engine) reset(target Target) (uint64, bool) {
	e.mutex.Lock()
	e.generation++
	generation := e.generation
	prev := e.watcher
	hadMessages := len(e.messages) > 0
	e.watcher = nil
	e.target = target
	e.messages = nil
	e.mutex.Unlock()

	if prev != nil {
		prev.Stop()
	}
	return generation, hadMessages
}

func (e *Engine) applySnapshot(generation uint64, entries []Entry) {
	e.mutex.Lock()
	if e.generation != generation {
		e.mutex.Unlock()
		metrics.SnapshotsDropped.Inc()
		return
	}
	e.messages = entries
	e.mutex.Unlock()

	metrics.SnapshotsApplied.Inc()
	e.emitChange(generation, entries)
}

func (e *Engine) emitChange(generation uint64, entries []Entry) {
	e.mutex.Lock()
	if e.generation != generation {
		e.mutex.Unlock()
		return
	}
	listeners := make([]func([]Entry), 0, len(e.changeListeners))
	for _, listener := range e.changeListeners {
		listeners = append(listeners, listener)
	}
	e.mutex.Unlock()

	for _, listener := range listeners {
		listener(copyEntries(entries))
	}
}

func (e *Engine) emitError(generation uint64, err error) {
	e.mutex.Lock()
	if e.generation != generation {
		e.mutex.Unlock()
		return
	}
	listeners := make([]func(error), 0, len(e.errorListeners))
	for _, listener := range e.errorListeners {
		listeners = append(listeners, listener)
	}
	e.mutex.Unlock()

	for _, listener := range listeners {
		listener(err)
	}
}

func copyEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	return append([]Entry(nil), entries...)
}

// Messages returns a copy of the current message list.
func (e *Engine) Messages() []Entry {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return copyEntries(e.messages)
}

func (e *Engine) Target() Target {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.target
}

// OnChange registers f to receive every new message list. Listeners are called from subscription
// goroutines and must not call SetTarget, ClearTarget or Close.
func (e *Engine) OnChange(f func([]Entry)) (unsubscribe func()) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.changeListeners == nil {
		e.changeListeners = map[int]func([]Entry){}
	}
	id := e.nextListener
	e.nextListener++
	e.changeListeners[id] = f
	return func() {
		e.mutex.Lock()
		defer e.mutex.Unlock()
		delete(e.changeListeners, id)
	}
}

// OnError registers f to receive subscription errors of the active target.
func (e *Engine) OnError(f func(error)) (unsubscribe func()) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.errorListeners == nil {
		e.errorListeners = map[int]func(error){}
	}
	id := e.nextListener
	e.nextListener++
	e.errorListeners[id] = f
	return func() {
		e.mutex.Lock()
		defer e.mutex.Unlock()
		delete(e.errorListeners, id)
	}
}

// SendText appends the trimmed text to the active conversation. Blank text or the lack of a target makes
// it a no-op. The message shows up in the list once the store's snapshot includes it.
func (e *Engine) SendText(ctx context.Context, author *model.User, text string) error {
	target := e.Target()
	text = strings.TrimSpace(text)
	if text == "" || target.IsZero() {
		return nil
	}
	return e.send(ctx, target, author, model.TextContent(text))
}

// SendFile uploads the file and then appends a message referring to it. Without a target it is a no-op.
// If the append fails the uploaded blob is left behind.
func (e *Engine) SendFile(ctx context.Context, author *model.User, file attachment.File) error {
	target := e.Target()
	if target.IsZero() {
		return nil
	}
	if author == nil {
		return apperr.Authentication("You must be signed in.", nil)
	}
	if e.Uploader == nil {
		return errors.New("no uploader configured")
	}

	ref, err := e.Uploader.Upload(ctx, target.ScopeId(), file)
	if err != nil {
		return err
	}
	return e.send(ctx, target, author, model.FileContent(file.Name, ref))
}

func (e *Engine) send(ctx context.Context, target Target, author *model.User, content model.Content) error {
	if author == nil {
		return apperr.Authentication("You must be signed in.", nil)
	}

	if target.IsPrivate() {
		peer := target.Peer()
		if err := e.Source.AddPrivateMessage(&model.PrivateMessage{
			Id:             model.GenerateId(),
			RevisionNumber: 1,
			SenderUserId:   author.Id,
			SenderName:     author.Name(),
			ReceiverUserId: peer.Id,
			ReceiverName:   peer.Name(),
			Content:        content,
		}); err != nil {
			return apperr.Write("Unable to send the message.", err)
		}
		metrics.MessagesSent.WithLabelValues("private", string(content.Kind)).Inc()
		return nil
	}

	if err := e.Source.AddMessage(&model.Message{
		Id:             model.GenerateId(),
		RevisionNumber: 1,
		ChannelId:      target.ChannelId(),
		AuthorUserId:   author.Id,
		AuthorName:     author.Name(),
		Content:        content,
	}); err != nil {
		return apperr.Write("Unable to send the message.", err)
	}
	metrics.MessagesSent.WithLabelValues("channel", string(content.Kind)).Inc()
	return nil
}

// Close detaches the engine and drops its listeners.
func (e *Engine) Close() {
	e.reset(Target{})

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.changeListeners = nil
	e.errorListeners = nil
}
