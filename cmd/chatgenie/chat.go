package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chatgenie/chatgenie"
	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/attachment"
	"github.com/chatgenie/chatgenie/auth"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/msgsync"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session. Lines starting with a slash are commands, anything else is sent
to the current conversation. Type /help for the list of commands.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var chatToken string

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatToken, "token", "", "resume the session with this token")
}

const chatHelp = `commands:
  /register <email> [display name]   create an account
  /login <email>                     sign in
  /logout                            sign out
  /token                             print the session token
  /channels                          list channels
  /create <name>                     create a channel
  /join <number or name>             open a channel
  /dm <email>                        open a private conversation
  /who                               list online users
  /send <text>                       send text
  /upload <file>                     send a file
  /quit                              exit without signing out
`

type chatREPL struct {
	Client *chatgenie.Client
	View   *chatgenie.View
	Out    io.Writer
	Input  *bufio.Scanner

	// Terminal reports whether passwords can be read from stdin without echo.
	Terminal bool

	outMutex sync.Mutex
	printed  map[model.Id]struct{}
	roster   *feed.Watcher

	onlineMutex sync.Mutex
	online      []*model.OnlineUser
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.LogLevel == "info" {
		// keep the conversation readable
		logger.SetLevel(logrus.WarnLevel)
	}

	backend, release, err := newBackend(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer release()

	client := chatgenie.NewClient(backend, chatgenie.Options{
		Secret:            jwtSecret(cfg, logger),
		SessionTTL:        cfg.SessionTTL,
		PresenceTTL:       cfg.PresenceTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		BcryptCost:        cfg.BcryptCost,
		Logger:            logger,
	})
	defer client.Close()

	if uploads, ok := backend.Blobs.(*attachment.HTTPBlobStore); ok {
		uploads.Token = client.Auth.Token
	}

	r := &chatREPL{
		Client:   client,
		View:     client.NewEngine(),
		Out:      cmd.OutOrStdout(),
		Input:    bufio.NewScanner(os.Stdin),
		Terminal: term.IsTerminal(int(os.Stdin.Fd())),
		printed:  map[model.Id]struct{}{},
	}
	defer r.View.Close()
	defer r.View.OnChange(r.printNew)()
	defer r.View.OnError(func(err error) {
		r.printf("! %v\n", err)
	})()
	defer client.Session.Attach(r)()

	ctx := cmd.Context()
	if chatToken != "" {
		if user, err := client.Session.Resume(ctx, chatToken); err != nil {
			r.printf("! %v\n", err)
		} else {
			r.signedIn(ctx, user)
		}
	}

	r.printf("%s", chatHelp)
	for r.Input.Scan() {
		line := r.Input.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if err := r.handle(ctx, line); err != nil {
			r.printf("! %v\n", err)
		}
	}
	r.stopRoster()
	return r.Input.Err()
}

func (r *chatREPL) printf(format string, args ...interface{}) {
	r.outMutex.Lock()
	defer r.outMutex.Unlock()
	fmt.Fprintf(r.Out, format, args...)
}

func (r *chatREPL) printNew(entries []msgsync.Entry) {
	r.outMutex.Lock()
	defer r.outMutex.Unlock()
	for _, entry := range entries {
		if _, ok := r.printed[entry.Id]; ok {
			continue
		}
		r.printed[entry.Id] = struct{}{}
		switch entry.Content.Kind {
		case model.KindFile:
			fmt.Fprintf(r.Out, "[%v] %v sent %v: %v\n", entry.Time.Local().Format("15:04"), entry.AuthorName, entry.Content.FileName, entry.Content.FileURL)
		default:
			fmt.Fprintf(r.Out, "[%v] %v: %v\n", entry.Time.Local().Format("15:04"), entry.AuthorName, entry.Content.Text)
		}
	}
}

// ClearTarget is invoked by the session on logout.
func (r *chatREPL) ClearTarget() {
	r.stopRoster()
	r.outMutex.Lock()
	r.printed = map[model.Id]struct{}{}
	r.outMutex.Unlock()
}

func (r *chatREPL) stopRoster() {
	if r.roster != nil {
		r.roster.Stop()
		r.roster = nil
	}
	r.setOnline(nil)
}

func (r *chatREPL) setOnline(users []*model.OnlineUser) {
	r.onlineMutex.Lock()
	defer r.onlineMutex.Unlock()
	r.online = users
}

// onlineUsers returns the latest roster: everyone online except the signed-in user.
func (r *chatREPL) onlineUsers() []*model.OnlineUser {
	r.onlineMutex.Lock()
	defer r.onlineMutex.Unlock()
	return r.online
}

func (r *chatREPL) readPassword() (string, error) {
	r.printf("password: ")
	if r.Terminal {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		r.printf("\n")
		return string(password), err
	}
	if !r.Input.Scan() {
		return "", io.ErrUnexpectedEOF
	}
	return r.Input.Text(), nil
}

func (r *chatREPL) signedIn(ctx context.Context, user *model.User) {
	r.printf("signed in as %v\n", user.Name())
	r.stopRoster()
	w, err := r.Client.Presence.WatchRoster(ctx, func(users []*model.OnlineUser) {
		r.setOnline(users)
		r.printf("* %v online\n", humanize.Comma(int64(len(users)+1)))
	}, func(err error) {
		r.printf("! %v\n", err)
	})
	if err != nil {
		r.printf("! %v\n", err)
		return
	}
	r.roster = w
}

func (r *chatREPL) requireUser() (*model.User, error) {
	if user := r.Client.Session.Current(); user != nil {
		return user, nil
	}
	return nil, apperr.Authentication("You must be signed in.", nil)
}

func (r *chatREPL) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		user, err := r.requireUser()
		if err != nil {
			return err
		} else if r.View.Target().IsZero() {
			return errors.New("join a channel or open a private conversation first")
		}
		return r.View.SendText(ctx, user, line)
	}

	command, arg := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		command, arg = line[:i], strings.TrimSpace(line[i+1:])
	}

	switch command {
	case "/help":
		r.printf("%s", chatHelp)
	case "/register":
		fields := strings.SplitN(arg, " ", 2)
		if fields[0] == "" {
			return errors.New("usage: /register <email> [display name]")
		}
		displayName := ""
		if len(fields) == 2 {
			displayName = fields[1]
		}
		password, err := r.readPassword()
		if err != nil {
			return err
		}
		user, err := r.Client.Session.Register(ctx, fields[0], password, displayName)
		if err != nil {
			return err
		}
		r.signedIn(ctx, user)
	case "/login":
		if arg == "" {
			return errors.New("usage: /login <email>")
		}
		password, err := r.readPassword()
		if err != nil {
			return err
		}
		user, err := r.Client.Session.Login(ctx, arg, password)
		if err != nil {
			return err
		}
		r.signedIn(ctx, user)
	case "/logout":
		if err := r.Client.Session.Logout(ctx); err != nil {
			return err
		}
		r.printf("signed out\n")
	case "/token":
		if _, err := r.requireUser(); err != nil {
			return err
		}
		r.printf("%v\n", r.Client.Auth.Token())
	case "/channels":
		channels, err := r.Client.Channels.List(ctx)
		if err != nil {
			return err
		}
		for i, channel := range channels {
			r.printf("%3d. #%v (created %v)\n", i+1, channel.Name, humanize.Time(channel.CreationTime))
		}
	case "/create":
		user, err := r.requireUser()
		if err != nil {
			return err
		}
		channel, err := r.Client.Channels.Create(ctx, arg, user.Id)
		if err != nil {
			return err
		} else if channel == nil {
			return errors.New("usage: /create <name>")
		}
		r.printf("created #%v\n", channel.Name)
	case "/join":
		if _, err := r.requireUser(); err != nil {
			return err
		}
		channel, err := r.findChannel(ctx, arg)
		if err != nil {
			return err
		}
		r.resetPrinted()
		r.printf("-- #%v --\n", channel.Name)
		return r.View.SetTarget(ctx, msgsync.ChannelTarget(channel.Id))
	case "/dm":
		user, err := r.requireUser()
		if err != nil {
			return err
		}
		peer, err := r.Client.Backend.Store.GetUserByEmail(auth.NormalizeEmail(arg))
		if err != nil {
			return err
		} else if peer == nil {
			return errors.Errorf("no user with email %q", arg)
		}
		r.resetPrinted()
		r.printf("-- private conversation with %v --\n", peer.Name())
		return r.View.SetTarget(ctx, msgsync.PrivateTarget(user, peer))
	case "/who":
		if _, err := r.requireUser(); err != nil {
			return err
		}
		users := r.onlineUsers()
		if len(users) == 0 {
			r.printf("  nobody else is online\n")
		}
		for _, user := range users {
			r.printf("  %v (active %v)\n", user.DisplayName, humanize.Time(user.LastActive))
		}
	case "/send":
		user, err := r.requireUser()
		if err != nil {
			return err
		}
		return r.View.SendText(ctx, user, arg)
	case "/upload":
		user, err := r.requireUser()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		if err := r.View.SendFile(ctx, user, attachment.File{
			Name: filepath.Base(arg),
			Data: data,
		}); err != nil {
			return err
		}
		r.printf("uploaded %v (%v)\n", filepath.Base(arg), humanize.Bytes(uint64(len(data))))
	default:
		return errors.Errorf("unknown command %v. type /help for help", command)
	}
	return nil
}

func (r *chatREPL) resetPrinted() {
	r.outMutex.Lock()
	defer r.outMutex.Unlock()
	r.printed = map[model.Id]struct{}{}
}

func (r *chatREPL) findChannel(ctx context.Context, arg string) (*model.Channel, error) {
	channels, err := r.Client.Channels.List(ctx)
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(channels) {
		return channels[n-1], nil
	}
	name := strings.TrimPrefix(arg, "#")
	for _, channel := range channels {
		if strings.EqualFold(channel.Name, name) {
			return channel, nil
		}
	}
	return nil, errors.Errorf("no channel named %q", arg)
}
