package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/chatgenie/chatgenie/feedws"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/msgsync"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print snapshots of a conversation streamed by a chatgenie server",
	Long: `Print snapshots of a conversation streamed by a chatgenie server.

Example usage:
  chatgenie watch --token <token> --channel <channel id>
  chatgenie watch --token <token> --peer <user id> --public-url https://chat.example.com`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchTokenFlag   string
	watchChannelFlag string
	watchPeerFlag    string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchTokenFlag, "token", "", "session token, as printed by /token in chat (required)")
	watchCmd.Flags().StringVar(&watchChannelFlag, "channel", "", "channel id to watch")
	watchCmd.Flags().StringVar(&watchPeerFlag, "peer", "", "user id of the other side of a private conversation")
}

func feedURL(publicURL string) string {
	url := strings.TrimSuffix(publicURL, "/") + "/feed"
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if watchTokenFlag == "" {
		return errors.New("--token is required")
	} else if (watchChannelFlag == "") == (watchPeerFlag == "") {
		return errors.New("exactly one of --channel or --peer is required")
	}

	client, err := feedws.Dial(cmd.Context(), feedURL(cfg.PublicURL), watchTokenFlag)
	if err != nil {
		return err
	}
	client.Logger = logger
	defer client.Close()

	out := cmd.OutOrStdout()
	failed := make(chan error, 1)
	if _, err := client.Start(feedws.StartPayload{
		ChannelId: model.Id(watchChannelFlag),
		PeerId:    model.Id(watchPeerFlag),
	}, func(entries []msgsync.Entry) {
		fmt.Fprintf(out, "-- %v messages --\n", len(entries))
		for _, entry := range entries {
			text := entry.Content.Text
			if entry.Content.Kind == model.KindFile {
				text = entry.Content.FileName + " " + entry.Content.FileURL
			}
			fmt.Fprintf(out, "%v %v: %v\n", entry.Time.Local().Format("2006-01-02 15:04:05"), entry.AuthorName, text)
		}
	}, func(err error) {
		select {
		case failed <- err:
		default:
		}
	}); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)

	select {
	case <-signals:
		return nil
	case err := <-failed:
		return err
	case <-client.Done():
		return feedws.ErrConnectionClosed
	}
}
