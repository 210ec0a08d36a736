package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/weiawesome/chat-relay/internal/app"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/deadletter"
	"github.com/weiawesome/chat-relay/internal/identity"
	"github.com/weiawesome/chat-relay/pkg/log"
)

var (
	configPath string
	configName string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chat-relay",
	Short: "Real-time chat relay",
	Long: `chat-relay accepts websocket sessions, appends chat messages to a
durable per-room log, publishes them to a broker keyed by room and fans
consumed records out to every subscriber of the room.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFrom(configPath, configName)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		log.Init(cfg.Log)
		return nil
	},
}

var serveBridge bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve websocket sessions and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx, serveBridge)
	},
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Consume the broker topic and forward records to the cluster bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		l := log.L()
		l.Info().Str("driver", cfg.Broker.Driver).Str("topic", cfg.Broker.Kafka.Topic).Msg("starting bridge")
		return a.RunBridge(ctx)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Issue a session token for a username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Identity.Secret == "" {
			return errors.New("identity.secret must be set to issue tokens")
		}
		manager, err := identity.NewJWTManager(cfg.Identity)
		if err != nil {
			return err
		}
		token, expiresAt, err := manager.Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect dead-lettered records",
}

var (
	deadLetterRoom   string
	deadLetterOutput string
)

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List letters written by the storage dead-letter sink",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DeadLetter.Driver != "storage" {
			return fmt.Errorf("deadletter.driver is %q, only the storage sink can be listed", cfg.DeadLetter.Driver)
		}
		ctx := cmd.Context()

		sink, err := deadletter.Open(ctx, cfg.DeadLetter, nil)
		if err != nil {
			return err
		}
		defer sink.Close()

		lister, ok := sink.(deadletter.Lister)
		if !ok {
			return errors.New("dead-letter sink does not support listing")
		}
		letters, err := lister.List(ctx, deadLetterRoom)
		if err != nil {
			return err
		}

		switch deadLetterOutput {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, letter := range letters {
				if err := enc.Encode(letter); err != nil {
					return err
				}
			}
		case "table":
			renderLetters(cmd.OutOrStdout(), letters)
		default:
			return fmt.Errorf("unknown output format: %s", deadLetterOutput)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d letter(s)\n", len(letters))
		return nil
	},
}

func renderLetters(w io.Writer, letters []deadletter.Letter) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Failed At", "Room", "Message ID", "Stage", "Attempts", "Partition", "Offset", "Reason"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, l := range letters {
		table.Append([]string{
			l.FailedAt.Format(time.RFC3339),
			l.RoomCode,
			l.MessageID,
			l.Stage,
			strconv.Itoa(l.Attempts),
			strconv.Itoa(int(l.Partition)),
			strconv.FormatInt(l.Offset, 10),
			l.Reason,
		})
	}
	table.Render()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config", "directory holding the config file")
	rootCmd.PersistentFlags().StringVar(&configName, "config-name", "config", "config file name without extension")

	serveCmd.Flags().BoolVar(&serveBridge, "bridge", true, "run the broker consumer in this process")
	deadLetterListCmd.Flags().StringVar(&deadLetterRoom, "room", "", "only list letters for this room")
	deadLetterListCmd.Flags().StringVarP(&deadLetterOutput, "output", "o", "table", "output format: table or json")

	deadLetterCmd.AddCommand(deadLetterListCmd)
	rootCmd.AddCommand(serveCmd, bridgeCmd, tokenCmd, deadLetterCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
