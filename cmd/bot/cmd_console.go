package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	chatdomain "github.com/boddenberg/wa-commerce-bot/internal/chat/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/store"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/transport"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	consoleFrom string
	consoleName string
)

func init() {
	consoleCmd.Flags().StringVar(&consoleFrom, "from", "51999999999", "phone number the console speaks as")
	consoleCmd.Flags().StringVar(&consoleName, "name", "Consola", "push name of the console user")
	rootCmd.AddCommand(consoleCmd)
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the bot from the terminal using an in-memory session",
	Long: `console feeds stdin lines to the bot as WhatsApp text messages and
prints the replies. Sessions live in memory and vanish on exit.

  /image <path> [caption]   send a local image
  /audio <path>             send a voice note
  /quit                     exit`,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Info logs would interleave with the replies.
	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	logger := observability.NewLogger(level)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	core, err := buildApp(ctx, cfg, store.NewMemory(), transport.NewConsole(out), observability.NewMetrics(), logger)
	if err != nil {
		return err
	}
	defer core.shutdown(2 * time.Second)

	from := transport.SenderID(consoleFrom)
	fmt.Fprintf(out, "wabot console (%s profile) as %s. /quit to exit.\n\n", core.router.ProfileName(), from)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}

		msg, err := consoleMessage(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		msg.ID = uuid.NewString()
		msg.RemoteID = from
		msg.PushName = consoleName

		core.router.HandleEvent(ctx, &chatdomain.InboundEvent{
			Type:     chatdomain.EventNotify,
			Messages: []chatdomain.InboundMessage{msg},
		})
		if !core.lanes.WaitIdle(cfg.LLMTimeout + cfg.HTTPTimeout) {
			logger.Warn("reply still pending", zap.String("input", line))
		}
	}
	return scanner.Err()
}

// consoleMessage turns one input line into an inbound message.
func consoleMessage(line string) (chatdomain.InboundMessage, error) {
	if !strings.HasPrefix(line, "/") {
		return chatdomain.InboundMessage{Kind: chatdomain.KindText, Text: line}, nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	path, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if path == "" {
		return chatdomain.InboundMessage{}, fmt.Errorf("usage: %s <path>", cmd)
	}
	if _, err := os.Stat(path); err != nil {
		return chatdomain.InboundMessage{}, fmt.Errorf("cannot read %s: %w", path, err)
	}

	switch cmd {
	case "/image":
		return chatdomain.InboundMessage{
			Kind:         chatdomain.KindImage,
			ImageCaption: strings.TrimSpace(caption),
			MediaRef:     "file://" + path,
			MediaType:    "image/jpeg",
		}, nil
	case "/audio":
		return chatdomain.InboundMessage{
			Kind:      chatdomain.KindAudio,
			MediaRef:  "file://" + path,
			MediaType: "audio/ogg",
		}, nil
	default:
		return chatdomain.InboundMessage{}, fmt.Errorf("unknown command %s", cmd)
	}
}
