package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/voxhealth/voxlink/internal/config"
	"github.com/voxhealth/voxlink/internal/logging"
	"github.com/voxhealth/voxlink/internal/power"
	"github.com/voxhealth/voxlink/internal/protocol"
	"github.com/voxhealth/voxlink/internal/session"
	"github.com/voxhealth/voxlink/internal/transport"
	"github.com/voxhealth/voxlink/internal/ui"
	"github.com/voxhealth/voxlink/internal/updater"
)

var (
	flagURL          string
	flagToken        string
	flagTransport    string
	flagPractice     int
	flagConversation string
	flagPatient      string
	flagTimezone     string
	flagDebug        bool
)

func init() {
	connectCmd.Flags().StringVar(&flagURL, "url", "", "API base URL (e.g. https://api.voxlink.health)")
	connectCmd.Flags().StringVar(&flagToken, "token", "", "Authentication token")
	connectCmd.Flags().StringVar(&flagTransport, "transport", "", "Preferred transport: websocket, sse, or polling")
	connectCmd.Flags().IntVar(&flagPractice, "practice", 0, "Practice identifier")
	connectCmd.Flags().StringVar(&flagConversation, "conversation", "", "Conversation identifier")
	connectCmd.Flags().StringVar(&flagPatient, "patient", "", "Patient identifier (optional)")
	connectCmd.Flags().StringVar(&flagTimezone, "timezone", "", "IANA timezone (default: UTC)")
	connectCmd.Flags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(connectCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open a realtime session with the VoxLink service",
	Long: `Establishes a realtime session using the preferred transport and keeps it
alive, rotating to the next transport with exponential backoff whenever an
established connection drops.

Incoming transcript, status, and error messages print to the console.
Typed lines are sent as transcript messages. Commands:
  /approve <id>    approve a pending speak proposal
  /deny <id>       deny a pending speak proposal
  /listen on|off   toggle server-side listening
  /quit            disconnect and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.Banner(version)

		// Check for updates (best-effort)
		if info := updater.CheckForUpdate(version); info != nil {
			ui.UpdateNotice(version, info.Latest, info.DownloadURL)
		}

		cfg, err := config.Load(flagURL, flagToken, flagTransport, flagPractice)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if flagConversation == "" {
			return fmt.Errorf("a conversation id is required (--conversation)")
		}

		tz := cfg.Timezone
		if flagTimezone != "" {
			tz = flagTimezone
		}

		log := logging.New("voxlink", flagDebug)
		coord := session.NewCoordinator(cfg, session.DefaultFactory(cfg, log), log)

		fmt.Fprintln(os.Stderr)
		ui.KeyValue("Endpoint", cfg.BaseURL)
		ui.KeyValue("Transport", cfg.Transport)
		ui.Separator()

		inhibitor := power.New()
		defer inhibitor.Stop()

		coord.OnMessage(func(m protocol.Message) {
			switch m.Type {
			case protocol.TypeTranscript:
				ui.Transcript(m.Role, m.Text)
			case protocol.TypeStatus:
				ui.Info("%s", m.Message)
			case protocol.TypeError:
				ui.Error("%s", m.Message)
			case protocol.TypeSpeakProposal:
				ui.Warn("Speak proposal %s: %s  (/approve or /deny)", m.ProposalID, m.Summary)
			}
		})

		coord.OnStateChange(stateHandler(log, inhibitor))

		sc := &protocol.SessionConfig{
			PracticeID:     cfg.PracticeID,
			ConversationID: flagConversation,
			PatientID:      flagPatient,
			Timezone:       tz,
			AuthToken:      cfg.AuthToken,
		}

		ui.Info("Connecting...")
		if err := coord.Connect(context.Background(), sc); err != nil {
			ui.Error("%v", err)
			// Reconnection only engages for sessions that were open; a
			// first connect failure is surfaced and the process exits.
			return fmt.Errorf("could not establish session")
		}

		// Handle graceful shutdown
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr)
			ui.Warn("Shutting down...")
			_ = coord.Disconnect()
			close(done)
		}()

		go consoleLoop(coord)

		<-done
		return nil
	},
}

// stateHandler builds the connection-state observer. State callbacks arrive
// on transport and reconnection goroutines, so the open/reopen edge is
// tracked atomically.
func stateHandler(log zerolog.Logger, inhibitor power.Inhibitor) session.StateHandler {
	var wasOpen atomic.Bool
	return func(st session.ConnectionState) {
		switch st.Status {
		case transport.StatusOpen:
			if wasOpen.CompareAndSwap(false, true) {
				ui.Success("Connected %s", ui.Dim("("+string(st.Transport)+")"))
				if err := inhibitor.Start(); err != nil {
					log.Debug().Err(err).Msg("sleep inhibition unavailable")
				}
			}
		case transport.StatusConnecting:
			wasOpen.Store(false)
			if st.ReconnectAttempts > 0 {
				ui.Info("Reconnecting (attempt %d, %s)...", st.ReconnectAttempts, st.Transport)
			}
		case transport.StatusClosed, transport.StatusError:
			wasOpen.Store(false)
		}
	}
}

// parseListenArg maps the /listen console argument onto the wire flag.
func parseListenArg(arg string) (enabled, ok bool) {
	switch strings.ToLower(arg) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

// consoleLoop reads stdin: plain lines become transcript messages, slash
// commands drive the proposal lifecycle and listening mode.
func consoleLoop(coord *session.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			_ = coord.Disconnect()
			return
		case strings.HasPrefix(line, "/approve "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/approve "))
			if err := coord.ApproveProposal(id); err != nil {
				ui.Error("%v", err)
			}
		case strings.HasPrefix(line, "/deny "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/deny "))
			if err := coord.DenyProposal(id); err != nil {
				ui.Error("%v", err)
			}
		case strings.HasPrefix(line, "/listen "):
			enabled, ok := parseListenArg(strings.TrimSpace(strings.TrimPrefix(line, "/listen ")))
			if !ok {
				ui.Error("usage: /listen on|off")
				continue
			}
			if err := coord.SendMessage(protocol.NewListeningMode(enabled)); err != nil {
				ui.Error("%v", err)
			}
		default:
			msg := protocol.NewTranscriptMessage(protocol.RoleUser, line)
			if err := coord.SendMessage(msg); err != nil {
				ui.Error("%v", err)
			}
		}
	}
}
