package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/event"
)

const defaultServerURL = "http://localhost:8080"

func newInjectCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Send events to a running bridge",
	}
	cmd.PersistentFlags().StringVar(&server, "server", defaultServerURL, "bridge base URL")

	var agent, role string
	thought := &cobra.Command{
		Use:   "thought <content>",
		Short: "Inject an agent thought",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(cmd.Context(), server, "/api/inject_thought", map[string]string{
				"agent":   agent,
				"content": strings.Join(args, " "),
				"role":    role,
			})
		},
	}
	thought.Flags().StringVar(&agent, "agent", "", "agent name")
	thought.Flags().StringVar(&role, "role", "", "message role (default assistant)")
	_ = thought.MarkFlagRequired("agent")

	logCmd := &cobra.Command{
		Use:   "log <content>",
		Short: "Inject a log line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(cmd.Context(), server, "/api/log", map[string]string{
				"content": strings.Join(args, " "),
			})
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print events from the event channel until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchEvents(cmd.Context(), server, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(thought, logCmd, watch)
	return cmd
}

func postJSON(ctx context.Context, server, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: %s: %s", path, resp.Status, strings.TrimSpace(string(respBody)))
	}
	pslog.Ctx(ctx).Info("event injected", "path", path)
	return nil
}

func eventsURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/brain"
	return u.String(), nil
}

func watchEvents(ctx context.Context, server string, out io.Writer) error {
	target, err := eventsURL(server)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		e, err := event.Decode(data)
		if err != nil {
			pslog.Ctx(ctx).Debug("undecodable event", "err", err)
			continue
		}
		fmt.Fprintln(out, formatEvent(e))
	}
}

func formatEvent(e event.Event) string {
	switch v := e.(type) {
	case event.Log:
		return "log       " + v.Content
	case event.Thought:
		return fmt.Sprintf("thought   %s (%s): %s", v.Agent, v.Role, v.Content)
	case event.Terminal:
		return "terminal  " + v.Line
	case event.Code:
		return "code      " + v.Content
	case event.Telemetry:
		return fmt.Sprintf("telemetry cpu=%.1f%% mem=%.1f%% agents=%d", v.CPU, v.Memory, v.Agents)
	default:
		return string(e.Type())
	}
}
