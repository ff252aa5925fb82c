// Package main provides live2dctl, a command line client for the live2dd
// control API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-live2d/internal/httpc"
	"github.com/teslashibe/go-live2d/pkg/web"
)

// Version information (set at build time)
var version = "dev"

func main() {
	var server string

	rootCmd := &cobra.Command{
		Use:           "live2dctl",
		Short:         "Control a running live2dd",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", envOr("LIVE2D_SERVER", "http://localhost:8090"), "live2dd base URL")

	c := func() *client { return &client{base: strings.TrimRight(server, "/")} }

	// state command - print the model status
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show the model status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c().get(cmd.Context(), "/api/status", cmd.OutOrStdout())
		},
	}

	// list command - print motion and expression definitions
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List motion groups and expressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c().get(cmd.Context(), "/api/motions", cmd.OutOrStdout()); err != nil {
				return err
			}
			return c().get(cmd.Context(), "/api/expressions", cmd.OutOrStdout())
		},
	}

	// motion command - start a motion
	var (
		index    int
		priority string
		sound    string
	)
	motionCmd := &cobra.Command{
		Use:   "motion <group>",
		Short: "Start a motion (random within the group unless --index is set)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := web.StartMotionRequest{Priority: priority, Sound: sound}
			if cmd.Flags().Changed("index") {
				req.Index = &index
			}
			return c().post(cmd.Context(), "/api/motions/"+url.PathEscape(args[0]), req, cmd.OutOrStdout())
		},
	}
	motionCmd.Flags().IntVarP(&index, "index", "i", 0, "Motion index within the group")
	motionCmd.Flags().StringVarP(&priority, "priority", "p", "normal", "idle, normal or force")
	motionCmd.Flags().StringVar(&sound, "sound", "", "Sound URL overriding the motion's own")

	// stop command - stop every motion
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop every motion and its sound",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c().post(cmd.Context(), "/api/motions/stop", nil, cmd.OutOrStdout())
		},
	}

	// expression command - set an expression
	expressionCmd := &cobra.Command{
		Use:   "expression [name|index]",
		Short: "Set an expression, or a random one without an argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/expressions/random"
			if len(args) == 1 {
				path = "/api/expressions/" + url.PathEscape(args[0])
			}
			return c().post(cmd.Context(), path, nil, cmd.OutOrStdout())
		},
	}

	// reset command - show the default expression
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Show the default expression",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c().post(cmd.Context(), "/api/expressions/reset", nil, cmd.OutOrStdout())
		},
	}

	// script command - run a Lua script
	scriptCmd := &cobra.Command{
		Use:   "script <file|->",
		Short: "Run a Lua script on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src []byte
			var err error
			if args[0] == "-" {
				src, err = io.ReadAll(cmd.InOrStdin())
			} else {
				src, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			return c().post(cmd.Context(), "/api/scripts", web.ScriptRequest{Source: string(src)}, cmd.OutOrStdout())
		},
	}

	// watch command - stream lifecycle events
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream motion, expression and sound events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return c().stream(ctx, "/ws/events", cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(stateCmd, listCmd, motionCmd, stopCmd, expressionCmd, resetCmd, scriptCmd, watchCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// client talks to one live2dd.
type client struct {
	base string
}

func (c *client) get(ctx context.Context, path string, out io.Writer) error {
	data, err := httpc.GetBytes(ctx, c.base+path)
	if err != nil {
		return err
	}
	return printJSON(out, data)
}

func (c *client) post(ctx context.Context, path string, body any, out io.Writer) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	resp, err := httpc.PostJSON(ctx, c.base+path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			printJSON(out, data)
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	return printJSON(out, data)
}

// stream prints websocket messages from path until ctx ends or the server
// closes the connection.
func (c *client) stream(ctx context.Context, path string, out io.Writer) error {
	u, err := url.Parse(c.base + path)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, string(msg))
	}
}

func printJSON(out io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = out.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
