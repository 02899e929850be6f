package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	"github.com/apexalgo/ticktrader/internal/types"
)

const reconnectDelay = 2 * time.Second

// streamNotifications keeps a hub subscription alive for the life of the
// program, feeding every event into the model.
func streamNotifications(ctx context.Context, url string, program *tea.Program) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			program.Send(StreamErrorMsg{Err: err})

			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		program.Send(ConnectedMsg{})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				_ = conn.Close()
				program.Send(StreamErrorMsg{Err: err})

				break
			}

			var n types.Notification
			if err := json.Unmarshal(data, &n); err != nil {
				continue
			}

			program.Send(NotificationMsg{Notification: n})
		}
	}
}

func monitorAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(NewModel(url), tea.WithAltScreen())

	go streamNotifications(streamCtx, url, program)

	_, err := program.Run()

	return err
}

func main() {
	cmd := &cli.Command{
		Name:  "monitor",
		Usage: "Watch live trading sessions from the notification hub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "Websocket URL of the notification hub",
				Value:   "ws://localhost:8099/ws/notifications",
			},
		},
		Action: monitorAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
