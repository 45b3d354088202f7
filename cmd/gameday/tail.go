package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nghyane/gameday-net/internal/stream"
	"github.com/nghyane/gameday-net/pkg/gameday"
)

// doTail connects to topic and prints state changes and messages until ctx
// ends or the client gives up reconnecting.
func doTail(ctx context.Context, client *gameday.Client, topic string) error {
	states := client.States()
	defer states.Close()
	msgs := client.Messages()
	defer msgs.Close()

	if err := client.Connect(ctx, topic); err != nil {
		return fmt.Errorf("connect to %s: %w", topic, err)
	}
	defer client.Disconnect()

	seenConnected := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-states.C():
			if !ok {
				return nil
			}
			fmt.Printf("# %s\n", s)
			if s.Phase == stream.Connected {
				seenConnected = true
			}
			if s.Phase == stream.Disconnected && seenConnected {
				return errors.New("stream closed after reconnect attempts were exhausted")
			}
		case m, ok := <-msgs.C():
			if !ok {
				return nil
			}
			fmt.Println(describe(m))
		}
	}
}

func describe(m gameday.Message) string {
	switch v := m.(type) {
	case stream.ScoreUpdate:
		return fmt.Sprintf("score %d-%d", v.Home, v.Away)
	case stream.LevelUpdate:
		return fmt.Sprintf("level %d", v.Value)
	case stream.Announcement:
		return "announcement: " + v.Text
	case stream.StatusChange:
		return "status: " + v.Status
	case stream.ActivationUpdate:
		return "activation: " + string(v.Payload)
	case stream.Raw:
		return fmt.Sprintf("raw (%d bytes): %s", len(v.Data), v.Data)
	default:
		return fmt.Sprintf("%#v", m)
	}
}
