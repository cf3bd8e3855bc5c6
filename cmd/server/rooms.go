package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dkeye/classmeet/internal/core"
)

func newRoomsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List the live rooms of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rooms, err := fetchRooms(addr)
			if err != nil {
				return err
			}
			renderRooms(cmd.OutOrStdout(), rooms)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server base URL")
	return cmd
}

func fetchRooms(addr string) ([]core.RoomInfo, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/api/rooms")
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: %s", resp.Status)
	}
	var rooms []core.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func renderRooms(w io.Writer, rooms []core.RoomInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Room", "Participants", "Waiting", "Breakouts", "Creator", "Recording", "Created"})
	for _, r := range rooms {
		t.AppendRow(table.Row{
			r.ID,
			fmt.Sprintf("%d/%d", r.ParticipantCount, r.Settings.MaxParticipants),
			r.WaitingCount,
			len(r.Breakouts),
			r.Creator,
			r.Recording,
			r.CreatedAt.Format(time.DateTime),
		})
	}
	t.AppendFooter(table.Row{"Total", len(rooms)})
	t.Render()
}
