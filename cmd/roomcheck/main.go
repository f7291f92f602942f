package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/rules"
	"github.com/park285/cheese-rooms/internal/transport"
)

func main() {
	wsURL := os.Getenv("ROOM_SERVER_URL")
	roomID := os.Getenv("ROOMCHECK_ROOM")
	memberID := os.Getenv("ROOMCHECK_MEMBER")
	origin := os.Getenv("ROOMCHECK_ORIGIN")

	if wsURL == "" {
		log.Fatal("ROOM_SERVER_URL is required")
	}
	if memberID == "" {
		memberID = "u_roomcheck"
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if origin != "" {
			m["Origin"] = origin
		}
		return m
	}

	ws := transport.NewWebSocket(wsURL, 5, time.Second, transport.WithHeaderProvider(headers))
	ws.OnStateChange(func(state transport.ConnState) {
		log.Printf("WS state: %s", state)
	})
	r := rules.New()
	ws.OnMessage(func(env *transport.Envelope) {
		switch env.T {
		case transport.TypeState:
			st, err := room.Decode(env.State, r)
			if err != nil {
				log.Printf("WS state rejected room=%s: %v", env.RoomID, err)
				return
			}
			version, _ := st.VersionValue()
			fmt.Printf("WS state room=%s v=%d members=%d plies=%d result=%q\n", st.RoomID, version, len(st.Members), len(st.HistorySAN), st.Result)
		case transport.TypeChatMsg:
			if env.Chat != nil {
				fmt.Printf("WS chat room=%s from=%s text=%q\n", env.RoomID, env.Chat.From, env.Chat.Txt)
			}
		case transport.TypeError:
			fmt.Printf("WS error ref=%s code=%s msg=%q\n", env.Ref, env.Code, env.Error)
		default:
			fmt.Printf("WS frame t=%s room=%s\n", env.T, env.RoomID)
		}
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	if roomID != "" {
		req := transport.NewRequests(ws, memberID)
		if err := req.Join(cctx, room.NormalizeCode(roomID), room.Mode1v1, "roomcheck"); err != nil {
			log.Printf("join error: %v", err)
		}
	} else {
		log.Println("ROOMCHECK_ROOM not set; skipping join")
	}

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	if roomID != "" {
		_ = transport.NewRequests(ws, memberID).Leave(context.Background(), room.NormalizeCode(roomID))
	}
	_ = ws.Close(context.Background())
}
