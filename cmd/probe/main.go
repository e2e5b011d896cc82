// Command probe connects to the real-time server as one user. It prints
// every event it receives and can place or auto-accept a call, which makes
// it a smoke test for signaling and media setup.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/adapters/rtc"
	"github.com/dasnai88/KTK-messedger-sub000/internal/client"
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	server := flag.String("server", "ws://localhost:8080/api/ws", "websocket endpoint")
	token := flag.String("token", os.Getenv("KTK_TOKEN"), "bearer token")
	self := flag.String("user", "probe", "user id, only used in logs")
	callee := flag.String("call", "", "user id to call after connecting")
	accept := flag.Bool("accept", true, "accept incoming calls")
	hold := flag.Duration("hold", 10*time.Second, "hang up this long after the call connects, 0 keeps it up")
	stun := flag.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "ICE servers")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sc, err := client.Dial(ctx, *server, *token)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer sc.Close()
	log.Info().Str("server", *server).Msg("connected")

	cfg := webrtc.Configuration{}
	if len(*stun) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: *stun}}
	}
	media := func(peer domain.UserID) (core.MediaConnection, error) {
		return rtc.NewPeerConnection(cfg, *self+"->"+string(peer))
	}

	var agent *client.CallAgent
	agent = client.NewCallAgent(domain.UserID(*self), sc, media,
		client.WithStateHook(func(s domain.CallState, peer domain.UserID) {
			log.Info().Str("state", string(s)).Str("peer", string(peer)).Msg("call state")
			if s == domain.CallInCall && *hold > 0 {
				time.AfterFunc(*hold, func() { _ = agent.Hangup() })
			}
		}),
		client.WithEndHook(func(s client.Summary) {
			log.Info().Str("peer", string(s.Peer)).Str("reason", s.Reason).Dur("duration", s.Duration()).Msg("call summary")
		}),
	)

	if *callee != "" {
		if err := agent.Call(domain.UserID(*callee)); err != nil {
			log.Fatal().Err(err).Msg("call")
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = agent.Hangup()
			return
		case env, ok := <-sc.Events():
			if !ok {
				log.Warn().Msg("server closed the connection")
				return
			}
			if !strings.HasPrefix(env.Type, "call:") {
				log.Info().Str("type", env.Type).RawJSON("payload", orEmpty(env.Payload)).Msg("event")
				continue
			}
			if err := agent.HandleEvent(env); err != nil {
				log.Warn().Err(err).Str("type", env.Type).Msg("call event")
				continue
			}
			if env.Type == domain.EventCallOffer && *accept {
				if err := agent.Accept(); err != nil {
					log.Warn().Err(err).Msg("accept")
				}
			}
		}
	}
}

func orEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
