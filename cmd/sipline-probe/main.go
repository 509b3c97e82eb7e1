// Command sipline-probe is a small smoke-test client for sipcore: it
// registers one account, optionally places a call, and prints every
// registration/call/transport event it observes until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/sipcore"
)

func main() {
	var (
		wsURL    = flag.String("ws", "wss://127.0.0.1:8443/ws", "WebSocket URL of the SIP registrar")
		domain   = flag.String("domain", "example.com", "SIP domain")
		username = flag.String("user", "alice", "Username")
		password = flag.String("pass", "", "Password")
		target   = flag.String("call", "", "Target to call after registering, e.g. sip:bob@example.com (empty: skip)")
		debug    = flag.Bool("debug", false, "Enable debug-level logging")
	)
	flag.Parse()

	logger := obslog.New()
	if *debug {
		logger.SetLevel(obslog.LevelDebug)
	}

	cfg := sipcore.DefaultConfig()
	cfg.DefaultWebSocketURL = *wsURL
	cfg.DefaultDomain = *domain
	cfg.Logger = logger

	core := sipcore.New(cfg)

	regEvents, unsubReg := core.Registrations()
	defer unsubReg()
	callEvents, unsubCall := core.CallEvents()
	defer unsubCall()
	incoming, unsubIncoming := core.IncomingCalls()
	defer unsubIncoming()
	transportEvents, unsubTransport := core.TransportEvents()
	defer unsubTransport()

	go watch(regEvents, callEvents, incoming, transportEvents)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := core.Register(ctx, sipcore.AccountParams{
		Username: *username,
		Password: *password,
		Domain:   *domain,
	}); err != nil {
		log.Fatalf("register: %v", err)
	}
	fmt.Printf("registering %s@%s via %s\n", *username, *domain, *wsURL)

	if *target != "" {
		go func() {
			time.Sleep(500 * time.Millisecond)
			callID, err := core.MakeCall(ctx, *target, *username, *domain)
			if err != nil {
				fmt.Printf("makeCall failed: %v\n", err)
				return
			}
			fmt.Printf("call %s placed to %s\n", callID, *target)
		}()
	}

	<-ctx.Done()
	fmt.Println("shutting down")
	_ = core.Unregister(context.Background(), *username, *domain)
}

func watch(
	regEvents <-chan sipcore.RegistrationEvent,
	callEvents <-chan sipcore.CallEvent,
	incoming <-chan sipcore.IncomingCallEvent,
	transportEvents <-chan sipcore.TransportEvent,
) {
	for {
		select {
		case ev, ok := <-regEvents:
			if !ok {
				return
			}
			fmt.Printf("[registration] %s -> %s\n", ev.AccountKey, ev.State)
		case ev, ok := <-callEvents:
			if !ok {
				return
			}
			fmt.Printf("[call] %s -> %s\n", ev.CallID, ev.State)
		case ev, ok := <-incoming:
			if !ok {
				return
			}
			fmt.Printf("[incoming] %s from %s\n", ev.CallID, ev.From)
		case ev, ok := <-transportEvents:
			if !ok {
				return
			}
			if ev.Open {
				fmt.Printf("[transport] %s open\n", ev.AccountKey)
			} else {
				fmt.Printf("[transport] %s closed: %v\n", ev.AccountKey, ev.Err)
			}
		}
	}
}
