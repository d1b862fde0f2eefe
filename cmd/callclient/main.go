// Command callclient joins a call room as a headless participant. It reads commands
// from stdin: webcam, call, hangup, state, quit.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mossy-p/tutor-call/config"
	"github.com/mossy-p/tutor-call/internal/call"
	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/mossy-p/tutor-call/internal/middleware"
	"github.com/mossy-p/tutor-call/internal/signaling"
)

const actionTimeout = 30 * time.Second

func main() {
	cfg := config.LoadClient()

	logger, _ := zap.NewDevelopment()
	if cfg.Environment == "production" {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	if cfg.RoomID == "" || cfg.AuthToken == "" {
		logger.Fatal("ROOM_ID and AUTH_TOKEN are required")
	}

	factory, err := media.NewPionFactory()
	if err != nil {
		logger.Fatal("failed to create peer connection factory", zap.Error(err))
	}
	capturer := media.DefaultCapturer(logger)

	member, err := memberID(cfg.AuthToken, cfg.Device)
	if err != nil {
		logger.Fatal("invalid AUTH_TOKEN", zap.Error(err))
	}

	transport := signaling.NewWebSocketTransport(cfg.ServerURL, cfg.AuthToken, logger.Named("signaling"))
	channel := signaling.NewChannelWithMember(transport, member, logger.Named("signaling"))

	manager := call.NewManager(channel, func(l *zap.Logger) *media.Session {
		return media.NewSession(media.SessionConfig{
			ICEServers: cfg.Call.ICEServers,
			Capturer:   capturer,
			Factory:    factory,
			LocalSink:  &previewSink{logger: l},
			RemoteSink: newRTPDrain(l),
		}, l)
	}, call.Options{
		OfferWait:       cfg.Call.OfferWait,
		CandidateBuffer: cfg.Call.CandidateBuffer,
		Observer:        printNotice,
	}, logger)
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	o, err := manager.Join(ctx, cfg.RoomID)
	cancel()
	if err != nil {
		logger.Fatal("failed to join room", zap.String("room", cfg.RoomID), zap.Error(err))
	}
	fmt.Printf("joined room %s as %s\n", cfg.RoomID, channel.MemberID())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-quit:
			return
		case <-o.Done():
			fmt.Println("call closed")
			return
		case line, ok := <-lines:
			if !ok || line == "quit" {
				return
			}
			if err := runCommand(o, line); err != nil {
				fmt.Printf("%s: %v\n", line, err)
			}
		}
	}
}

// memberID derives a stable member ID from the token's user so a restarted client
// takes back its own slot in the room. The relay verifies the token.
func memberID(token, device string) (string, error) {
	claims := &middleware.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", errors.New("token has no user")
	}
	if device == "" {
		return claims.UserID, nil
	}
	return claims.UserID + ":" + device, nil
}

func runCommand(o *call.Orchestrator, cmd string) error {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch cmd {
	case "":
		return nil
	case "webcam":
		return o.StartWebcam(ctx, media.Constraints{Audio: true, Video: true})
	case "call":
		return o.StartCall(ctx)
	case "hangup":
		return o.Hangup(ctx)
	case "state":
		s := o.Snapshot()
		fmt.Printf("state=%s channel=%s peer=%s local=%d remote=%d members=%d pendingOffer=%t buffered=%d\n",
			s.State, s.Channel, s.PeerState, s.ActiveLocalTracks, s.RemoteTracks, s.Members, s.PendingOffer, s.BufferedCandidates)
		if s.LastError != nil {
			fmt.Printf("last error: %v\n", s.LastError)
		}
		return nil
	default:
		return fmt.Errorf("unknown command (webcam, call, hangup, state, quit)")
	}
}

func printNotice(n call.Notice) {
	switch {
	case n.Err != nil:
		fmt.Printf("[%s] %s\n", n.State, n.Err)
	case n.Reason != "":
		fmt.Printf("[%s] %s\n", n.State, n.Reason)
	default:
		fmt.Printf("[%s]\n", n.State)
	}
}
