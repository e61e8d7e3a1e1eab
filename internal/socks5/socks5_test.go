package socks5

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/textproxy/internal/testutil"
)

func TestClientDial(t *testing.T) {
	tests := []struct {
		name string
		auth Auth
	}{
		{name: "no_auth"},
		{name: "user_pass", auth: Auth{Username: "user", Password: "pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				defer serverConn.Close()
				return testutil.ServeSOCKS5(ctx, serverConn, tt.auth.Username, tt.auth.Password)
			})

			if err := ClientDial(clientConn, tt.auth, echoLn.Addr().String()); err != nil {
				t.Fatal(err)
			}
			testutil.AssertEcho(t, clientConn, clientConn, []byte("hello"))

			_ = clientConn.Close()
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientDialAuthRequired(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
			return
		}
		_, _ = txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(serverConn)
	}()

	err := ClientDial(clientConn, Auth{}, "127.0.0.1:80")
	if !errors.Is(err, errAuthRequired) {
		t.Fatalf("expected errAuthRequired, got %v", err)
	}
}

func TestClientDialReplyError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
			return
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(serverConn); err != nil {
			return
		}
		if _, err := txsocks5.NewRequestFrom(serverConn); err != nil {
			return
		}
		_, _ = txsocks5.NewReply(txsocks5.RepConnectionRefused, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(serverConn)
	}()

	err := ClientDial(clientConn, Auth{}, "example.test:80")
	var re *ReplyError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ReplyError, got %v", err)
	}
	if re.Rep != txsocks5.RepConnectionRefused {
		t.Fatalf("rep got %#x", re.Rep)
	}
	if re.Error() != "connect failed: connection refused" {
		t.Fatalf("unexpected message %q", re.Error())
	}
}
