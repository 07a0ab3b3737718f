package app_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app"
)

func TestAdmit(t *testing.T) {
	o, src := newOrch()
	closed := false

	cases := []struct {
		name       string
		req        app.AdmissionRequest
		chatClosed bool
		wantErr    error
		wantStatus int
	}{
		{"ok", app.AdmissionRequest{Path: "/ws", Token: "t1", Name: "alice"}, false, nil, 0},
		{"wrong path", app.AdmissionRequest{Path: "/socket", Token: "t1", Name: "alice"}, false, app.ErrNotFound, http.StatusNotFound},
		{"bad token", app.AdmissionRequest{Path: "/ws", Token: "T1", Name: "alice"}, false, app.ErrUnauthorized, http.StatusUnauthorized},
		{"no token", app.AdmissionRequest{Path: "/ws", Name: "alice"}, false, app.ErrUnauthorized, http.StatusUnauthorized},
		{"empty name", app.AdmissionRequest{Path: "/ws", Token: "t1"}, false, app.ErrForbidden, http.StatusForbidden},
		{"not allowed", app.AdmissionRequest{Path: "/ws", Token: "t2", Name: "bob"}, false, app.ErrForbidden, http.StatusForbidden},
		{"closed", app.AdmissionRequest{Path: "/ws", Token: "t1", Name: "alice"}, true, app.ErrChatClosed, http.StatusServiceUnavailable},
		// Token is checked before the open flag.
		{"closed bad token", app.AdmissionRequest{Path: "/ws", Token: "zz", Name: "alice"}, true, app.ErrUnauthorized, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSettings()
			if tc.chatClosed {
				s.ChatOpen = &closed
			}
			src.set(s)

			room, err := o.Admit(src.Current(), tc.req)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Admit() error = %v", err)
				}
				if room.ID != "R1" {
					t.Errorf("room = %s, want R1", room.ID)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Admit() error = %v, want %v", err, tc.wantErr)
			}
			if got := app.StatusOf(err); got != tc.wantStatus {
				t.Errorf("StatusOf() = %d, want %d", got, tc.wantStatus)
			}
		})
	}

	if o.Registry.CountOf("R1") != 0 {
		t.Error("Admit must not touch the registry")
	}
}

func TestAdmitRateLimited(t *testing.T) {
	o, src := newOrch()
	o.Limiter = app.NewRateLimiter(2, time.Minute)
	req := app.AdmissionRequest{Path: "/ws", Token: "bad", Name: "x", ClientIP: "10.0.0.1"}

	for i := range 2 {
		if _, err := o.Admit(src.Current(), req); !errors.Is(err, app.ErrUnauthorized) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := o.Admit(src.Current(), req); !errors.Is(err, app.ErrRateLimited) {
		t.Fatalf("third attempt: %v, want rate limited", err)
	}

	req.ClientIP = "10.0.0.2"
	if _, err := o.Admit(src.Current(), req); !errors.Is(err, app.ErrUnauthorized) {
		t.Errorf("other address: %v", err)
	}
}

func TestAdmitSuccessesAreNotLimited(t *testing.T) {
	o, src := newOrch()
	o.Limiter = app.NewRateLimiter(2, time.Minute)
	ok := app.AdmissionRequest{Path: "/ws", Token: "t1", Name: "alice", ClientIP: "10.0.0.1"}

	for i := range 10 {
		if _, err := o.Admit(src.Current(), ok); err != nil {
			t.Fatalf("reconnect %d: %v", i, err)
		}
	}

	bad := ok
	bad.Token = "nope"
	for range 2 {
		_, _ = o.Admit(src.Current(), bad)
	}
	if _, err := o.Admit(src.Current(), ok); !errors.Is(err, app.ErrRateLimited) {
		t.Errorf("after failures: %v, want rate limited", err)
	}
}

func TestStatusOfUnknownError(t *testing.T) {
	if got := app.StatusOf(errors.New("x")); got != http.StatusInternalServerError {
		t.Errorf("StatusOf() = %d", got)
	}
}
