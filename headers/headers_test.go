package headers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]string
		ok   bool
	}{
		{"all lower", map[string]string{"authorization": "Bearer t", "x-member-id": "m", "x-organisation-id": "o"}, true},
		{"mixed case", map[string]string{"Authorization": "Bearer t", "X-Member-Id": "m", "X-Organisation-ID": "o"}, true},
		{"missing org", map[string]string{"authorization": "Bearer t", "x-member-id": "m"}, false},
		{"empty value", map[string]string{"authorization": "", "x-member-id": "m", "x-organisation-id": "o"}, false},
		{"none", map[string]string{"accept": "*/*"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, ok := Match(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok: got %v, want %v", ok, tc.ok)
			}
			if ok && (h.Authorization != "Bearer t" || h.MemberID != "m" || h.OrganisationID != "o") {
				t.Errorf("headers: %+v", h)
			}
		})
	}
}

func TestCollector_FirstMatchWins(t *testing.T) {
	col := newCollector()
	if col.observe(map[string]string{"authorization": "a"}) {
		t.Fatal("partial match should not stop")
	}
	if !col.observe(map[string]string{"authorization": "first", "x-member-id": "m", "x-organisation-id": "o"}) {
		t.Fatal("complete match should stop")
	}
	col.observe(map[string]string{"authorization": "second", "x-member-id": "m", "x-organisation-id": "o"})
	if got := col.result().Authorization; got != "first" {
		t.Errorf("got %q, want first", got)
	}
}

func TestAwait_Timeout(t *testing.T) {
	c := New(Config{SettleDelay: -1, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.await(ctx, newCollector())
	if !errors.Is(err, ErrNoHeaders) {
		t.Fatalf("got %v, want ErrNoHeaders", err)
	}
}

func TestAwait_Cancelled(t *testing.T) {
	c := New(Config{SettleDelay: -1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.await(ctx, newCollector())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestAwait_Found(t *testing.T) {
	c := New(Config{SettleDelay: time.Millisecond})
	col := newCollector()
	go func() {
		time.Sleep(10 * time.Millisecond)
		col.observe(map[string]string{"authorization": "a", "x-member-id": "m", "x-organisation-id": "o"})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := c.await(ctx, col)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if h.MemberID != "m" {
		t.Errorf("member: got %q", h.MemberID)
	}
}

func TestWriteKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "python-scripts", "keys.py")
	h := Headers{Authorization: `Bearer abc"def`, MemberID: "m-1", OrganisationID: "org-9"}
	if err := WriteKeys(path, h); err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 || lines[1] != `X_MEMBER_ID = "m-1"` || lines[2] != `X_ORGANISATION_ID = "org-9"` {
		t.Errorf("content:\n%s", raw)
	}

	got, err := ReadKeys(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != h {
		t.Errorf("round trip: got %+v, want %+v", got, h)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestCapture_Busy(t *testing.T) {
	c := New(Config{})
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.Capture(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
}
