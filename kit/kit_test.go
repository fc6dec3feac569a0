package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order: got %v, want %v", order, want)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	errFail := errors.New("fail")

	ep := Logging(log, "reload")(func(context.Context, any) (any, error) { return nil, errFail })
	ctx := WithTraceID(WithTransport(context.Background(), "mcp"), "req_1")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("error not propagated: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"endpoint=reload", "transport=mcp", "trace_id=req_1", "error=fail"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" {
		t.Errorf("transport default: %q", GetTransport(ctx))
	}
	if GetUser(ctx) != "" || GetTraceID(ctx) != "" || GetRemoteAddr(ctx) != "" {
		t.Error("empty context should yield empty values")
	}
	ctx = WithRemoteAddr(WithUser(ctx, "ops"), "10.0.0.1:5000")
	if GetUser(ctx) != "ops" || GetRemoteAddr(ctx) != "10.0.0.1:5000" {
		t.Error("values not stored")
	}
}

func TestRegisterMCPTool(t *testing.T) {
	type echoReq struct {
		Source string `json:"source"`
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	RegisterMCPTool[echoReq](srv, &mcp.Tool{
		Name:        "echo",
		InputSchema: InputSchema(map[string]any{"source": map[string]any{"type": "string"}}, "source"),
	}, func(ctx context.Context, req any) (any, error) {
		r := req.(echoReq)
		if r.Source == "bad" {
			return nil, errors.New("unknown source")
		}
		return map[string]string{"source": r.Source, "transport": GetTransport(ctx)}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, ct := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, st) }()
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"source": "real"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatal(err)
	}
	if got["source"] != "real" || got["transport"] != "mcp" {
		t.Errorf("got %v", got)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"source": "bad"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("endpoint error should be a tool error")
	}
}
