package hookrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hallpass/internal/gatekeeper"
)

// Client calls a NavigationHook server. The hook is loopback-only, so the
// connection is plaintext.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NavigationCompleted reports a navigation and returns the gate's decision.
func (c *Client) NavigationCompleted(ctx context.Context, ev gatekeeper.NavigationEvent) (gatekeeper.Decision, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, NavigationCompletedMethod, EventToStruct(ev), out); err != nil {
		return gatekeeper.Decision{}, err
	}
	return StructToDecision(out)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
