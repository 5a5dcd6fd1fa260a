package grpc

import (
	"context"
	"time"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls archive.v1.ArchiveService. It is meant for services that read
// the archive; the bot itself only serves.
type Client struct {
	conn          *grpc.ClientConn
	serverAddress string
	timeout       time.Duration
}

// NewClient creates a plaintext client. Extra options are appended to the defaults.
func NewClient(serverAddress string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(serverAddress, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, serverAddress: serverAddress, timeout: timeout}, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCurrentMessages fetches one page of a channel. cursor may be empty.
func (c *Client) ListCurrentMessages(ctx context.Context, channelID, cursor string, limit int) (*structpb.Struct, error) {
	req := map[string]any{"channel_id": channelID}
	if cursor != "" {
		req["cursor"] = cursor
	}
	if limit > 0 {
		req["limit"] = limit
	}
	return c.invoke(ctx, MethodListCurrentMessages, req)
}

func (c *Client) ListRevisions(ctx context.Context, messageID string) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListRevisions, map[string]any{"message_id": messageID})
}
