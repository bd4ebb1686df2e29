package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// NewClient connects to the cluster and checks that an endpoint answers before returning.
// The client is the process-wide storage handle; build it once and inject it.
func NewClient(ctx context.Context, endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	statusCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := cli.Status(statusCtx, endpoints[0]); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("etcd endpoint %s not reachable: %w", endpoints[0], err)
	}
	return cli, nil
}
