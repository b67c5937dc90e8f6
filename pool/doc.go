// Package pool provides a bounded, generic pool of reusable resources.
//
// A Pool hands out resources created by a Factory, up to Config.Max at a
// time. When all resources are in use, callers queue in FIFO order until a
// resource is released or their acquisition timeout fires.
//
// # Usage
//
//	p, err := pool.New(pool.Funcs[*Conn]{
//	    CreateFn:  func(ctx context.Context) (*Conn, error) { return dial(ctx) },
//	    DestroyFn: func(c *Conn) error { return c.Close() },
//	}, pool.Config{Name: "conns", Max: 8})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	err = pool.WithResource(ctx, p, func(ctx context.Context, c *Conn) error {
//	    return c.Send(ctx, msg)
//	})
//
// # Lifecycle
//
// Idle resources are kept on a LIFO stack so the most recently used one is
// reused first and the rest can age out. A background sweep destroys idle
// resources older than IdleTimeout, as long as at least Min remain, and any
// resource past MaxLifetime. It then tops the pool back up to Min.
//
// Close rejects waiting callers with ErrPoolClosed and destroys idle
// resources. Resources still borrowed are destroyed when released.
package pool
