package pool_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/steadycore/pool"
)

type session struct{ id int }

func ExampleWithValue() {
	next := 0
	p, err := pool.New[*session](pool.Funcs[*session]{
		CreateFn: func(ctx context.Context) (*session, error) {
			next++
			return &session{id: next}, nil
		},
	}, pool.Config{Name: "sessions", Max: 2, SweepInterval: -1})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer p.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id, _ := pool.WithValue(ctx, p, func(ctx context.Context, s *session) (int, error) {
			return s.id, nil
		})
		fmt.Println("session", id)
	}
	fmt.Println("created:", p.Stats().Created)
	// Output:
	// session 1
	// session 1
	// session 1
	// created: 1
}
