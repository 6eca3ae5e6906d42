package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Pinger is satisfied by the identity stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger to a CheckFunc.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// ServicesCheck fails when the snapshot reports any downstream service as
// unhealthy. Services that were never probed are not in the snapshot and
// are not counted.
func ServicesCheck(snapshot func() map[string]bool) CheckFunc {
	return func(context.Context) error {
		var down []string
		for name, healthy := range snapshot() {
			if !healthy {
				down = append(down, name)
			}
		}
		if len(down) == 0 {
			return nil
		}
		sort.Strings(down)
		return fmt.Errorf("unhealthy services: %s", strings.Join(down, ", "))
	}
}
