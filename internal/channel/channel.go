// Package channel holds the provider adapters that implement
// routing.Dispatcher, one subpackage per provider.
package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/pager/internal/routing"
)

// ByAddress picks an adapter from the shape of the destination address:
// topic ARNs go to topic, anything else to direct. Either may be nil when
// that kind of address is not deployed.
func ByAddress(topic, direct routing.Dispatcher) routing.Dispatcher {
	return routing.DispatcherFunc(func(ctx context.Context, dest routing.Destination, msg routing.Message) error {
		d := direct
		kind := "direct"
		if strings.HasPrefix(strings.TrimSpace(dest.Address), "arn:") {
			d, kind = topic, "topic"
		}
		if d == nil {
			return fmt.Errorf("%s: no %s adapter deployed for destination %s", dest.Channel, kind, dest.Masked())
		}
		return d.Send(ctx, dest, msg)
	})
}
