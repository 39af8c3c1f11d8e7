package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	sse "github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"
)

// listUsers subscribes to the server-push stream at GET /api/users and
// decodes one user per event. The accumulated batch is emitted once when the
// stream terminates. A clean end-of-stream and a transport error both end the
// stream the same way and both yield the batch read so far. Reconnecting is
// not done here; it belongs to the resilience layer around the producer.
func (self *UserApi) listUsers(ctx context.Context) ([]*User, error) {
	logDrop := LogFn(LogLevelInfo, "[sse]")

	client := sse.NewClient(fmt.Sprintf("%s/api/users", self.apiUrl))
	client.Connection = self.pushClient
	client.ReconnectStrategy = &backoff.StopBackOff{}

	users := []*User{}
	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		user := &User{}
		if err := json.Unmarshal(msg.Data, user); err != nil {
			// drop the malformed item. The stream stays alive.
			logDrop("drop malformed event = %s", err)
			return
		}
		users = append(users, user)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		glog.V(1).Infof("[sse]stream ended = %s\n", err)
	}
	return users, nil
}
