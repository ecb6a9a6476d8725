package grades

import (
	"context"

	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/sirupsen/logrus"
)

// Sweep relays every known sheet and then every known exam of every
// server, returning the number of scores the LMSes accepted. A server
// whose credentials fail is skipped, as is any activity whose scores
// cannot be read.
func (r *Relay) Sweep(ctx context.Context, clientFor wims.ClientFunc) (int, error) {
	servers, err := r.Store.ListServers(0)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, srv := range servers {
		log := r.log().WithField("server", srv.ID)
		client := clientFor(srv)
		info, err := client.CheckIdent(ctx)
		if err != nil {
			log.WithError(err).Warn("skipping WIMS server in grade sweep")
			continue
		}

		for _, kind := range ActivityKinds {
			activities, err := r.Store.ListActivities(srv.ID, kind)
			if err != nil {
				return total, err
			}
			for _, activity := range activities {
				if err := ctx.Err(); err != nil {
					return total, err
				}
				n, err := r.RelayActivity(ctx, client, info, srv, activity)
				total += n
				if err != nil {
					log.WithError(err).WithFields(logrus.Fields{
						"kind":     kind,
						"activity": activity.RemoteActivityID,
					}).Warn("could not relay activity grades")
				}
			}
		}
	}
	return total, nil
}
