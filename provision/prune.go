package provision

import (
	"context"
	"errors"

	"github.com/russross/wimslti/store"
	"github.com/russross/wimslti/wims"
)

// PruneClasses deletes every class mapping whose remote class no longer
// exists and returns how many were removed. A server that cannot be
// reached is skipped; other per-class errors are logged and skipped.
func (e *Engine) PruneClasses(ctx context.Context, clientFor wims.ClientFunc) (int, error) {
	servers, err := e.Store.ListServers(0)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, srv := range servers {
		log := e.log().WithField("server", srv.ID)
		classes, err := e.Store.ListClasses(srv.ID, 0)
		if err != nil {
			return pruned, err
		}
		client := clientFor(srv)

	classLoop:
		for _, class := range classes {
			if err := ctx.Err(); err != nil {
				return pruned, err
			}
			clog := log.WithField("qclass", class.RemoteClassID)
			_, err := client.GetClass(ctx, class.RemoteClassID, srv.RClass)
			var transportErr *wims.TransportError
			switch {
			case err == nil:
			case wims.IsNotExisting(err):
				if err := e.Store.DeleteClass(class.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
					clog.WithError(err).Error("could not delete stale class mapping")
					continue
				}
				clog.Info("pruned class deleted from the WIMS server")
				pruned++
			case errors.As(err, &transportErr):
				log.WithError(err).Warn("WIMS server unreachable, skipping its classes")
				break classLoop
			default:
				clog.WithError(err).Warn("could not check class")
			}
		}
	}
	return pruned, nil
}
