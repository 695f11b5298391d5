// Command jazzd is a demo node binary: it creates a fresh account on every
// start, serves the sync protocol over WebSocket, and persists everything it
// sees to a local SQLite store (spec §6 storage/transport adapters).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/spf13/cobra"

	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/node"
	"github.com/fubhy/jazz/storage"
	"github.com/fubhy/jazz/syncmanager"
	"github.com/fubhy/jazz/transport/ws"
)

var (
	dbPath   string
	listen   string
	name     string
	dialPeer string
)

func main() {
	logger.New("INFO")

	root := &cobra.Command{
		Use:   "jazzd",
		Short: "run a jazz node serving the gossip sync protocol",
		RunE:  run,
	}
	root.Flags().StringVar(&dbPath, "db", "jazzd.db", "sqlite database path")
	root.Flags().StringVar(&listen, "listen", ":4200", "address to serve the sync websocket on")
	root.Flags().StringVar(&name, "name", "jazzd", "account profile name for a newly created account")
	root.Flags().StringVar(&dialPeer, "peer", "", "ws:// URL of another node to sync with")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.Sugar.WithServiceName("jazzd")

	store, err := storage.OpenSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("jazzd: open store: %w", err)
	}

	locker := node.NewInMemorySessionLocker(ids.AgentID(name), 1)
	n, err := node.WithNewlyCreatedAccount(log, locker, node.NewAccountOptions{Name: name})
	if err != nil {
		return fmt.Errorf("jazzd: create account: %w", err)
	}
	defer n.Done()

	n.AddStorePeer(ctx, "local-storage", store)

	http.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		channel, err := ws.Upgrade(log, w, r)
		if err != nil {
			log.Debugf("jazzd: upgrade: %v", err)
			return
		}
		n.AddPeer(r.RemoteAddr, syncmanager.RolePeer, channel)
	})

	if dialPeer != "" {
		channel, err := ws.Dial(ctx, log, dialPeer)
		if err != nil {
			return fmt.Errorf("jazzd: dial %s: %w", dialPeer, err)
		}
		n.AddPeer(dialPeer, syncmanager.RoleServer, channel)
	}

	log.Debugf("jazzd: account %s listening on %s", n.AccountID(), listen)
	return http.ListenAndServe(listen, nil)
}
