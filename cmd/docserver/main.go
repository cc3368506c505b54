// Command docserver runs the collaborative document sync server (spec
// §4, §6). It wires a Postgres-backed journal, an in-memory session
// manager, and the WebSocket transport together, the same assembly
// role the teacher's cmd entrypoint gives NewRepository/NewServer.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/comail/colog"
	"github.com/doctree/syncserver/docsession"
	"github.com/doctree/syncserver/journal"
	"github.com/doctree/syncserver/server"
)

func main() {
	colog.Register()
	colog.SetMinLevel(colog.LDebug)

	var (
		dbHost         = flag.String("db-host", "localhost", "PostgreSQL host name")
		dbPort         = flag.Int("db-port", 5432, "PostgreSQL port")
		dbUser         = flag.String("db-user", "docserver", "PostgreSQL user")
		dbPassword     = flag.String("db-password", "", "PostgreSQL password")
		dbName         = flag.String("db-name", "docserver", "PostgreSQL database name")
		dbSchema       = flag.String("db-schema", "public", "PostgreSQL schema search path")
		dbMaxOpenConns = flag.Int("db-max-open-conns", 16, "maximum open PostgreSQL connections")
		dbMaxIdleConns = flag.Int("db-max-idle-conns", 4, "maximum idle PostgreSQL connections")
	)
	flag.Parse()

	port := flag.Arg(0)
	if port == "" {
		log.Print("alert: Missing required port argument. usage: docserver [flags] <port>")
		os.Exit(2)
	}

	store, err := journal.NewPGStore(&journal.PGConfig{
		DBHostName:     *dbHost,
		DBPort:         *dbPort,
		DBUser:         *dbUser,
		DBPassword:     *dbPassword,
		DBName:         *dbName,
		DBSchema:       *dbSchema,
		DBMaxOpenConns: *dbMaxOpenConns,
		DBMaxIdleConns: *dbMaxIdleConns,
	})
	if err != nil {
		log.Fatalf("alert: Failed to initialize journal store. err: %v", err)
	}

	manager := docsession.NewManager(store)
	srv := server.New(manager)

	addr := ":" + port
	log.Printf("info: Listening. addr: %s", addr)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Fatalf("alert: Server exited. err: %v", err)
	}
}
