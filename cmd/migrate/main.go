// Command migrate applies or rolls back the embedded bookshelf schema migrations.
//
//	BOOKSHELF_DATABASE_URL=postgres://... migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"

	"bookshelf/cmd/internal/app"
	"bookshelf/cmd/internal/db"
)

func main() {
	direction := flag.String("direction", db.Up, "migration direction: up, or down to roll back one step")
	flag.Parse()

	log := app.NewLogger(app.EnvString("BOOKSHELF_LOG_LEVEL", "info"), app.EnvString("BOOKSHELF_LOG_FORMAT", "json"))
	if err := db.Migrate(app.EnvString("BOOKSHELF_DATABASE_URL", ""), *direction, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
