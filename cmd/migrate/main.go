// Command migrate applies the mail schema migrations to the configured
// database. It reads the same db_params.json + PGPASSWORD pair as the
// worker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"mail-messenger/internal/config"
	"mail-messenger/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var migrationsPath string
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.StringVarP(&migrationsPath, "path", "p", "migrations", "migrations directory")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	env, err := config.LoadDBEnv()
	if err != nil {
		return err
	}
	params, err := config.LoadDBParams(env.Home, env.PGPassword)
	if err != nil {
		return err
	}

	database, err := db.Connect(context.Background(), params.DSN(), 2)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database, migrationsPath); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}
