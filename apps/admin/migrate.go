package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/bursar/storage/database"
)

var (
	gooseRunFunc = database.Run // mockable

	errNoSQLStore = errors.New("migrations only apply to the postgres engine")
)

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	if cli.store.SQL == nil {
		return errNoSQLStore
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(ctx, cli.store.SQL, args[0], arguments...)
}
