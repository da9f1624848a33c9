package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/mlandesman/SAMS-sub020/internal/client"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/config"
	"github.com/mlandesman/SAMS-sub020/internal/crossref"
	"github.com/mlandesman/SAMS-sub020/internal/importer"
	"github.com/mlandesman/SAMS-sub020/internal/journal"
	"github.com/mlandesman/SAMS-sub020/internal/migration"
	"github.com/mlandesman/SAMS-sub020/internal/observability"
	"github.com/mlandesman/SAMS-sub020/internal/server"
	"github.com/mlandesman/SAMS-sub020/internal/yearview"
	"github.com/mlandesman/SAMS-sub020/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	importPath := flag.String("import", "", "run the bulk importer against the given file and exit")
	flag.Parse()

	if *importPath != "" {
		runImport(*importPath)
		return
	}

	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		server.Module,
		migration.Module,
	)
	app.Run()
}

// runImport boots a minimal app without the HTTP server, loads the file,
// and exits. Import is meant to run against a quiescent system.
func runImport(path string) {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		client.Module,
		crossref.Module,
		journal.Module,
		yearview.Module,
		importer.Module,
		migration.Module,
		fx.Invoke(func(im *importer.Importer, log *zap.Logger, shutdowner fx.Shutdowner) error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			summary, err := im.Run(context.Background(), f)
			if err != nil {
				return err
			}
			log.Info("import complete",
				zap.String("client_id", summary.ClientID.String()),
				zap.Int("payments", summary.Payments),
			)
			return shutdowner.Shutdown()
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
