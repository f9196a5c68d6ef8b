// Command relational compiles a declarative entity-selection spec into a
// single SQL statement, using foreign keys reflected from a live database to
// infer the joins. By default it prints the statement; with --execute it runs
// the statement and prints result rows as JSON.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"

	"github.com/andreypopp/relational/internal/compiler"
	"github.com/andreypopp/relational/internal/config"
	"github.com/andreypopp/relational/internal/emitter"
	"github.com/andreypopp/relational/internal/executor"
	"github.com/andreypopp/relational/internal/logging"
	"github.com/andreypopp/relational/internal/reflect"
	"github.com/andreypopp/relational/internal/spec"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relational error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.String("spec", "", "Path to spec file (.json, .yaml)")
	pflag.Bool("execute", false, "Execute the compiled query and print result rows")
	pflag.String("scaffold", "", "Derive a starter spec for the named entity and exit")
	pflag.Bool("version", false, "Print version and exit")
	config.DefineFlags()

	if showVersion := versionRequested(); showVersion {
		fmt.Printf("relational %s (%s)\n", Version, Commit)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	ctx := logging.WithLogger(context.Background(), logger)

	specPath, _ := pflag.CommandLine.GetString("spec")
	scaffoldEntity, _ := pflag.CommandLine.GetString("scaffold")
	execute, _ := pflag.CommandLine.GetBool("execute")

	if specPath == "" && scaffoldEntity == "" {
		return fmt.Errorf("either --spec or --scaffold is required")
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	databaseName, source, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return err
	}
	logger.Debug("reflecting schema", "database", databaseName, "source", source)

	cat, err := reflect.Reflect(ctx, db, databaseName)
	if err != nil {
		return fmt.Errorf("failed to reflect schema: %w", err)
	}

	if scaffoldEntity != "" {
		scaffolded, err := spec.Scaffold(cat, scaffoldEntity)
		if err != nil {
			return err
		}
		out, err := spec.EncodeJSON(scaffolded)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	sp, err := spec.LoadFile(specPath)
	if err != nil {
		return fmt.Errorf("failed to load spec %q: %w", specPath, err)
	}

	var opts []compiler.Option
	if cfg.Compiler.MaxDepth > 0 {
		opts = append(opts, compiler.WithMaxDepth(cfg.Compiler.MaxDepth))
	}
	plan, err := compiler.Compile(cat, sp, opts...)
	if err != nil {
		return fmt.Errorf("failed to compile spec: %w", err)
	}

	query, err := emitter.Emit(plan)
	if err != nil {
		return fmt.Errorf("failed to emit query: %w", err)
	}

	if !execute {
		fmt.Println(query)
		return nil
	}

	rows, err := executor.Run(ctx, executor.NewStandardExecutor(db), plan, query)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// versionRequested parses flags early so --version works without a valid
// configuration or database.
func versionRequested() bool {
	if !pflag.Parsed() {
		pflag.Parse()
	}
	showVersion, _ := pflag.CommandLine.GetBool("version")
	return showVersion
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
