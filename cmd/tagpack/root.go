package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/tagpack"
	"github.com/meigma/tagpack/cache"
	"github.com/meigma/tagpack/cache/disk"
	tagpackhttp "github.com/meigma/tagpack/http"
)

const (
	envPrefix = "TAGPACK"

	logLevelKey     = "log-level"
	concurrencyKey  = "concurrency"
	maxIndexSizeKey = "max-index-size"
	cacheDirKey     = "cache-dir"
	syncKey         = "sync"
	digestKey       = "digest"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "tagpack",
		Short: "Tagged section container tool",
		Long: `tagpack stores named byte sections in a single file with a trailing index.
Containers can be read from local paths or http(s) URLs serving range requests.`,
		RunE:              a.entryPoint,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	pf := root.PersistentFlags()
	pf.String(logLevelKey, "warn", "Log level (debug, info, warn, error)")
	pf.Int(concurrencyKey, 4, "Number of sections read in parallel")
	pf.Uint64(maxIndexSizeKey, tagpack.DefaultMaxIndexSize, "Largest index accepted when reading, 0 for no limit")
	pf.String(cacheDirKey, "", "Directory caching sections of remote containers, in memory when empty")
	root.Flags().Bool("version", false, "Application version")

	root.AddCommand(
		a.packCommand(),
		a.addCommand(),
		a.patchCommand(),
		a.lsCommand(),
		a.catCommand(),
		a.extractCommand(),
		a.verifyCommand(),
	)
	return root
}

func (a *app) entryPoint(cmd *cobra.Command, _ []string) error {
	printVersion, _ := cmd.Flags().GetBool("version")
	if printVersion {
		cmd.Printf("tagpack %s\n", Version)
		return nil
	}
	return cmd.Usage()
}

// setup binds flags into viper and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString(logLevelKey))); err != nil {
		return exitErr{code: 2, cause: fmt.Errorf("invalid %s: %w", logLevelKey, err)}
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

func isURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

// openContainer opens a local container or one served over HTTP.
// Remote sections are cached in --cache-dir, or in memory for the life of
// the command.
func (a *app) openContainer(cmd *cobra.Command, target string) (*tagpack.Reader, error) {
	opts := []tagpack.Option{
		tagpack.WithLogger(a.log()),
		tagpack.WithMaxIndexSize(a.v.GetUint64(maxIndexSizeKey)),
		tagpack.WithReadConcurrency(a.v.GetInt(concurrencyKey)),
	}
	if !isURL(target) {
		return tagpack.OpenFile(target, opts...)
	}

	src, err := tagpackhttp.NewSource(cmd.Context(), target, tagpackhttp.WithLogger(a.log()))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", target, err)
	}
	c, err := a.sectionCache()
	if err != nil {
		return nil, err
	}
	return tagpack.New(src, append(opts, tagpack.WithCache(c))...)
}

func (a *app) sectionCache() (cache.Cache, error) {
	if dir := a.v.GetString(cacheDirKey); dir != "" {
		return disk.New(dir, disk.WithLogger(a.log()))
	}
	return cache.NewMemory()
}

func (a *app) writerOptions() []tagpack.WriterOption {
	return []tagpack.WriterOption{
		tagpack.WithWriterLogger(a.log()),
		tagpack.WithSync(a.v.GetBool(syncKey)),
	}
}
