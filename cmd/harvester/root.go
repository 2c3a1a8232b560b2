package main

import (
	"github.com/Sternrassler/wdqs-harvester/pkg/config"
	"github.com/Sternrassler/wdqs-harvester/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// options are the flags shared by every command. Flags only override the
// loaded configuration when set explicitly.
type options struct {
	configFile string
	logLevel   string
	logPretty  bool

	endpoint       string
	userAgent      string
	rawDir         string
	processedDir   string
	partitionsFile string
	peopleTmpl     string
	partitionsTmpl string
	redisAddr      string
	ledgerPath     string
	rps            float64
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "harvester",
		Short: "Resilient paginated SPARQL harvester",
		Long: `harvester pages through a SPARQL endpoint one partition at a time,
checkpointing each partition to its own CSV file. Capacity failures halve the
page size and resume from the last good offset; partitions that keep failing
are abandoned and listed in a failure report. Completed partitions are skipped
on later runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.BoolVar(&opts.logPretty, "log-pretty", false, "human-readable console logs")
	pf.StringVar(&opts.endpoint, "endpoint", "", "SPARQL endpoint URL")
	pf.StringVar(&opts.userAgent, "user-agent", "", "User-Agent sent with every request")
	pf.StringVar(&opts.rawDir, "raw-dir", "", "directory of per-partition files")
	pf.StringVar(&opts.processedDir, "processed-dir", "", "directory of consolidated output")
	pf.StringVar(&opts.partitionsFile, "partitions-file", "", "partition descriptor CSV (occ_id,occ_label)")
	pf.StringVar(&opts.peopleTmpl, "people-template", "", "paged query template file ({OCC_ID}, {LIMIT}, {OFFSET})")
	pf.StringVar(&opts.partitionsTmpl, "partitions-template", "", "partition enumeration query file")
	pf.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for the shared cooldown and cache")
	pf.StringVar(&opts.ledgerPath, "ledger", "", "SQLite run ledger path")
	pf.Float64Var(&opts.rps, "rps", 0, "maximum requests per second across workers (0 = unlimited)")

	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newHarvestCmd(opts),
		newConsolidateCmd(opts),
		newPartitionsCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// loadConfig layers the flags over the file and environment configuration,
// validates it and configures logging.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	setString(flags, "log-level", &cfg.Logging.Level, opts.logLevel)
	if flags.Changed("log-pretty") {
		cfg.Logging.Pretty = opts.logPretty
	}
	setString(flags, "endpoint", &cfg.Endpoint, opts.endpoint)
	setString(flags, "user-agent", &cfg.UserAgent, opts.userAgent)
	setString(flags, "raw-dir", &cfg.Storage.RawDir, opts.rawDir)
	setString(flags, "processed-dir", &cfg.Storage.ProcessedDir, opts.processedDir)
	setString(flags, "partitions-file", &cfg.Storage.PartitionsFile, opts.partitionsFile)
	setString(flags, "people-template", &cfg.Storage.PeopleTemplate, opts.peopleTmpl)
	setString(flags, "partitions-template", &cfg.Storage.PartitionsTemplate, opts.partitionsTmpl)
	setString(flags, "redis-addr", &cfg.RedisAddr, opts.redisAddr)
	setString(flags, "ledger", &cfg.Storage.LedgerPath, opts.ledgerPath)
	if flags.Changed("rps") {
		cfg.Client.RequestsPerSecond = opts.rps
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, nil
}

func setString(flags *pflag.FlagSet, name string, dst *string, value string) {
	if flags.Changed(name) {
		*dst = value
	}
}
