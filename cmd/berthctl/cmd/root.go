package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moorings/berthhook/internal/config"
	"github.com/moorings/berthhook/internal/db"
	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/tenant"
	"github.com/moorings/berthhook/internal/tenantdb"
)

var (
	cfgFile    string
	dsn        string
	nsqdAddr   string
	tenantID   string
	signingKey string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "berthctl",
	Short: "BerthHook CLI - Operate the BerthHook webhook delivery service",
	Long: `BerthHook CLI (berthctl) is a command line tool for operating the
BerthHook webhook delivery service.

You can use it to manage subscriptions, publish events to the bus, and
inspect delivery status. Every command acts on behalf of exactly one
tenant, given with --tenant.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.berthctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "postgres DSN (default from DB_* env vars)")
	rootCmd.PersistentFlags().StringVar(&nsqdAddr, "nsqd", "", "nsqd TCP address (default from NSQD_TCP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id to act as")
	rootCmd.PersistentFlags().StringVar(&signingKey, "signing-key", "", "bus signing key (overrides BUS_SIGNING_KEY env var)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "operation timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	// Bind flags to viper
	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("nsqd", rootCmd.PersistentFlags().Lookup("nsqd"))
	viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
	viper.BindPFlag("signing-key", rootCmd.PersistentFlags().Lookup("signing-key"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".berthctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("dsn") {
		if s := viper.GetString("dsn"); s != "" {
			dsn = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("nsqd") {
		if s := viper.GetString("nsqd"); s != "" {
			nsqdAddr = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("tenant") {
		if s := viper.GetString("tenant"); s != "" {
			tenantID = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("signing-key") {
		if s := viper.GetString("signing-key"); s != "" {
			signingKey = s
		} else if s := os.Getenv("BUS_SIGNING_KEY"); s != "" {
			signingKey = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// effectiveDSN resolves the connection string: explicit flag first, then
// the DB_* environment.
func effectiveDSN() string {
	if dsn != "" {
		return dsn
	}
	return config.FromEnv().DSN()
}

// effectiveNsqd resolves the nsqd address the same way.
func effectiveNsqd() string {
	if nsqdAddr != "" {
		return nsqdAddr
	}
	return config.FromEnv().NSQ.NsqdTCPAddr
}

// tenantContext returns a timeout-bounded context scoped to --tenant.
func tenantContext() (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, err := tenant.NewContext(ctx, tenantID)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("--tenant is required: %w", err)
	}
	return ctx, cancel, nil
}

// openDB connects to postgres and wraps the pool in the tenant-scoped
// data layer.
func openDB(ctx context.Context) (*tenantdb.DB, func(), error) {
	pool, err := db.Connect(ctx, effectiveDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	return tenantdb.New(pool, false, logging.NewWithWriter("berthctl", os.Stderr)), pool.Close, nil
}

// printOutput prints the response in the requested format.
func printOutput(v any) {
	if outputJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%+v\n", v)
}
