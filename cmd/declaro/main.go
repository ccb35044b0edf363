package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/declaro/internal/buildinfo"
	"github.com/dmitrijs2005/declaro/internal/client/cli"
	"github.com/dmitrijs2005/declaro/internal/client/config"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp loads the layered config from the raw arguments and creates the
// App. The caller must defer app.Close().
func newApp(ctx context.Context) (*cli.App, error) {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	a, err := cli.NewApp(ctx, cfg, cli.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "declaro",
	Short:        "Offline-first client for the declarations portal",
	SilenceUsage: true,
	RunE:         runConsole,
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive administration console",
	RunE:  runConsole,
}

func runConsole(cmd *cobra.Command, _ []string) error {
	buildinfo.PrintBuildData(os.Stdout)

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	a.Run(cmd.Context())
	return nil
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "File a complaint or a loss report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		in := models.DeclarationInput{}
		in.DeclarantName, _ = f.GetString("name")
		in.Phone, _ = f.GetString("phone")
		in.Email, _ = f.GetString("email")
		kind, _ := f.GetString("type")
		in.Type = models.DeclarationType(kind)
		in.Category, _ = f.GetString("category")
		in.Description, _ = f.GetString("description")
		in.Location, _ = f.GetString("location")
		in.Reward, _ = f.GetString("reward")
		if date, _ := f.GetString("date"); date != "" {
			t, err := time.ParseInLocation("2006-01-02", date, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --date %q, use YYYY-MM-DD", date)
			}
			in.IncidentDate = t
		}
		cover, _ := f.GetString("cover")
		files, _ := f.GetStringSlice("attach")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.Submit(cmd.Context(), in, cover, files)
		return err
	},
}

var tipCmd = &cobra.Command{
	Use:   "tip <tracking-code>",
	Short: "Add a tip to a declaration filed from this device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		in := models.TipInput{}
		in.TipsterPhone, _ = f.GetString("phone")
		in.Description, _ = f.GetString("description")
		files, _ := f.GetStringSlice("attach")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.SubmitTip(cmd.Context(), args[0], in, files)
		return err
	},
}

var trackCmd = &cobra.Command{
	Use:   "track <tracking-code>",
	Short: "Show the public status of a declaration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.TrackCode(cmd.Context(), args[0])
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay writes queued while offline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Flush(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		buildinfo.PrintBuildData(cmd.OutOrStdout())
	},
}

func init() {
	// Parsed by the config package; declared here so cobra accepts them.
	pf := rootCmd.PersistentFlags()
	pf.StringP("api", "a", "", "base URL of the portal API")
	pf.IntP("interval", "i", 0, "online check interval in seconds")
	pf.IntP("timeout", "t", 0, "request timeout in seconds")
	pf.StringP("db", "d", "", "cache database path")
	pf.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	pf.StringP("config", "c", "", "JSON config file")
	pf.StringP("env-file", "e", "", "dotenv file (default ./.env)")

	sf := submitCmd.Flags()
	sf.String("name", "", "declarant full name")
	sf.String("phone", "", "declarant phone, +228XXXXXXXX")
	sf.String("email", "", "declarant email")
	sf.String("type", string(models.TypeComplaint), "plainte or perte")
	sf.String("category", "", "category")
	sf.String("description", "", "what happened")
	sf.String("date", "", "incident date, YYYY-MM-DD")
	sf.String("location", "", "where it happened")
	sf.String("reward", "", "offered reward (loss reports)")
	sf.String("cover", "", "cover image file")
	sf.StringSlice("attach", nil, "attachment files")

	tf := tipCmd.Flags()
	tf.String("phone", "", "your phone, +228XXXXXXXX")
	tf.String("description", "", "what you know")
	tf.StringSlice("attach", nil, "attachment files")

	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(tipCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}
