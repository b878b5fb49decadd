package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hohice/mysql-replay-module/config"
	"github.com/hohice/mysql-replay-module/pkg/codec"
	"github.com/hohice/mysql-replay-module/pkg/host"
	"github.com/hohice/mysql-replay-module/pkg/mysqlplugin"
	"github.com/hohice/mysql-replay-module/pkg/session"
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic capture through the replay module and narrate the renew splice",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenario(v)
		},
	}

	flags := runCmd.Flags()
	flags.String("config", "", "path to a module configuration file (overrides --user/--test-user/--test-password)")
	flags.String("user", "root", "production user name the synthetic client presents")
	flags.String("test-user", "alice", "test-server user name the module should substitute")
	flags.String("test-password", "secret", "test-server password the module should authenticate with")
	flags.Bool("legacy-auth", false, "simulate the server requesting the pre-4.1 old_password second auth")
	flags.Bool("verbose", false, "pretty-print session state and every spliced packet as it is emitted")

	_ = v.BindPFlags(flags)
	return runCmd
}

func runScenario(v *viper.Viper) error {
	verbose := v.GetBool("verbose")
	legacyAuth := v.GetBool("legacy-auth")

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("replaysim: build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	connID := uuid.New().String()
	logger = logger.With(zap.String("connection_id", connID))

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	sink := newNarrateSink(verbose)
	plugin := mysqlplugin.New(sink, logger)
	if err := plugin.Init(cfg); err != nil {
		return fmt.Errorf("replaysim: init module: %w", err)
	}
	defer plugin.Exit()

	sessionKey := host.Key(GetSessionKey())
	sess := &host.Session{Key: sessionKey, CreatedAt: time.Now()}
	plugin.OnSessionCreate(sess)
	st := sess.Data.(*session.State)

	now := time.Unix(1_700_000_000, 0)

	fmt.Println(color.GreenString("[1/4] replaying server greeting"))
	var scramble [codec.ScrambleLength]byte
	for i := range scramble {
		scramble[i] = byte(i + 1)
	}
	if code := plugin.ProcGreet(st, buildGreeting(scramble)); code != host.OK {
		return fmt.Errorf("replaysim: greeting rejected")
	}

	fmt.Println(color.GreenString("[2/4] rewriting client auth for user %q", v.GetString("user")))
	rewritten, code := plugin.ProcAuth(sessionKey, st, sess, host.IPHeader{}, host.TCPHeader{Seq: 100}, buildFirstAuth(v.GetString("user")), now)
	if code != host.PackContinue {
		return fmt.Errorf("replaysim: first-auth rewrite failed (%v): is %q configured in --user?", code, v.GetString("user"))
	}
	rewrittenUser, _ := codec.ExtractUsername(rewritten)
	fmt.Printf("      -> client now presents user %q to the test server\n", rewrittenUser)

	if legacyAuth {
		fmt.Println(color.GreenString("[2b/4] server requested legacy old_password auth"))
		plugin.CheckNeededForSecAuth(st, []byte{0xfe})
		if _, code := plugin.ProcAuth(sessionKey, st, sess, host.IPHeader{}, host.TCPHeader{Seq: 150}, make([]byte, codec.Seed323Length), now); code != host.PackContinue {
			return fmt.Errorf("replaysim: second-auth rewrite failed")
		}
	}

	fmt.Println(color.GreenString("[3/4] capturing PREPARE \"SELECT 1\""))
	prepareTCP := host.TCPHeader{Seq: 1000}
	prepareCode := plugin.CheckPackNeededForRecons(st, sess, sessionKey, host.IPHeader{}, prepareTCP, buildPrepare("SELECT 1"), now)
	if prepareCode != host.PackContinue {
		return fmt.Errorf("replaysim: PREPARE capture was refused")
	}

	fmt.Println(color.GreenString("[4/4] EXECUTE arrives; checking whether the session needs renewal"))
	execute := buildExecute(1)
	if !plugin.CheckRenewSession(sessionKey, 0, execute[0]) {
		fmt.Println(color.YellowString("      no renewal needed"))
	} else {
		liveTCP := &host.TCPHeader{Seq: 5000}
		fmt.Printf("      renewal needed: splicing cached auth/PS ahead of live seq=%d\n", liveTCP.Seq)
		if err := plugin.PrepareForRenewSession(st, sessionKey, sess, liveTCP); err != nil {
			return fmt.Errorf("replaysim: splice failed: %w", err)
		}
		fmt.Printf("      live packet re-sequenced to seq=%d\n", liveTCP.Seq)
	}

	fmt.Println()
	fmt.Println(color.CyanString("spliced packets:"))
	sink.renderSummary(cmdStdout())

	if verbose {
		fmt.Println()
		fmt.Println(color.CyanString("final session state:"))
		printer := pp.New()
		printer.WithLineInfo = false
		printer.Println(st)
	}

	plugin.OnSessionDestroy(sessionKey)
	return nil
}

func loadConfig(v *viper.Viper) (config.Config, error) {
	if path := v.GetString("config"); path != "" {
		return config.Load(path)
	}

	cfg := config.Default()
	cfg.User = fmt.Sprintf("%s#%s:%s", v.GetString("user"), v.GetString("test-user"), v.GetString("test-password"))
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
