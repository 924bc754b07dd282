package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/chorus/internal/profile"
	"github.com/hrygo/chorus/server"
	"github.com/hrygo/chorus/store"
	"github.com/hrygo/chorus/store/db"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "chorus",
	Short: "A team chat where people and AI agents talk in the same conversations.",
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile, err := loadProfile()
		if err != nil {
			slog.Error("failed to load profile", "error", err)
			os.Exit(1)
		}
		logger := server.NewLogger(os.Stderr, instanceProfile.IsDev())
		slog.SetDefault(logger)

		ctx, cancel := context.WithCancel(context.Background())
		storeInstance, err := openStore(ctx, instanceProfile)
		if err != nil {
			cancel()
			slog.Error("failed to open store", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, logger)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM.
		// The default signal sent by the `kill` command is SIGTERM,
		// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		if err := s.Start(ctx); err != nil {
			cancel()
			slog.Error("failed to start server", "error", err)
			return
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		// Wait for CTRL-C.
		<-ctx.Done()
	},
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)
	viper.SetDefault("persist-retry-delay", time.Second)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("secret", "", "secret signing access tokens")
	rootCmd.PersistentFlags().String("config", "", "YAML file with agents and auto_reply settings")
	rootCmd.PersistentFlags().Bool("render-markdown", true, "render agent markdown to rich text")
	rootCmd.PersistentFlags().Duration("persist-retry-delay", time.Second, "pause before retrying to save an agent reply")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "secret", "config", "render-markdown", "persist-retry-delay"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("chorus")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(tokenCmd, askCmd)
}

// loadProfile builds the profile from flags, CHORUS_ environment variables and
// the optional config file.
func loadProfile() (*profile.Profile, error) {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	p := &profile.Profile{
		Mode:              viper.GetString("mode"),
		Addr:              viper.GetString("addr"),
		Port:              viper.GetInt("port"),
		Data:              viper.GetString("data"),
		Driver:            viper.GetString("driver"),
		DSN:               viper.GetString("dsn"),
		Secret:            viper.GetString("secret"),
		RenderMarkdown:    viper.GetBool("render-markdown"),
		PersistRetryDelay: viper.GetDuration("persist-retry-delay"),
		Version:           version,
	}
	p.FromEnv()

	if err := viper.UnmarshalKey("agents", &p.Agents); err != nil {
		return nil, fmt.Errorf("failed to parse agents: %w", err)
	}
	if err := viper.UnmarshalKey("auto_reply", &p.AutoReply); err != nil {
		return nil, fmt.Errorf("failed to parse auto_reply: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create db driver: %w", err)
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		storeInstance.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return storeInstance, nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Chorus %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Agents: %d\n", len(p.Agents))
	if p.IsAIEnabled() {
		fmt.Printf("Generation: %s (%s)\n", p.AILLMProvider, p.AILLMModel)
	} else {
		fmt.Println("Generation: disabled")
	}
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("Accessing API at: http://localhost:%d/api/v1\n", p.Port)
	} else {
		fmt.Printf("Server running on address %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Accessing API at: http://%s:%d/api/v1\n", p.Addr, p.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
