package config

import (
	"flag"
	"os"
	"time"

	"github.com/okulov/vaultsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   base URL of the sync server
//	-f string   path to the local vault database
//	-i int      online check interval in seconds
//
// os.Args is filtered through flagx.FilterArgs so unknown flags owned by
// other components do not trip this flag set.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the sync server")
	fs.StringVar(&cfg.DatabasePath, "f", cfg.DatabasePath, "path to the local vault database")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
